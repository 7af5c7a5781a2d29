package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	alarmapp "plant-edge/internal/alarms/application"
	alarms "plant-edge/internal/alarms/domain"
	telemetry "plant-edge/internal/telemetry/domain"
)

func openAlarm(t *testing.T) (*alarmapp.Evaluator, alarms.Record) {
	t.Helper()
	rule := alarms.Rule{
		ID:        "high-temp",
		TagID:     "temp",
		Condition: alarms.ConditionGT,
		Threshold: 80,
		Severity:  3,
		Enabled:   true,
	}
	evaluator, err := alarmapp.NewEvaluator([]alarms.Rule{rule}, log.New(os.Stderr, t.Name()+" ", 0))
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	evaluator.Observe(context.Background(), telemetry.Point{
		DeviceID: "dev-1",
		TagID:    "temp",
		TS:       1000,
		Type:     telemetry.TypeFloat64,
		Value:    90.0,
		Quality:  telemetry.QualityGood,
	})
	open := evaluator.OpenAlarms()
	if len(open) != 1 {
		t.Fatalf("expected one open alarm, got %d", len(open))
	}
	return evaluator, open[0]
}

func TestListOpenAlarms(t *testing.T) {
	evaluator, record := openAlarm(t)
	handler, err := NewHandler(evaluator)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed []alarms.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != record.ID {
		t.Fatalf("unexpected list: %+v", listed)
	}
}

func TestAckAndClose(t *testing.T) {
	evaluator, record := openAlarm(t)
	handler, _ := NewHandler(evaluator)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/"+record.ID+"/ack", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ack: expected 200, got %d", rec.Code)
	}
	var acked alarms.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &acked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acked.Status != alarms.StatusAcknowledged {
		t.Fatalf("expected acknowledged, got %s", acked.Status)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/"+record.ID+"/close", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d", rec.Code)
	}
	if len(evaluator.OpenAlarms()) != 0 {
		t.Fatalf("alarm should be gone after close")
	}
}

func TestUnknownAlarmIs404(t *testing.T) {
	evaluator, _ := openAlarm(t)
	handler, _ := NewHandler(evaluator)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alarms/nope/ack", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	evaluator, record := openAlarm(t)
	handler, _ := NewHandler(evaluator)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/alarms", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for DELETE list, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alarms/"+record.ID+"/ack", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET action, got %d", rec.Code)
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := NewSSEBroker()
	a := broker.Subscribe()
	b := broker.Subscribe()
	defer broker.Unsubscribe(b)

	event := alarmapp.Event{
		Type:   "open",
		Record: alarms.Record{ID: "a1", TagID: "temp", Status: alarms.StatusOpen},
	}
	broker.Notify(context.Background(), event)

	for name, ch := range map[string]chan []byte{"a": a, "b": b} {
		select {
		case payload := <-ch:
			var got alarmapp.Event
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Fatalf("client %s: decode: %v", name, err)
			}
			if got.Type != "open" || got.Record.ID != "a1" {
				t.Fatalf("client %s: unexpected event %+v", name, got)
			}
		default:
			t.Fatalf("client %s received nothing", name)
		}
	}

	// Unsubscribed clients stop receiving.
	broker.Unsubscribe(a)
	broker.Notify(context.Background(), event)
	select {
	case <-b:
	default:
		t.Fatalf("live client should keep receiving")
	}
}

func TestBrokerDropsForSlowClient(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	event := alarmapp.Event{Type: "open", Record: alarms.Record{ID: "a1"}}
	// Overflow the client buffer; broadcast must never block.
	for i := 0; i < cap(ch)+10; i++ {
		broker.Notify(context.Background(), event)
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
}
