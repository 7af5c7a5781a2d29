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
	"plant-edge/internal/ingest"
	"plant-edge/internal/outbox"
	"plant-edge/internal/processing"
	telemetry "plant-edge/internal/telemetry/domain"
)

func TestStatsHandler(t *testing.T) {
	logger := log.New(os.Stderr, t.Name()+" ", 0)

	processor, err := processing.NewProcessor(processing.Config{Deadband: 1}, logger)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	store, err := outbox.NewStore(outbox.Options{Dir: t.TempDir(), MaxSizeMB: 16}, logger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	channel, err := ingest.NewChannel(10, logger)
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	evaluator, err := alarmapp.NewEvaluator(nil, logger)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	point := telemetry.Point{
		DeviceID: "dev-1",
		TagID:    "temp",
		TS:       1000,
		Type:     telemetry.TypeFloat64,
		Value:    42.0,
		Quality:  telemetry.QualityGood,
	}
	channel.Publish(point)
	processor.Process([]telemetry.Point{point})
	if err := store.Store(context.Background(), []telemetry.Point{point}); err != nil {
		t.Fatalf("store: %v", err)
	}

	handler := NewStatsHandler(processor, store, channel, evaluator)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Processor.TotalReceived != 1 {
		t.Fatalf("unexpected processor stats: %+v", resp.Processor)
	}
	if resp.Outbox.PendingBatches != 1 || resp.Outbox.PendingPoints != 1 {
		t.Fatalf("unexpected outbox stats: %+v", resp.Outbox)
	}
	if resp.Channel.Published != 1 {
		t.Fatalf("unexpected channel stats: %+v", resp.Channel)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stats", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rec.Code)
	}
}
