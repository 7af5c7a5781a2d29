package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	alarmapp "plant-edge/internal/alarms/application"
	alarms "plant-edge/internal/alarms/domain"
)

// Handler exposes the open alarm list and operator ack/close actions
// on the local API.
type Handler struct {
	evaluator *alarmapp.Evaluator
}

// NewHandler constructs an alarm handler.
func NewHandler(evaluator *alarmapp.Evaluator) (*Handler, error) {
	if evaluator == nil {
		return nil, errors.New("alarms http: nil evaluator")
	}
	return &Handler{evaluator: evaluator}, nil
}

// ServeHTTP routes:
//
//	GET  /api/v1/alarms                 list open alarms
//	POST /api/v1/alarms/{id}/ack        acknowledge
//	POST /api/v1/alarms/{id}/close      close
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, h.evaluator.OpenAlarms())
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	id, action := parts[0], parts[1]

	var record *alarms.Record
	var err error
	switch action {
	case "ack":
		record, err = h.evaluator.Acknowledge(r.Context(), id)
	case "close":
		record, err = h.evaluator.Close(r.Context(), id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, alarms.ErrNotFound) {
		http.Error(w, "alarm not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, record)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
