package http

import (
	"encoding/json"
	"net/http"

	alarmapp "plant-edge/internal/alarms/application"
	"plant-edge/internal/ingest"
	"plant-edge/internal/outbox"
	"plant-edge/internal/processing"
)

// StatsHandler serves the pipeline counters on GET /api/v1/stats.
type StatsHandler struct {
	processor *processing.Processor
	store     *outbox.Store
	channel   *ingest.Channel
	evaluator *alarmapp.Evaluator
}

// NewStatsHandler constructs a stats handler.
func NewStatsHandler(processor *processing.Processor, store *outbox.Store, channel *ingest.Channel, evaluator *alarmapp.Evaluator) *StatsHandler {
	return &StatsHandler{
		processor: processor,
		store:     store,
		channel:   channel,
		evaluator: evaluator,
	}
}

type statsResponse struct {
	Processor processing.Stats    `json:"processor"`
	Outbox    outbox.Stats        `json:"outbox"`
	Channel   ingest.ChannelStats `json:"channel"`
	Alarms    alarmapp.Stats      `json:"alarms"`
}

// ServeHTTP handles GET /api/v1/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := statsResponse{
		Processor: h.processor.GetStats(),
		Outbox:    h.store.GetStats(),
		Channel:   h.channel.Stats(),
		Alarms:    h.evaluator.GetStats(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
