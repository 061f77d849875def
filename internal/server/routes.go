package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cstaal88/mina-pipeline/internal/metrics"
	"github.com/cstaal88/mina-pipeline/internal/models"
)

// RunLister supplies recent pipeline runs for the /runs endpoint.
// *runlog.Store satisfies it.
type RunLister interface {
	RecentRuns(ctx context.Context, topic string, limit int) ([]models.RunRecord, error)
}

// NewHandler builds the daemon's route set, instrumented with the HTTP
// request metrics.
func NewHandler(runs RunLister, collector *metrics.Collector, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.Handle("/metrics", collector.Handler())

	rh := &runsHandler{runs: runs, logger: logger}
	mux.HandleFunc("/runs", rh.list)

	return collector.InstrumentHandler(mux)
}

type runsHandler struct {
	runs   RunLister
	logger *slog.Logger
}

// list handles GET /runs
func (h *runsHandler) list(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	topic := r.URL.Query().Get("topic")

	records, err := h.runs.RecentRuns(r.Context(), topic, limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		http.Error(w, "Failed to retrieve runs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  records,
		"count": len(records),
	})
}
