package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/apetrei/audioscope/internal/history"
)

const (
	defaultLatestCount = 50
	maxLatestCount     = 1000
)

// latestResponse is the body of GET /api/data/latest.
type latestResponse struct {
	Count   int              `json:"count"`
	Records []history.Record `json:"records"`
}

// statsResponse is the body of GET /api/data/stats.
type statsResponse struct {
	TotalRecords      int64 `json:"totalRecords"`
	RecentCount       int   `json:"recentCount"`
	ProducerConnected bool  `json:"producerConnected"`
	Consumers         int   `json:"consumers"`
}

// handleLatest returns the most recent history records, oldest first.
// The count query parameter bounds the result; it defaults to 50.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	store := s.gw.History()
	if store == nil {
		http.Error(w, `{"error":"history is disabled"}`, http.StatusNotFound)
		return
	}

	count := defaultLatestCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"count must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		count = min(n, maxLatestCount)
	}

	records := store.Latest(count)
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, latestResponse{Count: len(records), Records: records})
}

// handleStats returns aggregate history counters plus live connection state.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		ProducerConnected: s.gw.HasProducer(),
		Consumers:         s.gw.ConsumerCount(),
	}

	if store := s.gw.History(); store != nil {
		stats, err := store.Stats(r.Context())
		if err != nil {
			s.log.Warn("history stats failed", "err", err)
			http.Error(w, `{"error":"history unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		resp.TotalRecords = stats.TotalRecords
		resp.RecentCount = stats.RecentCount
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}
