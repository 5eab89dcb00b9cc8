// Copyright 2024-2026 Aiku AI

package command

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultWatchDeadline = 5 * time.Second
	maxWatchDeadline     = 30 * time.Second
)

type watchRequest struct {
	Origin      string  `json:"origin"`
	CommandType string  `json:"command_type"`
	Subject     string  `json:"subject"`
	DeadlineSec float64 `json:"deadline_seconds"`
}

type watchResponse struct {
	ListenerID string            `json:"listener_id"`
	Outcome    Outcome           `json:"outcome"`
	Text       string            `json:"text,omitempty"`
	Groups     map[string]string `json:"groups,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// WatchHandler returns an HTTP handler for POST /api/commands/watch. The
// operator issues the command in game themselves; this endpoint only blocks
// until the outcome is known and reports it. A dropped connection cancels
// the listener.
func WatchHandler(c *Correlator, log zerolog.Logger) http.HandlerFunc {
	log = log.With().Str("component", "command-api").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req watchRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Origin == "" || req.CommandType == "" {
			http.Error(w, "origin and command_type are required", http.StatusBadRequest)
			return
		}
		deadline := time.Duration(req.DeadlineSec * float64(time.Second))
		if deadline <= 0 {
			deadline = defaultWatchDeadline
		}
		if deadline > maxWatchDeadline {
			deadline = maxWatchDeadline
		}

		handle, err := c.Create(req.Origin, req.CommandType, req.Subject, deadline)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log.Info().
			Str("listener_id", handle.ID.String()).
			Str("origin", req.Origin).
			Str("command", req.CommandType).
			Str("subject", req.Subject).
			Msg("Command watch started")

		select {
		case res := <-handle.Done():
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(watchResponse{
				ListenerID: handle.ID.String(),
				Outcome:    res.Outcome,
				Text:       res.Text,
				Groups:     res.Groups,
				DurationMS: res.Duration.Milliseconds(),
			})
		case <-r.Context().Done():
			c.Cancel(handle.ID)
		}
	}
}
