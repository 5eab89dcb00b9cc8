// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/guildbridge/pkg/catalog"
)

// maxAdminBodySize is the maximum allowed request body for admin calls (1 MB).
const maxAdminBodySize = 1 << 20

// AdminAPI is the bridge's admin HTTP surface: pattern hot-reload and
// catalog stats.
type AdminAPI struct {
	Catalog    *catalog.Catalog
	PatternDir string
	Log        zerolog.Logger
	// Extra routes are mounted alongside the built-ins.
	Extra map[string]http.HandlerFunc
}

// Server builds an http.Server for the admin API on addr.
func (a *AdminAPI) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/reload-patterns", a.HandleReloadPatterns)
	mux.HandleFunc("/api/patterns", a.HandleStats)
	for pattern, handler := range a.Extra {
		mux.HandleFunc(pattern, handler)
	}
	return &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// Command watches block until their deadline; keep writes open
		// longer than the longest allowed watch.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// customRuleRequest is the JSON body for adding a runtime rule during reload.
type customRuleRequest struct {
	Dialect     string           `json:"dialect"`
	Category    catalog.Category `json:"category"`
	Subcategory string           `json:"subcategory"`
	Rule        catalog.RuleSpec `json:"rule"`
}

// HandleReloadPatterns is an HTTP handler for POST /api/reload-patterns.
// With an empty body it reloads every dialect file from the pattern dir;
// with a JSON body it adds the given custom rule instead.
func (a *AdminAPI) HandleReloadPatterns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a.Log.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("Pattern reload requested")

	var req *customRuleRequest
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		if len(body) > 0 {
			req = &customRuleRequest{}
			if err := json.Unmarshal(body, req); err != nil {
				http.Error(w, "invalid JSON", http.StatusBadRequest)
				return
			}
		}
	}

	if req != nil {
		err := a.Catalog.AddCustomRule(req.Dialect, req.Category, req.Subcategory, req.Rule)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		if a.PatternDir == "" {
			http.Error(w, "no pattern dir configured", http.StatusConflict)
			return
		}
		if err := a.Catalog.LoadDir(a.PatternDir); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	a.writeStats(w)
}

// HandleStats is an HTTP handler for GET /api/patterns.
func (a *AdminAPI) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.writeStats(w)
}

func (a *AdminAPI) writeStats(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.Catalog.Stats()); err != nil {
		a.Log.Warn().Err(err).Msg("Failed to write admin response")
	}
}
