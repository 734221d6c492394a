package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/personality"
)

// HealthResponse for GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Uptime    int64  `json:"uptime_seconds"`
}

// ModelsResponse for GET /v1/models
type ModelsResponse struct {
	Models []string `json:"models"`
}

// VaultResponse for GET /v1/vault
type VaultResponse struct {
	Query string             `json:"query,omitempty"`
	Items []memory.VaultItem `json:"items"`
}

// ProfileResponse for GET /v1/profile
type ProfileResponse struct {
	Profile            personality.Profile `json:"profile"`
	Personality        personality.Vector  `json:"personality"`
	PersonalityEnabled bool                `json:"personality_enabled"`
	PersonalityPrompt  string              `json:"personality_prompt,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	resp := HealthResponse{Status: "ok", Timestamp: time.Now().Unix()}
	if !s.startTime.IsZero() {
		resp.Uptime = int64(time.Since(s.startTime).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleModels refreshes the model list and returns the verified ids.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Models: s.backend.RefreshModels(r.Context())})
}

// handleVault lists visible vault items, or searches them when q is set.
func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	query := r.URL.Query().Get("q")
	var items []memory.VaultItem
	if query != "" {
		items = s.session.SearchVault(query)
	} else {
		for _, item := range s.session.VaultItems() {
			if !item.Hidden {
				items = append(items, item)
			}
		}
	}
	if items == nil {
		items = []memory.VaultItem{}
	}
	writeJSON(w, http.StatusOK, VaultResponse{Query: query, Items: items})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	state := s.session.SessionState()
	resp := ProfileResponse{
		Profile:            s.session.Profile(),
		Personality:        state.Personality,
		PersonalityEnabled: state.PersonalityEnabled,
	}
	if state.PersonalityEnabled {
		resp.PersonalityPrompt = personality.BuildPrompt(state.Personality)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStats aggregates recorded turns. since_hours limits the window.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeError(w, http.StatusBadRequest, "since_hours must be a positive integer")
			return
		}
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}
	stats, err := s.backend.TurnStats(r.Context(), since)
	if err != nil {
		s.requestLogger(r).Error("Failed to read turn stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read turn stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDoctor(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	diag := s.backend.Diagnose(r.Context())
	status := http.StatusOK
	if diag.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, diag)
}
