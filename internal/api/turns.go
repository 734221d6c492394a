package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/apperr"
	"github.com/a-marczewski/aifred/internal/orchestrator"
)

// TurnRequest is the body of POST /v1/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// StateResponse for GET /v1/state
type StateResponse struct {
	State orchestrator.State `json:"state"`
	Token uint64             `json:"token"`
}

// handleTurn runs one turn and answers with its result. A turn superseded by
// a later submit or a cancel answers 200 with cancelled set.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), turnTimeout)
	defer cancel()

	logger := s.requestLogger(r)
	res, err := s.session.Submit(ctx, req.Text)
	if err != nil {
		logger.Warn("Turn failed",
			zap.Uint64("token", res.Token),
			zap.String("kind", string(res.ErrorKind)),
			zap.Error(err),
		)
		writeJSON(w, statusForKind(res.ErrorKind), res)
		return
	}
	logger.Debug("Turn finished",
		zap.Uint64("token", res.Token),
		zap.String("route", string(res.Route)),
		zap.Bool("cancelled", res.Cancelled),
	)
	writeJSON(w, http.StatusOK, res)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case "":
		return http.StatusInternalServerError
	case apperr.NoRouteAvailable:
		return http.StatusServiceUnavailable
	case apperr.ToolRoundsExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.session.Cancel()
	writeJSON(w, http.StatusOK, StateResponse{State: s.session.State(), Token: s.session.Token()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{State: s.session.State(), Token: s.session.Token()})
}
