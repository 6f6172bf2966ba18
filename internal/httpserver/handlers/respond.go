package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relay/internal/logger"
)

// maxBodyBytes caps request bodies; a stream config is a few hundred bytes.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error         string        `json:"error"`
	Message       string        `json:"message"`
	CurrentStatus domain.Status `json:"current_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the supervisor's error taxonomy onto HTTP.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotRunning:
		return http.StatusNotFound
	case domain.KindInvalidConfig:
		return http.StatusUnprocessableEntity
	case domain.KindResolution:
		return http.StatusBadGateway
	case domain.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the error kind and its diagnostic message only;
// wrapped low-level causes stay in the logs.
func writeError(w http.ResponseWriter, d deps.Deps, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		d.Logger.Error("unclassified request failure", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
		return
	}

	code := statusFor(de.Kind)
	if code >= http.StatusInternalServerError {
		d.Logger.Error("stream request failed", logger.String("kind", string(de.Kind)), logger.Error(err))
	}
	msg := de.Message
	if msg == "" {
		msg = string(de.Kind)
	}
	writeJSON(w, code, errorResponse{Error: string(de.Kind), Message: msg, CurrentStatus: de.Current})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}
