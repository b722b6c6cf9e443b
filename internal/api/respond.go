package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/better-wallet/multikey/internal/backupstore"
	"github.com/better-wallet/multikey/internal/evm"
	"github.com/better-wallet/multikey/internal/logger"
	"github.com/better-wallet/multikey/internal/orchestrator"
	"github.com/better-wallet/multikey/internal/provider"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
)

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes err as an AppError body
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, appErr.StatusCode, appErr)
}

// decodeJSON reads the request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		)
	}
	return nil
}

// invalid is a bad_request error for a rejected input
func invalid(message string, err error) *apperrors.AppError {
	return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, message, err.Error(), http.StatusBadRequest)
}

// toAppError maps err onto the API error taxonomy
func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.IsAppError(err); ok {
		if appErr.StatusCode == 0 {
			out := *appErr
			out.StatusCode = http.StatusInternalServerError
			return &out
		}
		return appErr
	}

	switch {
	case errors.Is(err, orchestrator.ErrSessionClosed),
		errors.Is(err, evm.ErrNotCached),
		errors.Is(err, evm.ErrUnsupportedNetwork),
		errors.Is(err, backupstore.ErrNotFound),
		errors.Is(err, provider.ErrNoAccount):
		return apperrors.NewWithDetail(apperrors.ErrCodeNotFound, "Resource not found", err.Error(), http.StatusNotFound)

	case errors.Is(err, orchestrator.ErrInvalidState),
		errors.Is(err, orchestrator.ErrSubmissionOutstanding),
		errors.Is(err, orchestrator.ErrAlreadyLoggedIn),
		errors.Is(err, evm.ErrCleared):
		return apperrors.NewWithDetail(apperrors.ErrCodeConflict, "Request conflict", err.Error(), http.StatusConflict)

	case errors.Is(err, orchestrator.ErrMissingShare):
		return apperrors.NewWithDetail(apperrors.ErrCodeBadRequest, "Missing share", err.Error(), http.StatusBadRequest)

	case errors.Is(err, backupstore.ErrBackendUnavailable):
		return apperrors.NetworkFailure("backup store", err)

	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewWithDetail(apperrors.ErrCodeNetworkFailure, "Request timed out", err.Error(), http.StatusGatewayTimeout)
	}

	return apperrors.NewWithDetail(apperrors.ErrCodeInternalError, "Internal server error", err.Error(), http.StatusInternalServerError)
}

// errorView is the error of a session snapshot, nil while there is none
func errorView(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	return toAppError(err)
}

// ChangeEvent is one state transition on an events stream
type ChangeEvent struct {
	SessionID string              `json:"session_id"`
	Kind      string              `json:"kind"`
	State     string              `json:"state"`
	TxID      string              `json:"tx_id,omitempty"`
	Terminal  bool                `json:"terminal"`
	Error     *apperrors.AppError `json:"error,omitempty"`
}

// streamEvents writes every state change of sub as a server-sent event
// until the session ends, the client goes away or a terminal state is sent.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, sub *orchestrator.StateSubscription) {
	defer sub.Cancel()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case item := <-sub.Updates():
			change := item.(orchestrator.StateChange)
			data, err := json.Marshal(ChangeEvent{
				SessionID: change.SessionID,
				Kind:      change.Kind,
				State:     change.State,
				TxID:      change.TxID,
				Terminal:  change.Terminal,
				Error:     errorView(change.Err),
			})
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if change.Terminal {
				return
			}

		case <-sub.Quit():
			return

		case <-r.Context().Done():
			return
		}
	}
}
