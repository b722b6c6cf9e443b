package api

import (
	"net/http"
	"strconv"

	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

const maxTransactionLimit = 100

// TransactionResponse represents a ledger entry in API responses
type TransactionResponse struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Finished     bool   `json:"finished"`
	Data         string `json:"data,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt is a Unix timestamp in milliseconds
	CreatedAt int64 `json:"created_at"`
}

// ListTransactionsResponse lists ledger entries in submission order
type ListTransactionsResponse struct {
	Data []TransactionResponse `json:"data"`
}

func convertTransactionToResponse(rec types.TransactionRecord) TransactionResponse {
	return TransactionResponse{
		ID:           rec.ID,
		Type:         string(rec.Type),
		Status:       rec.Status.String(),
		Finished:     rec.Status.IsExecuteFinished() || rec.Status.IsFailed(),
		Data:         rec.Data,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.Time.UnixMilli(),
	}
}

// handleListTransactions lists the ledger. Query parameters:
//   - type: only entries of this type
//   - status: only entries in this status
//   - latest=true: only the most recent entry of type, if any
//   - limit: at most this many entries (1-100)
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	txType := types.TxType(query.Get("type"))

	limit := maxTransactionLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxTransactionLimit {
			s.writeError(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Invalid limit",
				"limit must be between 1 and 100",
				http.StatusBadRequest,
			))
			return
		}
		limit = parsed
	}

	resp := ListTransactionsResponse{Data: []TransactionResponse{}}

	if query.Get("latest") == "true" {
		if txType == "" {
			s.writeError(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Invalid query",
				"latest requires type",
				http.StatusBadRequest,
			))
			return
		}
		if rec, ok := s.cfg.Ledger.LastOfType(txType); ok {
			resp.Data = append(resp.Data, convertTransactionToResponse(rec))
		}
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	var status types.TxStatus
	if statusStr := query.Get("status"); statusStr != "" {
		status = types.ParseTxStatus(statusStr)
		if status == types.TxStatusUnknown {
			s.writeError(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Invalid status",
				statusStr,
				http.StatusBadRequest,
			))
			return
		}
	}

	for _, rec := range s.cfg.Ledger.List() {
		if txType != "" && rec.Type != txType {
			continue
		}
		if status != types.TxStatusUnknown && rec.Status != status {
			continue
		}
		resp.Data = append(resp.Data, convertTransactionToResponse(rec))
		if len(resp.Data) == limit {
			break
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetTransaction returns one ledger entry
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.cfg.Ledger.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, convertTransactionToResponse(rec))
}
