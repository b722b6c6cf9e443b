package api

import (
	"net/http"
	"strings"

	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/internal/logger"
	"github.com/better-wallet/multikey/internal/orchestrator"
	"github.com/better-wallet/multikey/internal/validation"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// CreateRestoreRequest starts a restore session for an account
type CreateRestoreRequest struct {
	Username string `json:"username,omitempty"`
	Address  string `json:"address,omitempty"`
}

// RestoreOptionRequest toggles one share source
type RestoreOptionRequest struct {
	Option string `json:"option"`
}

// RestoreShareRequest contributes the share of the current option, either
// as a mnemonic or as the name of a stored backup
type RestoreShareRequest struct {
	Mnemonic   string `json:"mnemonic,omitempty"`
	BackupName string `json:"backup_name,omitempty"`
}

// RestoreResponse is the state of a restore session
type RestoreResponse struct {
	ID            string              `json:"id"`
	State         string              `json:"state"`
	Options       []string            `json:"options"`
	CurrentOption string              `json:"current_option,omitempty"`
	Shares        int                 `json:"shares"`
	Valid         bool                `json:"valid"`
	Username      string              `json:"username,omitempty"`
	Address       string              `json:"address,omitempty"`
	TxID          string              `json:"tx_id,omitempty"`
	Switched      bool                `json:"switched,omitempty"`
	Terminal      bool                `json:"terminal"`
	Error         *apperrors.AppError `json:"error,omitempty"`
}

func restoreResponse(snap orchestrator.RestoreSnapshot) RestoreResponse {
	resp := RestoreResponse{
		ID:       snap.ID,
		State:    snap.State.String(),
		Options:  make([]string, 0, len(snap.Options)),
		Shares:   snap.Shares,
		Valid:    snap.Shares >= types.MinRecoveryShares,
		Username: snap.UserName,
		Address:  snap.Address,
		TxID:     snap.TxID,
		Switched: snap.Switched,
		Terminal: snap.State.Terminal(),
		Error:    errorView(snap.Err),
	}
	for _, o := range snap.Options {
		resp.Options = append(resp.Options, o.String())
	}
	if snap.State == orchestrator.RestoreCollectingShares && snap.Index < len(snap.Options) {
		resp.CurrentOption = snap.Options[snap.Index].String()
	}
	return resp
}

func (s *Server) handleCreateRestore(w http.ResponseWriter, r *http.Request) {
	var req CreateRestoreRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Username != "" {
		if err := validation.ValidateUsername(req.Username); err != nil {
			s.writeError(w, r, invalid("Invalid username", err))
			return
		}
	}
	if req.Address != "" {
		if err := validation.ValidateAccountAddress(req.Address); err != nil {
			s.writeError(w, r, invalid("Invalid restore address", err))
			return
		}
	}

	sess := orchestrator.NewRestore(s.cfg.Deps)
	ctx := logger.WithSessionID(r.Context(), sess.ID())

	if req.Address != "" {
		if err := sess.SetTarget(ctx, req.Username, req.Address); err != nil {
			sess.Close()
			s.writeError(w, r, err)
			return
		}
	}
	s.cfg.Restores.Add(sess)
	logger.Info(ctx, "restore session created", "address", req.Address)

	s.writeRestore(w, r, sess, http.StatusCreated)
}

// handleRestoreOption toggles a share source before the session starts
func (s *Server) handleRestoreOption(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.restore(w, r)
	if !ok {
		return
	}

	var req RestoreOptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	opt, err := orchestrator.ParseRestoreOption(req.Option)
	if err != nil {
		s.writeError(w, r, invalid("Invalid restore option", err))
		return
	}

	if _, err := sess.SelectOption(r.Context(), opt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRestore(w, r, sess, http.StatusOK)
}

func (s *Server) handleRestoreStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.restore(w, r)
	if !ok {
		return
	}
	if err := sess.Start(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRestore(w, r, sess, http.StatusOK)
}

// handleRestoreShare collects the share of the current option
func (s *Server) handleRestoreShare(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.restore(w, r)
	if !ok {
		return
	}

	var req RestoreShareRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	mnemonic := strings.TrimSpace(req.Mnemonic)
	switch {
	case mnemonic != "" && req.BackupName != "":
		s.writeError(w, r, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid share",
			"give either mnemonic or backup_name",
			http.StatusBadRequest,
		))
		return

	case req.BackupName != "":
		if err := validation.ValidateBackupName(req.BackupName); err != nil {
			s.writeError(w, r, invalid("Invalid backup name", err))
			return
		}
		if s.cfg.Shares == nil {
			s.writeError(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Invalid share",
				"no backup store configured",
				http.StatusBadRequest,
			))
			return
		}
		m, err := s.cfg.Shares.Open(r.Context(), req.BackupName)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		mnemonic = m

	case mnemonic == "":
		s.writeError(w, r, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid share",
			"mnemonic or backup_name is required",
			http.StatusBadRequest,
		))
		return
	}

	if err := crypto.ValidateMnemonic(mnemonic); err != nil {
		s.writeError(w, r, invalid("Invalid share", err))
		return
	}

	if err := sess.AddShare(r.Context(), mnemonic); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRestore(w, r, sess, http.StatusOK)
}

// handleRestoreSubmit registers the device key; finality and account sync
// continue after the response
func (s *Server) handleRestoreSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.restore(w, r)
	if !ok {
		return
	}
	if err := sess.Submit(logger.WithSessionID(r.Context(), sess.ID())); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeRestore(w, r, sess, http.StatusAccepted)
}

func (s *Server) handleGetRestore(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.restore(w, r)
	if !ok {
		return
	}
	s.writeRestore(w, r, sess, http.StatusOK)
}

func (s *Server) handleDeleteRestore(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Restores.Remove(r.PathValue("id")) {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.restore(w, r)
	if !ok {
		return
	}
	sub, err := sess.Subscribe()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.streamEvents(w, r, sub)
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) (*orchestrator.RestoreSession, bool) {
	sess, ok := s.cfg.Restores.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, apperrors.ErrNotFound)
	}
	return sess, ok
}

func (s *Server) writeRestore(w http.ResponseWriter, r *http.Request, sess *orchestrator.RestoreSession, status int) {
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, status, restoreResponse(snap))
}
