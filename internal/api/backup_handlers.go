package api

import (
	"fmt"
	"net/http"

	"github.com/better-wallet/multikey/internal/logger"
	"github.com/better-wallet/multikey/internal/orchestrator"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

var backupTypeNames = map[string]types.BackupType{
	"google_drive": types.BackupTypeGoogleDrive,
	"passphrase":   types.BackupTypePassphrase,
	"vault":        types.BackupTypeVault,
	"file":         types.BackupTypeFile,
}

func backupTypeName(t types.BackupType) string {
	for name, bt := range backupTypeNames {
		if bt == t {
			return name
		}
	}
	return "unknown"
}

// CreateBackupRequest starts a backup session
type CreateBackupRequest struct {
	BackupType string `json:"backup_type,omitempty"`
}

// BackupResponse is the state of a backup session
type BackupResponse struct {
	ID         string              `json:"id"`
	State      string              `json:"state"`
	BackupType string              `json:"backup_type"`
	PublicKey  string              `json:"public_key,omitempty"`
	Address    string              `json:"address,omitempty"`
	TxID       string              `json:"tx_id,omitempty"`
	Location   string              `json:"location,omitempty"`
	Terminal   bool                `json:"terminal"`
	Error      *apperrors.AppError `json:"error,omitempty"`
}

func backupResponse(snap orchestrator.BackupSnapshot) BackupResponse {
	return BackupResponse{
		ID:         snap.ID,
		State:      snap.State.String(),
		BackupType: backupTypeName(snap.BackupType),
		PublicKey:  snap.PublicKey,
		Address:    snap.Address,
		TxID:       snap.TxID,
		Location:   snap.Location,
		Terminal:   snap.State.Terminal(),
		Error:      errorView(snap.Err),
	}
}

// handleCreateBackup creates a session and generates its backup key
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req CreateBackupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	backupType := s.cfg.BackupType
	if req.BackupType != "" {
		bt, ok := backupTypeNames[req.BackupType]
		if !ok {
			s.writeError(w, r, apperrors.NewWithDetail(
				apperrors.ErrCodeBadRequest,
				"Invalid backup type",
				fmt.Sprintf("unknown backup type %q", req.BackupType),
				http.StatusBadRequest,
			))
			return
		}
		backupType = bt
	}

	sess := orchestrator.NewBackup(s.cfg.Deps, backupType)
	s.cfg.Backups.Add(sess)
	ctx := logger.WithSessionID(r.Context(), sess.ID())

	if err := sess.Create(ctx); err != nil {
		s.cfg.Backups.Remove(sess.ID())
		s.writeError(w, r, err)
		return
	}
	logger.Info(ctx, "backup session created", "backup_type", backupTypeName(backupType))

	s.writeBackup(w, r, sess, http.StatusCreated)
}

// handleBackupToChain submits the key addition of the session's backup key
func (s *Server) handleBackupToChain(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.backup(w, r)
	if !ok {
		return
	}
	if err := sess.UploadToChain(logger.WithSessionID(r.Context(), sess.ID())); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeBackup(w, r, sess, http.StatusAccepted)
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.backup(w, r)
	if !ok {
		return
	}
	s.writeBackup(w, r, sess, http.StatusOK)
}

// handleDeleteBackup closes the session and cancels whatever it awaits
func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Backups.Remove(r.PathValue("id")) {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBackupEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.backup(w, r)
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

func (s *Server) backup(w http.ResponseWriter, r *http.Request) (*orchestrator.BackupSession, bool) {
	sess, ok := s.cfg.Backups.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, r, apperrors.ErrNotFound)
	}
	return sess, ok
}

func (s *Server) writeBackup(w http.ResponseWriter, r *http.Request, sess *orchestrator.BackupSession, status int) {
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, status, backupResponse(snap))
}
