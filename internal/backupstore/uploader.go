package backupstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/better-wallet/multikey/internal/crypto"
	"github.com/better-wallet/multikey/internal/keyexec"
	"github.com/better-wallet/multikey/pkg/types"
)

// CompletionSignal tags every upload completion event
const CompletionSignal = "backup.upload.finished"

const payloadVersion = 1

// Event reports the outcome of one upload
type Event struct {
	Signal    string
	SessionID string
	Name      string
	Location  string
	Err       error
}

// OK reports whether the upload succeeded
func (e Event) OK() bool { return e.Err == nil }

// Request describes a seed to back up
type Request struct {
	SessionID  string
	Username   string
	Address    string
	PublicKey  string
	Mnemonic   string
	BackupType types.BackupType
}

// Payload is the stored backup document. The mnemonic is sealed.
type Payload struct {
	Version        int              `json:"version"`
	Username       string           `json:"username,omitempty"`
	Address        string           `json:"address"`
	PublicKey      string           `json:"public_key"`
	BackupType     types.BackupType `json:"backup_type"`
	SealedMnemonic []byte           `json:"sealed_mnemonic"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Listener receives the single completion event of one upload
type Listener struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events delivers exactly one Event and is then closed
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Close cancels an in-flight upload and waits for it to exit
func (l *Listener) Close() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}

// Uploader seals backup payloads and writes them to a Backend without
// blocking the caller.
type Uploader struct {
	backend Backend
	sealer  keyexec.Sealer
	log     *slog.Logger

	wg sync.WaitGroup
}

// NewUploader creates an Uploader
func NewUploader(backend Backend, sealer keyexec.Sealer, log *slog.Logger) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	return &Uploader{
		backend: backend,
		sealer:  sealer,
		log:     log.With("component", "backupstore", "backend", backend.Name()),
	}
}

// BackupName returns the object name a session's backup is stored under
func BackupName(req Request) string {
	owner := req.Username
	if owner == "" {
		owner = req.Address
	}
	return fmt.Sprintf("%s-%s.json", owner, req.SessionID)
}

// Upload starts the upload of req and returns immediately. The outcome is
// reported once on the returned Listener.
func (u *Uploader) Upload(ctx context.Context, req Request) *Listener {
	ctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		events: make(chan Event, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer close(l.done)
		defer close(l.events)
		defer cancel()

		name := BackupName(req)
		ev := Event{Signal: CompletionSignal, SessionID: req.SessionID, Name: name}
		if err := u.store(ctx, name, req); err != nil {
			ev.Err = err
			u.log.Warn("backup upload failed", "session_id", req.SessionID, "error", err)
		} else {
			ev.Location = u.backend.LocationURI() + "/" + name
			u.log.Info("backup uploaded", "session_id", req.SessionID, "name", name)
		}

		l.events <- ev
	}()

	return l
}

func (u *Uploader) store(ctx context.Context, name string, req Request) error {
	sealed, err := u.sealer.Seal(ctx, keyexec.PurposeBackup, []byte(req.Mnemonic))
	if err != nil {
		return fmt.Errorf("failed to seal backup: %w", err)
	}

	data, err := json.Marshal(Payload{
		Version:        payloadVersion,
		Username:       req.Username,
		Address:        req.Address,
		PublicKey:      req.PublicKey,
		BackupType:     req.BackupType,
		SealedMnemonic: sealed,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	return u.backend.Store(ctx, name, data)
}

// Open reads a stored backup and returns its mnemonic
func (u *Uploader) Open(ctx context.Context, name string) (string, error) {
	data, err := u.backend.Fetch(ctx, name)
	if err != nil {
		return "", err
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("failed to decode backup: %w", err)
	}
	if p.Version != payloadVersion {
		return "", fmt.Errorf("unsupported backup version %d", p.Version)
	}

	mnemonic, err := u.sealer.Unseal(ctx, keyexec.PurposeBackup, p.SealedMnemonic)
	if err != nil {
		return "", fmt.Errorf("failed to unseal backup: %w", err)
	}
	defer crypto.Zero(mnemonic)
	return string(mnemonic), nil
}

// Wait blocks until every started upload has finished
func (u *Uploader) Wait() {
	u.wg.Wait()
}
