package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/better-wallet/multikey/internal/evm"
	"github.com/better-wallet/multikey/internal/metrics"
	"github.com/better-wallet/multikey/internal/middleware"
	"github.com/better-wallet/multikey/internal/orchestrator"
	"github.com/better-wallet/multikey/internal/txwatch"
	"github.com/better-wallet/multikey/pkg/types"
)

// ShareOpener reads the seed of a stored backup
type ShareOpener interface {
	Open(ctx context.Context, name string) (string, error)
}

// Config wires the server to the session machinery
type Config struct {
	Port int

	// Deps are handed to every new session
	Deps orchestrator.Deps
	// BackupType is used when a backup request names none
	BackupType types.BackupType

	Backups  *orchestrator.Sessions[*orchestrator.BackupSession]
	Restores *orchestrator.Sessions[*orchestrator.RestoreSession]

	// Accounts manages the accounts of this device
	Accounts AccountManager
	// Keys lists the user's registered keys; optional
	Keys KeyLister
	// OnLogout runs after a logout, e.g. to drop the identity; optional
	OnLogout func()

	Ledger   *txwatch.Ledger
	Registry *evm.Registry
	Mover    *evm.Mover
	Shares   ShareOpener

	RateLimiter *middleware.RateLimiter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg        Config
	log        *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Backups == nil {
		cfg.Backups = orchestrator.NewSessions[*orchestrator.BackupSession]()
	}
	if cfg.Restores == nil {
		cfg.Restores = orchestrator.NewSessions[*orchestrator.RestoreSession]()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: log.With("component", "api"),
	}
}

// Handler returns the routed handler with its middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.cfg.Metrics.Handler())

	mux.HandleFunc("POST /v1/backups", s.handleCreateBackup)
	mux.HandleFunc("GET /v1/backups/{id}", s.handleGetBackup)
	mux.HandleFunc("DELETE /v1/backups/{id}", s.handleDeleteBackup)
	mux.HandleFunc("POST /v1/backups/{id}/chain", s.handleBackupToChain)
	mux.HandleFunc("GET /v1/backups/{id}/events", s.handleBackupEvents)

	mux.HandleFunc("POST /v1/restores", s.handleCreateRestore)
	mux.HandleFunc("GET /v1/restores/{id}", s.handleGetRestore)
	mux.HandleFunc("DELETE /v1/restores/{id}", s.handleDeleteRestore)
	mux.HandleFunc("POST /v1/restores/{id}/options", s.handleRestoreOption)
	mux.HandleFunc("POST /v1/restores/{id}/start", s.handleRestoreStart)
	mux.HandleFunc("POST /v1/restores/{id}/shares", s.handleRestoreShare)
	mux.HandleFunc("POST /v1/restores/{id}/submit", s.handleRestoreSubmit)
	mux.HandleFunc("GET /v1/restores/{id}/events", s.handleRestoreEvents)

	mux.HandleFunc("GET /v1/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /v1/accounts/active", s.handleActiveAccount)
	mux.HandleFunc("POST /v1/accounts/switch", s.handleSwitchAccount)
	mux.HandleFunc("POST /v1/logout", s.handleLogout)
	mux.HandleFunc("GET /v1/keys", s.handleListKeys)

	mux.HandleFunc("GET /v1/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /v1/transactions/{id}", s.handleGetTransaction)

	mux.HandleFunc("GET /v1/evm/{network}", s.handleGetEVM)
	mux.HandleFunc("POST /v1/evm/{network}/fetch", s.handleFetchEVM)
	mux.HandleFunc("POST /v1/evm/fund", s.handleFundEVM)
	mux.HandleFunc("POST /v1/evm/withdraw", s.handleWithdrawEVM)

	// Chain: RequestID -> Logging -> RateLimit -> LimitBody -> Routes
	var h http.Handler = middleware.LimitBody(mux)
	if s.cfg.RateLimiter != nil {
		h = s.cfg.RateLimiter.Limit(h)
	}
	return middleware.RequestID(middleware.Logging(s.cfg.Metrics)(h))
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting server", "port", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every open session
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.cfg.Backups.CloseAll()
	s.cfg.Restores.CloseAll()
	return err
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"backups":  s.cfg.Backups.Len(),
		"restores": s.cfg.Restores.Len(),
	})
}
