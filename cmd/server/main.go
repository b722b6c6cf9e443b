package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/multikey/internal/accountsvc"
	"github.com/better-wallet/multikey/internal/api"
	"github.com/better-wallet/multikey/internal/backupstore"
	"github.com/better-wallet/multikey/internal/composer"
	"github.com/better-wallet/multikey/internal/config"
	"github.com/better-wallet/multikey/internal/eth"
	"github.com/better-wallet/multikey/internal/evm"
	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/keyexec"
	"github.com/better-wallet/multikey/internal/logger"
	"github.com/better-wallet/multikey/internal/metrics"
	"github.com/better-wallet/multikey/internal/middleware"
	"github.com/better-wallet/multikey/internal/orchestrator"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/storage"
	"github.com/better-wallet/multikey/internal/txwatch"
	"github.com/better-wallet/multikey/pkg/types"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: PostgreSQL when a DSN is configured, memory otherwise
	var repos *storage.Repositories
	if cfg.PostgresDSN != "" {
		store, err := storage.New(ctx, cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		repos = store.Repositories()
		slog.Info("connected to database")
	} else {
		repos = storage.NewMemory().Repositories()
		slog.Warn("no database configured, state is kept in memory")
	}

	sealer, err := keyexec.NewSealer(ctx, &keyexec.SealerConfig{
		Backend:         cfg.KMSProvider,
		LocalMasterKey:  cfg.KMSLocalMasterKey,
		AWSKMSKeyID:     cfg.KMSAWSKeyID,
		AWSKMSRegion:    cfg.KMSAWSRegion,
		VaultAddress:    cfg.KMSVaultAddress,
		VaultToken:      cfg.KMSVaultToken,
		VaultTransitKey: cfg.KMSVaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize sealer", "error", err)
		os.Exit(1)
	}
	slog.Info("initialized sealer", "backend", sealer.Backend())

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	wallets := provider.NewWallets(repos.Wallets, sealer)
	manager := provider.NewManager(wallets, keyexec.NewKeyStore(repos.Keys, sealer), repos.Accounts)

	chain, err := flow.NewClient(flow.ClientConfig{
		BaseURL:  cfg.FlowAccessURL,
		RetryMax: cfg.HTTPRetryMax,
	})
	if err != nil {
		slog.Error("failed to initialize access node client", "error", err)
		os.Exit(1)
	}

	service, err := accountsvc.New(accountsvc.Config{
		BaseURL:     cfg.AccountServiceURL,
		IdentityURL: cfg.IdentityTokenURL,
		RetryMax:    cfg.HTTPRetryMax,
	})
	if err != nil {
		slog.Error("failed to initialize account service client", "error", err)
		os.Exit(1)
	}

	registryCfg := evm.RegistryConfig{
		Networks: cfg.EVMNetworks,
		Source:   service,
	}
	if cfg.EVMRPCURL != "" {
		ethClient, err := eth.NewClient(ctx, cfg.EVMRPCURL)
		if err != nil {
			slog.Error("failed to connect to EVM RPC", "error", err)
			os.Exit(1)
		}
		defer ethClient.Close()
		registryCfg.Balances = ethClient
		slog.Info("connected to EVM RPC", "chain_id", ethClient.ChainID())
	}
	registry := evm.NewRegistry(registryCfg)
	// Addresses belong to the identity, not the device
	manager.OnClear(registry.Clear)

	comp := composer.New(composer.Config{
		Chain:   chain,
		Network: cfg.FlowNetwork,
		Metrics: m,
	})

	ledger := txwatch.NewLedger(repos.Transactions)
	if err := ledger.Load(ctx); err != nil {
		slog.Error("failed to load transaction ledger", "error", err)
		os.Exit(1)
	}

	watcher := txwatch.New(txwatch.Config{
		Chain:        chain,
		Ledger:       ledger,
		PollInterval: cfg.WatchPollInterval,
		Timeout:      cfg.WatchTimeout,
		PollRPS:      float64(cfg.WatchPollRPS),
		Metrics:      m,
	})
	if err := watcher.Start(); err != nil {
		slog.Error("failed to start transaction watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Stop()

	backend, err := backupstore.BackendFor(cfg.BackupStoreURI, cfg.BackupVaultToken, nil)
	if err != nil {
		slog.Error("failed to initialize backup store", "error", err)
		os.Exit(1)
	}
	uploader := backupstore.NewUploader(backend, sealer, nil)
	defer uploader.Wait()
	slog.Info("initialized backup store", "backend", backend.Name(), "location", backend.LocationURI())

	deps := orchestrator.Deps{
		Composer:        comp,
		Watcher:         watcher,
		Ledger:          ledger,
		Accounts:        manager,
		Service:         service,
		Identity:        service.Tokens(),
		Uploader:        uploader,
		NewDeviceWallet: wallets.Create,
		Device: types.DeviceInfo{
			DeviceID:  uuid.NewString(),
			Name:      cfg.DeviceName,
			Type:      "server",
			UserAgent: "multikey",
		},
		Metrics: m,
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, true)
	}

	server := api.NewServer(api.Config{
		Port:       cfg.Port,
		Deps:       deps,
		BackupType: defaultBackupType(cfg.BackupStoreURI),
		Accounts:   manager,
		Keys:       service,
		OnLogout:   service.Tokens().SignOut,
		Ledger:     ledger,
		Registry:   registry,
		Mover: evm.NewMover(evm.MoverConfig{
			Composer: comp,
			Watcher:  watcher,
			Ledger:   ledger,
			Signers:  manager,
		}),
		Shares:      uploader,
		RateLimiter: limiter,
		Metrics:     m,
	})

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}

// defaultBackupType follows the configured backup destination
func defaultBackupType(locationURI string) types.BackupType {
	u, err := url.Parse(locationURI)
	if err == nil && strings.EqualFold(u.Scheme, "vault") {
		return types.BackupTypeVault
	}
	return types.BackupTypeFile
}
