package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ryanbastic/go-diary/internal/api"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/circuitbreaker"
	"github.com/ryanbastic/go-diary/internal/config"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/events"
	"github.com/ryanbastic/go-diary/internal/fhe"
	"github.com/ryanbastic/go-diary/internal/ledger"
	"github.com/ryanbastic/go-diary/internal/metrics"
	"github.com/ryanbastic/go-diary/internal/shard"
	"github.com/ryanbastic/go-diary/internal/storage"
)

// backends is the storage wired for one process.
type backends struct {
	router     *shard.Router
	pools      map[string]*pgxpool.Pool
	primary    *pgxpool.Pool
	checkpoint events.Checkpoint
	plugins    events.PluginStore
}

func (b *backends) close() {
	for _, p := range b.pools {
		p.Close()
	}
}

func (b *backends) pingers() map[string]api.Pinger {
	out := make(map[string]api.Pinger, len(b.pools))
	for name, p := range b.pools {
		out[name] = p
	}
	return out
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var b *backends
	switch cfg.StorageBackend {
	case config.BackendMemory:
		b = memoryBackends(cfg)
		logger.Warn("using in-memory storage; entries are lost on restart")
	default:
		b, err = postgresBackends(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to set up postgres storage", "error", err)
			os.Exit(1)
		}
	}
	defer b.close()

	ciphertexts, err := ciphertextStore(ctx, cfg, b.primary)
	if err != nil {
		logger.Error("failed to set up ciphertext storage", "error", err)
		os.Exit(1)
	}

	keys, err := fhe.LoadOrGenerateKeys(cfg.FHEKeyDir, cfg.FHELogN, logger)
	if err != nil {
		logger.Error("failed to load FHE keys", "error", err)
		os.Exit(1)
	}
	signer, err := auth.NewProofSignerHex(cfg.InputSigningSeed)
	if err != nil {
		logger.Error("invalid input signing seed", "error", err)
		os.Exit(1)
	}
	if cfg.InputSigningSeed == "" {
		logger.Warn("INPUT_SIGNING_SEED not set; proofs will not verify after restart")
	}
	authority := auth.NewAuthority([]byte(cfg.AuthSecret), cfg.AuthTTL)
	if cfg.AuthIssueEnabled {
		logger.Warn("AUTH_ISSUE_ENABLED is on; any caller can obtain grants for any owner")
	}

	cp := fhe.NewCoprocessor(keys, ciphertexts, signer, authority, logger)
	contract := ledger.New(cfg.ContractAddress, b.router, cp.Verifier(), logger)
	contract.SetMaxTextChars(cfg.MaxTextChars)
	logger.Info("contract ready", "address", contract.Address(), "shards", cfg.NumShards,
		"fhe_log_n", cfg.FHELogN, "max_text_chars", contract.MaxTextChars())

	// Event delivery
	pluginRegistry := events.NewPluginRegistry()
	if b.plugins != nil {
		restored, err := b.plugins.ListPlugins(ctx)
		if err != nil {
			logger.Error("failed to load plugins", "error", err)
			os.Exit(1)
		}
		pluginRegistry.Restore(restored)
		logger.Info("plugins restored", "count", len(restored))
	}
	breakers := circuitbreaker.NewGroup(cfg.EventBreakerFailures, cfg.EventBreakerReset)
	rpcClient := events.NewRPCClient(cfg.EventRetryMax, cfg.EventRetryBackoff, cfg.EventRPCTimeout, breakers)

	eventRegistry := events.NewRegistry()
	events.NewNotifier(pluginRegistry, b.plugins, rpcClient, contract.Address(), logger).Attach(eventRegistry)

	watcher := events.NewWatcher(eventRegistry, b.checkpoint, b.router, cfg.EventPollInterval, cfg.EventBatchSize, logger)
	watcher.Start(ctx)
	contract.Subscribe(func(_ context.Context, ev diary.Created) {
		watcher.Wake(shard.ForOwner(ev.Owner, b.router.NumShards()))
	})
	logger.Info("event watcher started", "events", eventRegistry.Events())

	// Start HTTP server
	handler := api.NewServer(api.Deps{
		Logger:              logger,
		Contract:            contract,
		Coprocessor:         cp,
		Authority:           authority,
		Plugins:             pluginRegistry,
		PluginStore:         b.plugins,
		Backends:            b.pingers(),
		IssueAuthorizations: cfg.AuthIssueEnabled,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	// Stop watchers; each saves its final checkpoint.
	cancel()
	watcher.Wait()

	logger.Info("shutdown complete")
}

func memoryBackends(cfg config.Config) *backends {
	router := shard.NewRouter(cfg.NumShards)
	for i := 0; i < cfg.NumShards; i++ {
		router.Register(shard.ID(i), storage.NewMemoryStore())
	}
	return &backends{router: router, checkpoint: events.NewMemoryCheckpoint()}
}

// postgresBackends opens one pool per configured backend, migrates its shard
// range and registers a store per shard. Shared tables live on the backend
// owning shard 0.
func postgresBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backends, error) {
	shardCfg, err := config.LoadShardConfig(cfg.ShardConfigPath, cfg.NumShards)
	if err != nil {
		return nil, err
	}

	b := &backends{router: shard.NewRouter(cfg.NumShards), pools: make(map[string]*pgxpool.Pool)}
	for _, bc := range shardCfg.Backends {
		poolCfg, err := pgxpool.ParseConfig(bc.DatabaseURL)
		if err != nil {
			b.close()
			return nil, err
		}
		if bc.MaxConns > 0 {
			poolCfg.MaxConns = bc.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			b.close()
			return nil, err
		}
		b.pools[bc.Name] = pool

		if err := pool.Ping(ctx); err != nil {
			b.close()
			return nil, err
		}
		logger.Info("connected to database", "backend", bc.Name, "shards", bc.Shards())

		if err := storage.RunMigrationsForPool(ctx, pool, bc.ShardStart, bc.ShardEnd); err != nil {
			b.close()
			return nil, err
		}
		for i := bc.ShardStart; i <= bc.ShardEnd; i++ {
			b.router.Register(shard.ID(i), storage.NewPostgresStore(pool, i, cfg.QueryTimeout))
		}
		if bc.ShardStart == 0 {
			b.primary = pool
		}
	}

	if err := storage.RunSharedMigrations(ctx, b.primary); err != nil {
		b.close()
		return nil, err
	}
	logger.Info("migrations complete", "backends", len(b.pools), "shards", cfg.NumShards)

	b.checkpoint = events.NewPostgresCheckpoint(b.primary)
	b.plugins = events.NewPostgresPluginStore(b.primary, cfg.QueryTimeout)
	prometheus.MustRegister(metrics.NewPoolCollector(b.pools))
	return b, nil
}

func ciphertextStore(ctx context.Context, cfg config.Config, primary *pgxpool.Pool) (fhe.CiphertextStore, error) {
	switch cfg.CiphertextBackend {
	case config.BackendS3:
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3CiphertextStore(client, cfg.S3Bucket), nil
	case config.BackendPostgres:
		if primary == nil {
			return nil, errors.New("postgres ciphertext storage requires postgres entry storage")
		}
		return storage.NewPostgresCiphertextStore(primary, cfg.QueryTimeout), nil
	default:
		return fhe.NewMemoryStore(), nil
	}
}
