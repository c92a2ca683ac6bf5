package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/logtrap/internal/alerting"
	"github.com/good-yellow-bee/logtrap/internal/alerts"
	"github.com/good-yellow-bee/logtrap/internal/api"
	"github.com/good-yellow-bee/logtrap/internal/api/health"
	"github.com/good-yellow-bee/logtrap/internal/ingest"
	"github.com/good-yellow-bee/logtrap/internal/logging"
	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/notifier"
	"github.com/good-yellow-bee/logtrap/internal/storage"
	"github.com/good-yellow-bee/logtrap/internal/traps"
	"github.com/good-yellow-bee/logtrap/pkg/config"
)

// JWTSecretEnv names the environment variable holding the API signing key.
const JWTSecretEnv = "LOGTRAP_JWT_SECRET"

var (
	configFile string
	httpAddr   string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "logtrap-server",
	Short: "LogTrap Server - log trap evaluation and alerting",
	Long: `LogTrap Server ingests log records, evaluates them against
team-defined traps and fires alerts to the configured channels.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("logtrap-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP API listen address")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load if present")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := loadEnv(envFile); err != nil {
		return err
	}

	var cfg *Config
	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose
	cfg.Server.Verbose = cfg.Server.Verbose || verbose
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	secret := os.Getenv(JWTSecretEnv)
	if len(secret) < 16 {
		return fmt.Errorf("%s must be set to at least 16 characters", JWTSecretEnv)
	}
	cfg.Server.JWTSecret = []byte(secret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.close()

	logger.Info("starting logtrap-server",
		zap.String("version", config.Version),
		zap.String("logs_backend", cfg.Logs.Backend))
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	if err := srv.run(ctx); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// app holds the wired components of a running server.
type app struct {
	cfg    *Config
	logger *zap.Logger

	meta     *storage.SQLiteStorage
	logStore storage.LogStorage
	buffer   *storage.LogBuffer
	redis    *redis.Client

	dispatcher *notifier.Dispatcher
	delivery   *alerts.DeliveryPool
	sweeper    *traps.Sweeper
	consumer   *ingest.KafkaConsumer
	api        *api.Server
	metrics    *metrics.Server
	started    bool
}

func newApp(ctx context.Context, cfg *Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// Auto-create data directory
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a.meta = storage.NewSQLiteStorage(cfg.Database.Path)
	if err := a.meta.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := a.meta.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	var meta storage.Storage = a.meta
	if cfg.Redis.Enabled {
		a.redis = storage.NewRedisClient(&cfg.Redis.RedisConfig)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, trap cache will fall through to the database", zap.Error(err))
		}
		meta = storage.NewCachedStorage(a.meta, a.redis, cfg.Redis.TTL, logger)
	}

	if err := a.openLogStore(); err != nil {
		return nil, err
	}

	var writer ingest.RecordWriter = a.logStore.Logs()
	if cfg.Logs.Buffer.Enabled {
		a.buffer = storage.NewLogBuffer(a.logStore.Logs(), &cfg.Logs.Buffer.LogBufferConfig, logger)
		writer = ingest.BufferWriter(a.buffer)
	}

	patterns := alerting.NewPatternCache(cfg.Engine.PatternCacheSize, cfg.Engine.RegexTimeout, logger)
	evaluator := alerting.NewEvaluator(patterns, a.logStore.Logs(), logger)
	manager := traps.NewManager(meta.Traps(), a.logStore.Logs(), evaluator, cfg.Engine.Limits, logger)

	a.dispatcher = notifier.NewDispatcherWithRateLimit(cfg.Notifications.RateLimit)
	for _, ch := range cfg.Notifications.Channels {
		n, err := notifier.NewNotifier(ch)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.ID, err)
		}
		a.dispatcher.Register(ch.ID, n)
	}
	logger.Info("notification channels registered", zap.Strings("channels", a.dispatcher.Channels()))

	a.delivery = alerts.NewDeliveryPool(a.dispatcher, cfg.Delivery, logger)
	a.delivery.Start()
	coordinator := alerts.NewCoordinator(meta.Traps(), meta.AlertRules(), meta.AlertHistory(), a.delivery, logger)
	pipeline := ingest.NewPipeline(writer, manager, coordinator, logger)

	if cfg.Server.SeedTraps != "" {
		defs, err := traps.LoadDefinitionsFromFile(cfg.Server.SeedTraps)
		if err != nil {
			return nil, fmt.Errorf("seed traps: %w", err)
		}
		created, err := manager.Seed(ctx, cfg.Server.SeedTeam, defs)
		if err != nil {
			return nil, fmt.Errorf("seed traps: %w", err)
		}
		logger.Info("seeded traps",
			zap.String("team_id", cfg.Server.SeedTeam),
			zap.Int("created", created),
			zap.Int("defined", len(defs)))
	}

	if cfg.Sweep.Enabled {
		a.sweeper = traps.NewSweeper(meta.Traps(), evaluator, coordinator, cfg.Sweep, logger)
	}

	if cfg.Kafka.Enabled {
		reader, err := ingest.NewKafkaReader(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("kafka reader: %w", err)
		}
		a.consumer = ingest.NewKafkaConsumer(reader, pipeline, cfg.Kafka.RetryBackoff, logger)
	}

	a.api, err = api.New(&cfg.Server.Config, api.Services{
		Traps:     manager,
		Rules:     alerts.NewRules(meta.AlertRules(), meta.Traps(), a.dispatcher, logger),
		Lifecycle: alerts.NewLifecycle(meta.AlertHistory(), logger),
		Pipeline:  pipeline,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create API server: %w", err)
	}
	a.registerHealthCheckers()

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.Address, logger)
	}
	return a, nil
}

func (a *app) openLogStore() error {
	switch a.cfg.Logs.Backend {
	case BackendClickHouse:
		a.logStore = storage.NewClickHouseStorage(&a.cfg.Logs.ClickHouse, a.logger)
	default:
		if err := os.MkdirAll(filepath.Dir(a.cfg.Logs.SQLitePath), 0750); err != nil {
			return fmt.Errorf("create log data directory: %w", err)
		}
		a.logStore = storage.NewSQLiteLogStorage(a.cfg.Logs.SQLitePath)
	}
	if err := a.logStore.Open(); err != nil {
		a.logStore = nil
		return fmt.Errorf("open %s log store: %w", a.cfg.Logs.Backend, err)
	}
	if err := a.logStore.Migrate(); err != nil {
		return fmt.Errorf("migrate %s log store: %w", a.cfg.Logs.Backend, err)
	}
	return nil
}

func (a *app) registerHealthCheckers() {
	a.api.RegisterHealthChecker(health.NewSQLiteChecker("database", a.meta.DB()))
	a.api.RegisterHealthChecker(health.NewPingChecker("logs", a.logStore))
	if a.redis != nil {
		a.api.RegisterHealthChecker(health.NewRedisChecker(a.redis))
	}
	queueSize := a.cfg.Delivery.QueueSize
	a.api.RegisterHealthChecker(health.NewFuncChecker("delivery", func(ctx context.Context) error {
		if stats := a.delivery.Stats(); stats.Queued >= queueSize {
			return fmt.Errorf("delivery queue full (%d)", stats.Queued)
		}
		return nil
	}))
}

// run starts the background workers and blocks until ctx is cancelled or a
// server fails.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.started = true
	if a.sweeper != nil {
		a.sweeper.Start(ctx)
	}
	if a.consumer != nil {
		a.consumer.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.api.Run(gctx) })
	if a.metrics != nil {
		g.Go(func() error { return a.metrics.Start() })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.metrics.Shutdown(shutdownCtx)
		})
	}
	if a.cfg.Logs.Backend == BackendSQLite {
		g.Go(func() error {
			a.retentionLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

// retentionLoop purges SQLite records older than the configured retention.
func (a *app) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := a.logStore.Logs().DeleteBefore(ctx, time.Now().Add(-a.cfg.Logs.Retention))
			if err != nil {
				a.logger.Warn("log retention purge failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				a.logger.Info("purged expired log records", zap.Int64("deleted", deleted))
			}
		}
	}
}

// close stops workers before the stores they write to.
func (a *app) close() {
	if a.consumer != nil {
		if a.started {
			a.consumer.Wait()
		}
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("close kafka reader", zap.Error(err))
		}
	}
	if a.sweeper != nil && a.started {
		a.sweeper.Stop()
	}
	if a.delivery != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a.delivery.Stop(ctx)
		cancel()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.buffer != nil {
		if err := a.buffer.Close(); err != nil {
			a.logger.Warn("flush log buffer", zap.Error(err))
		}
	}
	if a.logStore != nil {
		a.logStore.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.meta != nil {
		a.meta.Close()
	}
}
