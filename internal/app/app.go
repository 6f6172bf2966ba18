package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/relay/internal/config"
	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/encoder"
	"github.com/MrSnakeDoc/relay/internal/httpserver"
	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
	"github.com/MrSnakeDoc/relay/internal/logger"
	"github.com/MrSnakeDoc/relay/internal/process"
	"github.com/MrSnakeDoc/relay/internal/reconcile"
	"github.com/MrSnakeDoc/relay/internal/redis"
	"github.com/MrSnakeDoc/relay/internal/scheduler"
	"github.com/MrSnakeDoc/relay/internal/secret"
	"github.com/MrSnakeDoc/relay/internal/sources/streamfile"
	"github.com/MrSnakeDoc/relay/internal/storage"
	"github.com/MrSnakeDoc/relay/internal/store"
	filestore "github.com/MrSnakeDoc/relay/internal/store/file"
	redisstore "github.com/MrSnakeDoc/relay/internal/store/redis"
	"github.com/MrSnakeDoc/relay/internal/supervisor"
	"github.com/MrSnakeDoc/relay/internal/utils"
	"github.com/MrSnakeDoc/relay/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	supervisor  *supervisor.Supervisor
	schedule    *scheduler.DailyScheduler
	ready       *atomic.Bool
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	bootCtx := context.Background()

	// State backend - fail fast if unavailable
	base, redisClient, err := openStore(bootCtx, cfg, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to open state backend: %v", err)
		os.Exit(1)
	}

	var sealer store.Sealer
	if cfg.EncryptionKey != "" {
		box, err := secret.New(cfg.EncryptionKey)
		if err != nil {
			loggerClient.Errorf("Invalid RELAY_ENCRYPTION_KEY: %v", err)
			os.Exit(1)
		}
		sealer = box
	} else {
		loggerClient.Info("no encryption key configured, API-supplied stream keys will be refused")
	}
	st := store.WithSealedKeys(base, sealer)

	if cfg.StreamFile != "" {
		seeder := scheduler.NewConfigSeeder(streamfile.NewLoader(cfg.StreamFile), st, loggerClient)
		if _, err := seeder.Sync(bootCtx); err != nil {
			loggerClient.Warn("failed to seed stream config from file",
				logger.String("file", cfg.StreamFile),
				logger.Error(err))
		}
	}

	media, err := storage.New(storage.Config{
		Provider:        cfg.StorageProvider,
		Bucket:          cfg.StorageBucket,
		AccessKeyID:     cfg.StorageAccessKey,
		SecretAccessKey: cfg.StorageSecretKey,
		Region:          cfg.StorageRegion,
		Endpoint:        cfg.StorageEndpoint,
		URLExpiry:       cfg.StorageURLExpiry,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to initialize storage: %v", err)
		os.Exit(1)
	}

	// Orphan reconciliation runs before the supervisor takes ownership.
	encoderOpts := encoder.Options{Path: cfg.EncoderPath, VideoBitrate: cfg.EncoderVideoBitrate}
	reconciler := reconcile.New(st, process.NewTable(), func(s domain.StreamState) process.Signature {
		exe := s.Executable
		if exe == "" {
			exe = cfg.EncoderPath
		}
		sig := encoder.Signature(exe)
		if s.StartedAt != nil {
			sig.StartedAt = *s.StartedAt
		}
		return sig
	}, reconcile.Options{StopTimeout: cfg.OrphanStopTimeout, Poll: cfg.StopPoll}, loggerClient)

	state, outcome, err := reconciler.Run(bootCtx)
	if err != nil {
		loggerClient.Warn("reconciliation could not persist its result", logger.Error(err))
	}
	loggerClient.Info("boot reconciliation finished",
		logger.String("outcome", string(outcome)),
		logger.String("status", string(state.Status)))

	monitor := encoder.NewMonitor()
	monitor.OnFailure(func(msg string) {
		loggerClient.Warn("encoder reported a connection failure", logger.String("detail", msg))
	})

	sup := supervisor.New(supervisor.Dependencies{
		Store:    st,
		Resolver: media,
		Launcher: process.NewExecLauncher(loggerClient, "[ENCODER]", "[ENCODER ERR]"),
		Monitor:  monitor,
		Log:      loggerClient.With(logger.String("component", "supervisor")),
	}, supervisor.Options{
		Encoder:          encoderOpts,
		DefaultRTMPURL:   cfg.RTMPURL,
		DefaultStreamKey: cfg.StreamKey,
		HealthInterval:   cfg.HealthInterval,
		StopTimeout:      cfg.StopTimeout,
		StopPoll:         cfg.StopPoll,
	})
	sup.Restore(state)

	scheduleTrigger := make(chan struct{}, 1)
	schedule := scheduler.NewDailyScheduler(sup, loggerClient, cfg.ScheduleInterval, scheduleTrigger)

	ready := &atomic.Bool{}
	ready.Store(true)

	d := deps.Deps{
		Logger:          loggerClient,
		StartTime:       time.Now(),
		Version:         version.Version,
		Commit:          version.Commit,
		BuildDate:       version.BuildDate,
		GoVersion:       version.GoVersion,
		TimeNow:         time.Now,
		AllowedHosts:    cfg.AllowedHosts,
		AllowedCIDRS:    cfg.AllowedCIDRS,
		TrustProxy:      cfg.TrustProxy,
		APIToken:        cfg.APIToken,
		CORSOrigins:     cfg.CORSOrigins,
		Stream:          sup,
		Media:           media,
		MaxUploadBytes:  int64(cfg.MaxUploadMB) << 20,
		UploadTimeout:   cfg.UploadTimeout,
		Store:           st,
		Ready:           ready.Load,
		ScheduleTrigger: scheduleTrigger,
	}

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      httpserver.New(cfg, loggerClient, d),
		redisClient: redisClient,
		supervisor:  sup,
		schedule:    schedule,
		ready:       ready,
	}
}

func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (store.Store, *goredis.Client, error) {
	if cfg.StateBackend != "redis" {
		s, err := filestore.New(cfg.DataDir, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("file state backend ready", logger.String("dir", cfg.DataDir))
		return s, nil, nil
	}

	log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	client, err := redis.New(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("Redis initialized successfully")
	return redisstore.NewStore(client, log), client, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting relay v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.schedule.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.logger.Info("daily scheduler started",
		logger.Duration("interval", a.cfg.ScheduleInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
		a.logger.Error("http server failed, stopping stream", logger.Error(runErr))
	}
	a.ready.Store(false)

	a.schedule.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("failed to stop http server cleanly", logger.Error(err))
	}

	// The stream is stopped exactly like an operator stop.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), a.cfg.StopTimeout+a.cfg.ShutdownTimeout)
	defer cancelStop()
	if err := a.supervisor.Shutdown(stopCtx); err != nil {
		a.logger.Error("stream did not stop cleanly", logger.Error(err))
	}

	if a.redisClient != nil {
		utils.CloseLogged(a.redisClient, "redis", a.logger)
	}

	_ = a.logger.Sync()
	a.logger.Info("✅ relay stopped cleanly")
	return runErr
}
