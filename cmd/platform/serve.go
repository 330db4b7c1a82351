package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/adapters/his"
	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/assignment/infrastructure"
	"github.com/carefront/platform/internal/audit"
	"github.com/carefront/platform/internal/commit"
	"github.com/carefront/platform/internal/intake"
	"github.com/carefront/platform/internal/notification"
	"github.com/carefront/platform/internal/pool"
	"github.com/carefront/platform/internal/recommender"
	"github.com/carefront/platform/internal/reconcile"
	"github.com/carefront/platform/internal/shared/auth"
	"github.com/carefront/platform/internal/shared/config"
	"github.com/carefront/platform/internal/shared/database"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/events"
	"github.com/carefront/platform/internal/shared/lock"
	"github.com/carefront/platform/internal/shared/metrics"
	secmiddleware "github.com/carefront/platform/internal/shared/middleware"
	"github.com/carefront/platform/internal/task"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB     *database.DB
	Bus    events.EventBus
	Store  domain.Store
	Redis  *redis.Client
	Locker lock.Locker

	Audit    *audit.Log
	Intake   *intake.Service
	Tasks    *task.Service
	Notifier *notification.Service

	closers []func()
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func runServer() error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Recommender.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("Carefront assignment platform listening",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.String("data_mode", cfg.Data.Mode),
		zap.String("audit_backend", cfg.Data.AuditBackend),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.Bool("limited_mode", app.Intake == nil),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}

// buildApp wires stores, bus, locker and services. In live mode an
// unreachable database leaves the app in limited mode: health and metrics
// are served, the assignment API answers 503.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	switch cfg.Data.Mode {
	case config.DataModeLive:
		startCtx, cancel := withTimeout(ctx)
		db, err := database.New(startCtx, cfg.Database)
		cancel()
		if err != nil {
			logger.Warn("Database not available, running in limited mode", zap.Error(err))
		} else {
			app.DB = db
			app.onClose(db.Close)
			if err := database.Migrate(ctx, db.Pool, logger); err != nil {
				logger.Warn("Migration failed", zap.Error(err))
			}
			app.Store = infrastructure.NewPostgresStore(db.Pool)
		}
	default:
		store := infrastructure.NewMemoryStore()
		resources := infrastructure.GenerateRoster(infrastructure.DefaultRosterConfig())
		if err := infrastructure.Seed(ctx, store, resources); err != nil {
			app.Close()
			return nil, err
		}
		logger.Info("Mock roster seeded", zap.Int("resources", len(resources)))
		app.Store = store
	}

	var kurrent *events.Bus
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(ctx, cfg.KurrentDB, logger)
		if err != nil {
			logger.Warn("KurrentDB not available, using in-process event bus", zap.Error(err))
		} else {
			kurrent = bus
			app.onClose(bus.Close)
			logger.Info("KurrentDB event bus initialized")
		}
	}
	if kurrent != nil {
		app.Bus = kurrent
	} else {
		local := events.NewLocalBus(logger)
		app.onClose(local.Close)
		app.Bus = local
	}

	locker, err := buildLocker(ctx, cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Locker = locker

	auditRepo := buildAuditRepository(cfg, app, kurrent)
	if err := auditRepo.Initialize(ctx); err != nil {
		logger.Warn("Audit initialization failed", zap.Error(err))
	}
	app.Audit = audit.NewLog(auditRepo, logger)

	if err := startNotifications(ctx, cfg, app); err != nil {
		logger.Warn("Staff paging disabled", zap.Error(err))
	}

	if app.Store == nil {
		return app, nil
	}

	var rec recommender.Recommender = recommender.Disabled{}
	if cfg.Recommender.Enabled {
		rec = recommender.NewClient(cfg.Recommender, logger)
	}

	committer := commit.NewService(app.Store, locker, app.Bus, logger)
	engine := reconcile.NewEngine(reconcile.Policy{
		CriticalReviewOnFallback: cfg.Policy.CriticalReviewOnFallback,
	})
	app.Intake = intake.NewService(
		app.Store,
		pool.NewProvider(app.Store, locker),
		rec,
		engine,
		committer,
		app.Audit,
		logger,
	)

	app.Tasks = task.NewService(buildTaskRepository(app), app.Store, committer, logger)
	if err := app.Tasks.Subscribe(ctx, app.Bus); err != nil {
		logger.Warn("Task derivation from assignment events disabled", zap.Error(err))
	}

	if cfg.HIS.Enabled && cfg.Data.Mode == config.DataModeLive {
		startHISImport(ctx, cfg, app, committer)
	}

	return app, nil
}

func buildLocker(ctx context.Context, cfg *config.Config, app *App) (lock.Locker, error) {
	if cfg.Lock.Backend != "redis" {
		return lock.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	startCtx, cancel := withTimeout(ctx)
	defer cancel()
	if err := client.Ping(startCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis lock backend unavailable: %w", err)
	}

	app.Redis = client
	app.onClose(func() { client.Close() })
	return lock.NewRedisLocker(client, lock.RedisConfig{
		Key:  cfg.Redis.LockKey,
		TTL:  cfg.Redis.LockTTL,
		Wait: cfg.Redis.LockWait,
	}), nil
}

func buildAuditRepository(cfg *config.Config, app *App, kurrent *events.Bus) audit.AuditRepository {
	switch cfg.Data.AuditBackend {
	case "postgres":
		if app.DB != nil {
			return audit.NewRepository(app.DB.Pool)
		}
		app.Logger.Warn("Postgres audit backend needs the database, using memory")
	case "kurrentdb":
		if kurrent != nil {
			return audit.NewKurrentDBRepository(kurrent.Client())
		}
		app.Logger.Warn("KurrentDB audit backend needs KurrentDB, using memory")
	}
	return audit.NewMemoryRepository()
}

func buildTaskRepository(app *App) task.TaskRepository {
	if app.DB != nil {
		return task.NewRepository(app.DB.Pool)
	}
	return task.NewMemoryRepository()
}

func startNotifications(ctx context.Context, cfg *config.Config, app *App) error {
	var provider notification.Provider = notification.NewLogProvider(app.Logger)
	if cfg.MQTT.Enabled {
		mqttProvider, err := notification.NewMQTTProvider(cfg.MQTT, app.Logger)
		if err != nil {
			app.Logger.Warn("MQTT broker not available, logging staff pages", zap.Error(err))
		} else {
			app.onClose(mqttProvider.Close)
			provider = mqttProvider
		}
	}

	notifier := notification.NewService(provider, notification.DefaultServiceConfig(), app.Logger)
	if err := notifier.Start(ctx); err != nil {
		return err
	}
	app.onClose(func() { _ = notifier.Stop() })

	if err := notifier.Subscribe(ctx, app.Bus); err != nil {
		return err
	}
	app.Notifier = notifier
	return nil
}

func startHISImport(ctx context.Context, cfg *config.Config, app *App, roster his.RosterWriter) {
	startCtx, cancel := withTimeout(ctx)
	defer cancel()

	hisDB, err := his.Open(startCtx, cfg.HIS)
	if err != nil {
		app.Logger.Warn("HIS not available, roster import disabled", zap.Error(err))
		return
	}
	app.onClose(func() { hisDB.Close() })

	importer := his.NewImporter(hisDB, roster, cfg.HIS, app.Logger)
	go importer.Run(ctx, cfg.HIS.Interval)
}

// Router builds the HTTP handler
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(secmiddleware.RequestLogger(a.Logger))
	r.Use(chimw.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))

	r.Get("/health", a.healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	limiter := secmiddleware.NewIPRateLimiter(a.Config.RateLimit.RPS, a.Config.RateLimit.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(secmiddleware.InputSanitizer)
		r.Use(auth.Middleware(a.Config.Auth))

		r.Mount("/audit", audit.NewHandler(a.Audit).Routes())

		if a.Intake == nil {
			r.NotFound(limitedMode)
			return
		}
		r.Mount("/tasks", task.NewHandler(a.Tasks).Routes())
		r.Mount("/", intake.NewHandler(a.Intake).Routes())
	})

	return r
}

func limitedMode(w http.ResponseWriter, r *http.Request) {
	appErr := errors.Unavailable("assignment store not available", nil)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(appErr)
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Carefront Assignment Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"server": "ready",
	}

	if a.Store != nil {
		if err := a.Store.Health(r.Context()); err != nil {
			checks["store"] = "not ready: " + err.Error()
		} else {
			checks["store"] = "ready"
		}
	} else {
		checks["store"] = "not ready: database unavailable"
	}

	if a.Bus != nil {
		if err := a.Bus.Health(); err != nil {
			checks["event_bus"] = "not ready: " + err.Error()
		} else {
			checks["event_bus"] = "ready"
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Ping(r.Context()).Err(); err != nil {
			checks["redis"] = "not ready: " + err.Error()
		} else {
			checks["redis"] = "ready"
		}
	}

	allReady := true
	for _, status := range checks {
		if status != "ready" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
		"checks": checks,
	})
}
