package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	chatapi "github.com/whistleline/platform/internal/chat/api"
	"github.com/whistleline/platform/internal/chat/broker"
	chat "github.com/whistleline/platform/internal/chat/domain"
	chatinfra "github.com/whistleline/platform/internal/chat/infrastructure"
	"github.com/whistleline/platform/internal/credential"
	"github.com/whistleline/platform/internal/memory"
	reportapi "github.com/whistleline/platform/internal/report/api"
	report "github.com/whistleline/platform/internal/report/domain"
	reportinfra "github.com/whistleline/platform/internal/report/infrastructure"
	"github.com/whistleline/platform/internal/report/service"
	"github.com/whistleline/platform/internal/shared/auth"
	"github.com/whistleline/platform/internal/shared/config"
	"github.com/whistleline/platform/internal/shared/database"
	"github.com/whistleline/platform/internal/shared/events"
	"github.com/whistleline/platform/internal/shared/logger"
	"github.com/whistleline/platform/internal/shared/metrics"
	secmiddleware "github.com/whistleline/platform/internal/shared/middleware"
	"github.com/whistleline/platform/internal/staff"
	"github.com/whistleline/platform/internal/token"
)

const maxBodyBytes = 1 << 20

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *database.DB
	Redis  *redis.Client
	Bus    events.EventBus

	Reports report.Repository
	Chat    chat.Repository
	Staff   staff.Repository
	Session token.SessionStore
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	app := &App{Config: cfg, Log: log}

	if err := app.initStorage(ctx); err != nil {
		log.Fatal().Err(err).Msg("storage initialization failed")
	}
	defer app.close()

	app.initEventBus()

	tokens, err := token.NewService(cfg.Auth, app.Session, log)
	if err != nil {
		log.Fatal().Err(err).Msg("token service initialization failed")
	}
	hasher := credential.NewHasher(cfg.Auth.BcryptCost)

	chatBroker := broker.New(app.Chat, app.Bus, log)
	reportService := service.New(app.Reports, chatBroker, app.Staff, tokens, hasher, cfg.Reporter, app.Bus, log)
	staffService := staff.NewService(app.Staff, tokens, hasher, app.Bus, log)

	if cfg.Bootstrap.AdminEmail != "" {
		created, err := staffService.EnsureSuperAdmin(ctx, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, "")
		if err != nil {
			log.Fatal().Err(err).Msg("bootstrap admin failed")
		}
		if created {
			log.Info().Str("email", cfg.Bootstrap.AdminEmail).Msg("bootstrap super admin created")
		}
	}

	reportHandler := reportapi.NewHandler(reportService, log)
	chatHandler := chatapi.NewHandler(chatBroker, log)
	staffHandler := staff.NewHandler(staffService, log)

	trustedProxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid trusted proxies")
	}
	loginLimiter := secmiddleware.NewIPRateLimiter(cfg.Reporter.LoginRatePerSecond, cfg.Reporter.LoginBurst)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(secmiddleware.RealIP(trustedProxies))
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(secmiddleware.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(secmiddleware.BodyLimit(maxBodyBytes))
	r.Use(metrics.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		authn := auth.Middleware(tokens)

		// Submission is anonymous, listing and status changes need a token
		r.Mount("/reports", reportHandler.Routes(authn))
		r.With(loginLimiter.Middleware).Post("/auth/reporter", reportHandler.Authenticate)

		// Staff sessions
		r.With(loginLimiter.Middleware).Post("/auth/admin", staffHandler.Login)
		r.Post("/auth/refresh", staffHandler.Refresh)
		r.Post("/auth/logout", staffHandler.Logout)

		r.With(authn).Mount("/rooms", chatHandler.Routes())
	})

	if sweeper, ok := app.Session.(*token.PostgresStore); ok {
		go sweepSessions(ctx, sweeper, log)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Backend).
		Str("sessions", cfg.Storage.SessionStore).
		Bool("kurrentdb", cfg.KurrentDB.Host != "").
		Msg("whistleline platform starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}

	<-done
	log.Info().Msg("server stopped")
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.DB = db
		if err := database.Migrate(ctx, db.Pool, a.Log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		a.Reports = reportinfra.NewPostgresRepository(db.Pool)
		a.Chat = chatinfra.NewPostgresRepository(db.Pool)
		a.Staff = staff.NewPostgresRepository(db.Pool)
	default:
		a.Log.Warn().Msg("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		a.Reports = store.Reports()
		a.Chat = store.Chat()
		a.Staff = store.Staff()
	}

	switch cfg.Storage.SessionStore {
	case config.StoragePostgres:
		a.Session = token.NewPostgresStore(a.DB.Pool)
	case config.StorageRedis:
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.Session = token.NewRedisStore(a.Redis)
	default:
		a.Session = token.NewMemoryStore()
	}
	return nil
}

// initEventBus falls back to the log when KurrentDB is not configured or not
// reachable.
func (a *App) initEventBus() {
	if a.Config.KurrentDB.Host == "" {
		a.Bus = events.NewLogBus(a.Log)
		return
	}
	bus, err := events.NewBus(a.Config.KurrentDB)
	if err != nil {
		a.Log.Warn().Err(err).Msg("KurrentDB not available, events go to the log")
		a.Bus = events.NewLogBus(a.Log)
		return
	}
	a.Log.Info().Str("host", a.Config.KurrentDB.Host).Msg("KurrentDB event bus initialized")
	a.Bus = bus
}

func (a *App) close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func sweepSessions(ctx context.Context, store *token.PostgresStore, log zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("session purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("removed", n).Msg("expired sessions purged")
			}
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		}

		if err := app.Bus.Health(); err != nil {
			checks["events"] = "not ready: " + err.Error()
		} else {
			checks["events"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
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
}
