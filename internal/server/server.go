package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/headless-cms/authserver/config"
	"github.com/headless-cms/authserver/internal/db"
	"github.com/headless-cms/authserver/internal/handlers"
	"github.com/headless-cms/authserver/internal/kv"
	"github.com/headless-cms/authserver/internal/metrics"
	"github.com/headless-cms/authserver/internal/mq"
	"github.com/headless-cms/authserver/internal/ratelimit"
	"github.com/headless-cms/authserver/internal/services"
	"github.com/headless-cms/authserver/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services is the wired service layer behind the HTTP routes.
type Services struct {
	Auth      *services.AuthService
	OTP       *services.OTPService
	MagicLink *services.MagicLinkService
	Settings  *services.SettingsService
	Audit     *services.AuditService
	Users     *services.UserService
}

// NewServices builds the service layer over Postgres and the KV store.
func NewServices(cfg config.Config, dbConn *sql.DB, kvStore kv.Store, notifier services.Notifier, logger *slog.Logger) (Services, error) {
	users := store.NewUserRepository(dbConn)
	settings := services.NewSettingsService(store.NewSettingsRepository(dbConn))
	audit := services.NewAuditService(store.NewAuthEventRepository(dbConn), logger)
	tokens := services.NewTokenIssuer(cfg.JWTSecret, services.DefaultSessionTTL, kvStore, logger)

	auth, err := services.NewAuthService(users, settings, tokens, ratelimit.New(kvStore, logger), audit, logger)
	if err != nil {
		return Services{}, err
	}

	return Services{
		Auth:      auth,
		OTP:       services.NewOTPService(store.NewOTPRepository(dbConn), auth, notifier, cfg.JWTSecret, cfg.IsDevelopment()),
		MagicLink: services.NewMagicLinkService(store.NewMagicLinkRepository(dbConn), auth, notifier, cfg.PublicBaseURL, cfg.IsDevelopment()),
		Settings:  settings,
		Audit:     audit,
		Users:     services.NewUserService(users),
	}, nil
}

// NewRouter mounts every route with the standard middleware stack.
func NewRouter(cfg config.Config, svc Services, gatherer prometheus.Gatherer, logger *slog.Logger) *chi.Mux {
	cookies := handlers.CookieConfig{Secure: cfg.CookieSecure, TTL: services.DefaultSessionTTL}
	authn := handlers.NewAuthenticator(svc.Auth, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(logger),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Route("/auth", func(r chi.Router) {
		r.Route("/otp", func(r chi.Router) {
			handlers.OTPRouter(r, handlers.NewOTPHandler(svc.OTP, cookies, logger))
		})
		r.Route("/magic-link", func(r chi.Router) {
			handlers.MagicLinkRouter(r, handlers.NewMagicLinkHandler(svc.MagicLink, cookies, logger))
		})
		handlers.AuthRouter(r, handlers.NewAuthHandler(svc.Auth, cookies, logger), authn)
	})
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, handlers.NewSettingsHandler(svc.Settings, svc.OTP, logger), authn)
	})
	return router
}

// NewRegistry returns a registry with the service and runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterMetrics(reg)
	return reg
}

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	kv         kv.Store
	mq         mq.Backend
	logger     *slog.Logger
}

// New connects to the backing services and builds the HTTP server.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	kvStore, err := kv.Open(ctx, cfg.KV)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	var notifier services.Notifier
	broker, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		logger.Warn("no message broker configured; notifications are only logged")
		notifier = services.NewLogNotifier(logger, cfg.IsDevelopment())
	case err != nil:
		_ = kvStore.Close()
		_ = dbConn.Close()
		return nil, err
	default:
		notifier = services.NewQueueNotifier(broker)
	}

	svc, err := NewServices(cfg, dbConn, kvStore, notifier, logger)
	if err != nil {
		closeAll(logger, dbConn, kvStore, broker)
		return nil, err
	}

	router := NewRouter(cfg, svc, NewRegistry(), logger)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		kv:         kvStore,
		mq:         broker,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the backing connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	closeAll(s.logger, s.db, s.kv, s.mq)
	return err
}

func closeAll(logger *slog.Logger, dbConn *sql.DB, kvStore kv.Store, broker mq.Backend) {
	if broker != nil {
		if err := broker.Close(); err != nil {
			logger.Warn("close message broker", "error", err)
		}
	}
	if kvStore != nil {
		if err := kvStore.Close(); err != nil {
			logger.Warn("close kv store", "error", err)
		}
	}
	if dbConn != nil {
		if err := dbConn.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}
}
