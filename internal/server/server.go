package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/authsvc/apiserver/config"
	"github.com/authsvc/apiserver/internal/db"
	"github.com/authsvc/apiserver/internal/handlers"
	"github.com/authsvc/apiserver/internal/mq"
	"github.com/authsvc/apiserver/internal/ratelimit"
	"github.com/authsvc/apiserver/internal/security"
	"github.com/authsvc/apiserver/internal/services"
	"github.com/authsvc/apiserver/internal/storage"
	"github.com/authsvc/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server wraps the HTTP server, the router and every connection it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	mq         mq.Backend
	redis      *redis.Client
	logger     *zap.Logger
}

// New wires stores, services and routes from cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	privateKey, err := security.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	publicKey, err := security.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Server{db: dbConn, logger: logger}

	objects, err := storage.NewBackend(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	photos := storage.NewPhotoStore(objects, cfg.Storage)
	if err := photos.EnsureBucket(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	broker, err := mq.NewBackend(ctx, cfg.MQ)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("init mq: %w", err)
	}
	var notifier services.OTPNotifier = mq.NewLogNotifier(logger)
	if broker != nil {
		s.mq = broker
		notifier = mq.NewOTPChannel(broker, cfg.MQ.OTPChannel, logger)
	} else {
		logger.Warn("no message broker configured, otp codes are only logged")
	}

	routerOpts := handlers.RouterOptions{
		Logger:         logger,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	}
	if cfg.Redis.Addr != "" {
		s.redis = ratelimit.NewClient(cfg.Redis)
		limiter := ratelimit.New(s.redis, cfg.Redis, "ratelimit:auth")
		routerOpts.RateLimit = handlers.RateLimit(limiter, logger)
	}

	tokens := security.NewTokenCodec(
		privateKey,
		publicKey,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
		cfg.Auth.TokenTypeLabel,
	)

	accounts := store.NewUserRepository(dbConn)
	sessions := store.NewSessionRepository(dbConn)

	authService := services.NewAuthService(
		accounts,
		sessions,
		security.NewHasher(cfg.Auth.BcryptCost),
		security.NewOTPGenerator(cfg.Auth.OTPDigits),
		tokens,
		notifier,
		cfg.Auth,
		logger.Named("auth"),
	)
	profileService := services.NewProfileService(accounts, photos, logger.Named("profile"))

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(logger.Named("http")),
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz(dbConn))
	router.Route(cfg.APIPrefix+"/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, profileService, routerOpts)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the owned connections.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.mq != nil {
		if err := s.mq.Close(); err != nil {
			s.logger.Warn("close mq", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis", zap.Error(err))
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
