package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/events"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("session_store", cfg.Session.Store),
		slog.String("email_provider", cfg.Email.Provider))

	if cfg.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(ctx, cfg.Database.DSN(), logger)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	verificationRepo := repositories.NewEmailVerificationRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	var (
		sessionRepo services.SessionRepository
		redisClient *redis.Client
	)
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		var err error
		redisClient, err = database.NewRedisClient(context.Background(), cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		sessionRepo = repositories.NewRedisSessionStore(redisClient, "warden")
	default:
		sessionRepo = repositories.NewSessionRepository(db)
	}

	// Side effects run off the request path
	dispatcher := events.NewDispatcher(events.Config{
		BufferSize: cfg.Events.BufferSize,
		Workers:    cfg.Events.Workers,
		JobTimeout: cfg.Events.JobTimeout,
	}, logger)

	emailService, err := newEmailService(cfg.Email, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret)
	totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer, cfg.MFA.TOTPSkew)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}
	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost)

	// Initialize services
	auditService := services.NewAuditService(auditRepo, dispatcher, logger)
	notifier := services.NewNotificationService(accountRepo, emailService, dispatcher, logger)
	sessionService := services.NewSessionService(sessionRepo, tokenManager, cfg.Auth, cfg.Session, logger)

	authService := services.NewAuthService(services.AuthDependencies{
		Accounts:     accountRepo,
		Attempts:     loginAttemptRepo,
		Hasher:       hasher,
		Tokens:       tokenManager,
		Lockout:      services.NewLockoutService(accountRepo, notifier, cfg.Lockout, logger),
		Devices:      services.NewDeviceTrustService(accountRepo),
		MFA:          services.NewMFAService(accountRepo, totpManager, tokenManager, cfg.MFA),
		Sessions:     sessionService,
		Anomaly:      services.NewAnomalyService(loginAttemptRepo, cfg.Anomaly),
		Audit:        auditService,
		Notifier:     notifier,
		Verification: services.NewEmailVerificationService(verificationRepo, accountRepo, emailService, cfg.Email.VerifyTokenExpiry, logger),
		Resets:       services.NewPasswordResetService(resetRepo, emailService, cfg.Email.ResetTokenExpiry),
		Dispatcher:   dispatcher,
		Timing:       auth.NewTimingDelay(cfg.Auth.FailedLoginDelay, cfg.Auth.FailedLoginJitter),
		Logger:       logger,
	}, cfg.Auth, cfg.MFA)

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(authService, ipConfig, logger)
	mfaHandler := handlers.NewMFAHandler(authService, ipConfig, logger)
	auditHandler := handlers.NewAuditHandler(auditRepo, logger)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, accountRepo, hasher, cfg.Auth, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	cleanupManager := background.NewCleanupManager(background.CleanupTargets{
		Sessions:      sessionService,
		ResetTokens:   resetRepo,
		Verifications: verificationRepo,
		Attempts:      loginAttemptRepo,
	}, cfg.Auth.AttemptRetention, logger, cfg.Auth.CleanupInterval)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{
		Env:             cfg.Server.Env,
		NoStorePrefixes: []string{"/auth"},
	}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, auditHandler, sessionService, ipConfig, routes.Limits{
		Public: middlewareCustom.RateLimitConfig{
			Requests: cfg.Auth.LoginRateLimit,
			Window:   cfg.Auth.LoginRateWindow,
		},
		Authenticated: middlewareCustom.RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
	})

	router.Handle("/metrics", promhttp.Handler())

	// Health check with database (and redis when it holds sessions)
	var sessionRedis redis.UniversalClient
	if redisClient != nil {
		sessionRedis = redisClient
	}
	deps := database.Dependencies(db, sessionRedis)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, healthy := database.CheckHealth(r.Context(), deps, logger)
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		pkghttp.WriteJSON(w, code, status)
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// drain queued audit writes and notifications
	dispatcher.Close()

	logger.Info("server stopped gracefully", slog.Uint64("dropped_jobs", dispatcher.Dropped()))
}

func newEmailService(cfg config.EmailConfig, logger *slog.Logger) (services.EmailService, error) {
	if cfg.Provider == config.EmailProviderLog {
		return services.NewLogEmailService(cfg.BaseURL, logger), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return services.NewAWSSESEmailService(ctx, cfg.AWSRegion, cfg.FromAddress, cfg.BaseURL, logger)
}

// ensureAdminAccount creates the first admin account if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, repo *repositories.AccountRepository, hasher *pkgauth.Hasher, cfg config.AuthConfig, logger *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	if res := pkgauth.AssessStrength(cfg.AdminPassword); !res.Valid {
		return fmt.Errorf("ADMIN_PASSWORD is too weak: %s", strings.Join(res.Violations, ", "))
	}

	hash, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	username, _, _ := strings.Cut(cfg.AdminEmail, "@")
	created, err := repo.EnsureAdmin(ctx, username, cfg.AdminEmail, hash)
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin account created", slog.String("email", pkglogger.SanitizedEmail(cfg.AdminEmail)))
	} else {
		logger.Info("admin account already exists")
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
