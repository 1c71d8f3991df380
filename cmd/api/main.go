package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/calebthorne/bastion/internal/auth"
	"github.com/calebthorne/bastion/internal/config"
	"github.com/calebthorne/bastion/internal/database"
	"github.com/calebthorne/bastion/internal/handlers"
	middlewareCustom "github.com/calebthorne/bastion/internal/middleware"
	"github.com/calebthorne/bastion/internal/models"
	"github.com/calebthorne/bastion/internal/repositories"
	"github.com/calebthorne/bastion/internal/routes"
	"github.com/calebthorne/bastion/internal/services"
	"github.com/calebthorne/bastion/internal/session"
	pkgauth "github.com/calebthorne/bastion/pkg/auth"
	pkghttp "github.com/calebthorne/bastion/pkg/httpx"
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

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Run migrations
	if err := database.Migrate(cfg.Database.DSN()); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize session store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	pingCancel()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	clearanceRepo := repositories.NewClearanceRepository(db)
	accessListRepo := repositories.NewAccessListRepository(db)
	settingRepo := repositories.NewSettingRepository(db)
	eventRepo := repositories.NewEventRepository(db)

	// Load runtime settings from the database over the defaults
	settingsStore := services.NewSettingsStore(settingRepo, logger)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := settingsStore.Load(loadCtx); err != nil {
		loadCancel()
		logger.Error("failed to load security settings", slog.Any("error", err))
		os.Exit(1)
	}
	loadCancel()

	// Initialize services
	eventLog := services.NewEventLog(eventRepo, logger)
	lockoutManager := services.NewLockoutManager(attemptRepo, clearanceRepo, settingsStore, eventLog, logger)
	rateLimiter := services.NewRateLimiter(accessListRepo, lockoutManager, settingsStore, eventLog, logger)
	accessListService := services.NewAccessListService(accessListRepo, eventLog, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    100,
		RandomDelayMs:  100,
		DelayOnSuccess: true,
	})

	authService := services.NewAuthService(userRepo, rateLimiter, attemptRepo, lockoutManager, settingsStore, eventLog, timingDelay, logger)

	// Session plumbing. Redis TTL is the absolute backstop; the guard
	// enforces the idle timeout per request.
	cookieConfig := session.CookieConfig{
		Domain:   cfg.Guard.CookieDomain,
		Secure:   cfg.Guard.CookieSecure,
		SameSite: cfg.Guard.CookieSameSite,
	}
	sessionStore := session.NewRedisStore(redisClient, 2*cfg.Guard.SessionIdleTimeout)
	sessionGuard := session.NewGuard(sessionStore, eventLog, cookieConfig, cfg.Guard.SessionIdleTimeout, logger)
	csrfGuard := auth.NewCsrfGuard(sessionGuard)
	rememberManager := auth.NewRememberManager(cfg.Guard.RememberSecret, cookieConfig, 30*24*time.Hour)
	tokenManager := auth.NewServiceTokenManager(cfg.Guard.ServiceTokenSecret, cfg.Guard.ServiceTokenExpiry)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	guard := auth.NewMiddleware(sessionGuard, csrfGuard, rememberManager, userRepo, eventLog, ipConfig, cookieConfig, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, sessionGuard, csrfGuard, rememberManager, ipConfig)
	adminHandler := handlers.NewSecurityAdminHandler(accessListService, lockoutManager, attemptRepo, eventLog, tokenManager, settingRepo, settingsStore)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, adminHandler, guard, tokenManager)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodic ledger pruning
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	go pruneLoop(pruneCtx, attemptRepo, logger)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	pruneCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// pruneLoop drops expired login attempts on an hourly cadence. Eligibility
// checks never read expired rows, so this is housekeeping only.
func pruneLoop(ctx context.Context, attempts *repositories.AttemptRepository, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			pruned, err := attempts.PruneExpired(pruneCtx)
			cancel()
			if err != nil {
				logger.Error("failed to prune login attempts", slog.Any("error", err))
				continue
			}
			if pruned > 0 {
				logger.Info("pruned expired login attempts", slog.Int64("count", pruned))
			}
		}
	}
}

// ensureAdminUser creates the first admin user if ADMIN_USERNAME and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminPassword == "" {
		logger.Info("no ADMIN_USERNAME or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Username:     adminUsername,
		PasswordHash: hashedPassword,
		Role:         models.RoleAdmin,
		Active:       true,
	}
	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("username", adminUsername))
	return nil
}
