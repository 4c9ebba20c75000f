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

	"github.com/hibiken/asynq"

	"github.com/appointly/appointly/internal/app"
	"github.com/appointly/appointly/internal/auth"
	"github.com/appointly/appointly/internal/companies"
	"github.com/appointly/appointly/internal/observability"
	"github.com/appointly/appointly/internal/platform/cache"
	"github.com/appointly/appointly/internal/platform/db"
	"github.com/appointly/appointly/internal/rbac"
	roleshttp "github.com/appointly/appointly/internal/roles/http"
	"github.com/appointly/appointly/internal/session"
	"github.com/appointly/appointly/internal/users"
	usershttp "github.com/appointly/appointly/internal/users/http"
	"github.com/appointly/appointly/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if cfg.JWTSecret == session.DevelopmentSecret {
		logger.Warn("JWT_SECRET not set, using the development secret")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 20, MaxConnLifetime: time.Hour})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	schema, err := app.PrepareDatabase(ctx, dbpool, cfg.Mode(), logger)
	if err != nil {
		logger.Error("prepare database", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.QueueRedis()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	issuer, err := session.NewIssuer(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer)
	if err != nil {
		logger.Error("init session issuer", slog.Any("error", err))
		os.Exit(1)
	}

	roleStore := app.NewRoleStore(dbpool, schema, logger)
	accountService := users.NewService(users.NewRepository(dbpool), logger)
	authenticator := rbac.NewAuthenticator(issuer, accountService, roleStore, logger, metrics)
	guards := rbac.Guards{Roles: roleStore, Logger: logger}

	authService := auth.NewService(auth.Config{
		Accounts:    accountService,
		Roles:       roleStore,
		Tokens:      issuer,
		OneTime:     auth.NewOneTimeStore(redisClient, cfg.TokenTTLs()),
		Hasher:      auth.BcryptHasher{Cost: cfg.BcryptCost},
		Mailer:      auth.NewQueueMailer(jobClient),
		Metrics:     metrics,
		Logger:      logger,
		FrontendURL: cfg.FrontendURL,
	})
	companyService := companies.NewService(companies.NewRepository(dbpool), roleStore, accountService, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticator:      authenticator,
		AuthHandler:        auth.NewHandler(logger, authService, authenticator, guards),
		RolesHandler:       roleshttp.NewHandler(logger, roleStore, accountService, guards),
		UsersHandler:       usershttp.NewHandler(logger, accountService, guards),
		CompaniesHandler:   companies.NewHandler(logger, companyService, guards),
		PermissionsHandler: rbac.NewPermissionsHandler(),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
