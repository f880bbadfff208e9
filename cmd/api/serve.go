package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	_ "github.com/redmonkez12/go-auth-api/docs" // Swagger docs (generated)
	"github.com/redmonkez12/go-auth-api/internal/auth"
	"github.com/redmonkez12/go-auth-api/internal/challenge"
	"github.com/redmonkez12/go-auth-api/internal/config"
	"github.com/redmonkez12/go-auth-api/internal/database"
	"github.com/redmonkez12/go-auth-api/internal/email"
	"github.com/redmonkez12/go-auth-api/internal/guard"
	httpServer "github.com/redmonkez12/go-auth-api/internal/http"
	"github.com/redmonkez12/go-auth-api/internal/logging"
	"github.com/redmonkez12/go-auth-api/internal/metrics"
	"github.com/redmonkez12/go-auth-api/internal/store"
	"github.com/redmonkez12/go-auth-api/internal/token"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"session_format", cfg.Auth.SessionFormat,
		"email_delivery", cfg.Email.Delivery,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	credentials, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, err := initSessions(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}

	sender, closeMail, err := initSender(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMail()

	recorder := metrics.NewRecorder()

	authService := auth.NewService(
		credentials,
		initHasher(cfg.Auth),
		sessions,
		challenge.NewTurnstile(cfg.Challenge.SecretKey, cfg.Challenge.VerifyURL, cfg.Challenge.Timeout),
		token.NewIssuer(cfg.Auth.TokenTTL),
		email.NewMailer(sender, cfg.Email.FrontendURL, cfg.Auth.TokenTTL),
		logger,
		auth.WithRecorder(recorder),
	)

	if cfg.Auth.SweepInterval > 0 {
		go authService.RunSweeper(ctx, cfg.Auth.SweepInterval)
	}

	routes := httpServer.Routes{
		Auth:           auth.NewHandler(authService, cfg.Auth.CookieMaxAge),
		AuthMiddleware: auth.NewMiddleware(authService),
		Metrics:        recorder.Handler(),
	}
	if cfg.Server.FrontendDir != "" {
		logger.Info("serving frontend", "dir", cfg.Server.FrontendDir)
		routes.Frontend = guard.Middleware(authService, guard.Options{
			CookieName: auth.SessionCookieName,
			Recorder:   recorder,
		})(http.FileServer(http.Dir(cfg.Server.FrontendDir)))
	}

	router := httpServer.NewRouter(cfg, routes, logger)
	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

func initStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (auth.CredentialStore, func(), error) {
	if cfg.Storage.Driver == config.StorageMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return store.NewMemory(), func() {}, nil
	}

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store.NewPostgres(db), func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}, nil
}

func initSessions(cfg config.AuthConfig) (auth.SessionAuthority, error) {
	if cfg.SessionFormat == config.SessionPaseto {
		return auth.NewPasetoAuthority(cfg.SessionSecret, cfg.SessionDuration)
	}
	return auth.NewJWTAuthority(cfg.SessionSecret, cfg.SessionDuration)
}

func initHasher(cfg config.AuthConfig) *auth.Hasher {
	if cfg.PasswordHasher == config.HasherArgon2id {
		return auth.NewArgon2idHasher()
	}
	return auth.NewBcryptHasher(cfg.BcryptCost)
}

// initSender picks the delivery mode. In queue mode the returned sender only
// enqueues; a worker started here drains the queue over SMTP.
func initSender(ctx context.Context, cfg *config.Config, logger *logging.Logger) (email.Sender, func(), error) {
	switch cfg.Email.Delivery {
	case config.DeliveryLog:
		return email.NewLogSender(logger), func() {}, nil
	case config.DeliveryQueue:
		smtpSender, err := newSMTPSender(cfg.Email)
		if err != nil {
			return nil, nil, err
		}

		redisClient, err := initRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}

		worker := email.NewWorker(redisClient, cfg.Email.QueueName, smtpSender, cfg.Email.MaxAttempts, logger)
		workerCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("email worker stopped", "error", err)
			}
		}()

		return email.NewQueueSender(redisClient, cfg.Email.QueueName), func() {
			cancel()
			<-done
			if err := redisClient.Close(); err != nil {
				logger.Error("failed to close Redis", "error", err)
			}
		}, nil
	default:
		smtpSender, err := newSMTPSender(cfg.Email)
		if err != nil {
			return nil, nil, err
		}
		return smtpSender, func() {}, nil
	}
}

func newSMTPSender(cfg config.EmailConfig) (*email.SMTPSender, error) {
	sender, err := email.NewSMTPSender(email.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		User:        cfg.SMTPUser,
		Password:    cfg.SMTPPassword,
		From:        cfg.From,
		ImplicitTLS: cfg.ImplicitTLS,
		Timeout:     cfg.SendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SMTP sender: %w", err)
	}
	return sender, nil
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
