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

	"github.com/geocoder89/authportal/internal/auth"
	"github.com/geocoder89/authportal/internal/config"
	"github.com/geocoder89/authportal/internal/db"
	"github.com/geocoder89/authportal/internal/domain/user"
	httpx "github.com/geocoder89/authportal/internal/http"
	"github.com/geocoder89/authportal/internal/http/handlers"
	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/geocoder89/authportal/internal/queue/redisclient"
	"github.com/geocoder89/authportal/internal/queue/redisqueue"
	"github.com/geocoder89/authportal/internal/repo/memory"
	mongorepo "github.com/geocoder89/authportal/internal/repo/mongo"
	"github.com/geocoder89/authportal/internal/repo/postgres"
	"github.com/geocoder89/authportal/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "authportal-api"

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: serviceName,
		Env:         cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	users, closeStore, err := openUserStore(ctx, cfg, prom, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := db.EnsureAdminUser(ctx, users, cfg); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	health := map[string]handlers.Pinger{"users": users}

	// redis backs both sessions and the mail queue when configured
	var (
		sessions session.Store
		notifier notifications.Notifier
	)
	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(ctx, redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer rc.Close()

		sessions = session.NewRedisStore(rc.Raw())
		notifier = notifications.NewQueueNotifier(redisqueue.New(rc.Raw(), redisqueue.DefaultPrefix), 0)
		health["redis"] = rc
		log.Info("redis enabled", "addr", cfg.RedisAddr)
	} else {
		mem := session.NewMemoryStore()
		go sweepSessions(ctx, mem, log)

		sessions = mem
		notifier = directNotifier(cfg, log)
		log.Warn("REDIS_ADDR not set, sessions are kept in memory and mail is sent inline")
	}

	tokens := session.NewManager(cfg.AuthSecret)
	svc := auth.New(authOptions(cfg, notifier), users, sessions, tokens, log, prom)

	router, err := httpx.NewRouter(httpx.Deps{
		Env:              cfg.Env,
		ServiceName:      serviceName,
		Log:              log,
		Prom:             prom,
		Auth:             svc,
		Cookies:          session.NewCookies(tokens, cfg.IsProd()),
		GatePublicBypass: cfg.GatePublicBypass,
	})
	if err != nil {
		return err
	}

	// health checks and metrics stay off the gated app port
	opsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:           httpx.NewOpsRouter(httpx.OpsDeps{Env: cfg.Env, Prom: prom, Health: health}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver, "providers", svc.EnabledProviders())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("ops server starting", "port", cfg.OpsPort)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	log.Info("server shutting down")

	sctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	_ = opsSrv.Shutdown(sctx)
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

// openUserStore picks the persistence backend named by STORE_DRIVER.
func openUserStore(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (user.Store, func(), error) {
	switch cfg.StoreDriver {
	case "mongo":
		client, err := db.NewMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		repo := mongorepo.NewUsersRepo(client.Database(cfg.MongoDatabase), "users", prom)

		ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := repo.EnsureIndexes(ictx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}

		log.Info("user store ready", "driver", "mongo", "database", cfg.MongoDatabase)
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil

	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := db.ApplyMigrations(pool); err != nil {
			pool.Close()
			return nil, nil, err
		}

		log.Info("user store ready", "driver", "postgres")
		return postgres.NewUsersRepo(pool, prom), pool.Close, nil

	case "memory":
		log.Warn("using the in-memory user store, accounts are lost on restart")
		return memory.NewUsersRepo(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// directNotifier sends from the request path: SMTP behind a breaker when a
// host is configured, the log otherwise.
func directNotifier(cfg config.Config, log *slog.Logger) notifications.Notifier {
	if cfg.SMTPHost == "" {
		return notifications.NewLogNotifier(log)
	}

	smtp := notifications.NewSMTPNotifier(notifications.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	return notifications.NewProtectedNotifier(smtp, notifications.ProtectedNotifierConfig{})
}

func authOptions(cfg config.Config, sender notifications.Notifier) auth.Options {
	opts := auth.DefaultOptions()
	opts.BaseURL = cfg.BaseURL
	opts.Secret = cfg.AuthSecret
	opts.TrustedOrigins = cfg.TrustedOrigins

	opts.EmailAndPassword.RequireEmailVerification = cfg.RequireEmailVerification
	opts.EmailVerification.SendOnSignUp = cfg.SendVerificationOnSignUp
	opts.EmailVerification.Sender = sender
	opts.Session.ExpiresIn = cfg.SessionTTL

	opts.SocialProviders.Google = auth.ProviderCredentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret}
	opts.SocialProviders.GitHub = auth.ProviderCredentials{ClientID: cfg.GitHubClientID, ClientSecret: cfg.GitHubClientSecret}

	return opts
}

func sweepSessions(ctx context.Context, store *session.MemoryStore, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				log.Debug("expired sessions swept", "count", n)
			}
		}
	}
}
