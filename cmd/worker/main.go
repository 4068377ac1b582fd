package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geocoder89/authportal/internal/config"
	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/geocoder89/authportal/internal/queue/redisclient"
	"github.com/geocoder89/authportal/internal/queue/redisqueue"
	"github.com/geocoder89/authportal/internal/queue/worker"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	if cfg.RedisAddr == "" {
		log.Error("REDIS_ADDR is required for the mail worker")
		os.Exit(1)
	}

	rc, err := redisclient.Connect(ctx, redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}

	defer rc.Close()

	var delivery notifications.Notifier = notifications.NewLogNotifier(log)
	if cfg.SMTPHost != "" {
		delivery = notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}

	// a failing relay trips the breaker, jobs go back on the delayed set
	notifier := notifications.NewProtectedNotifier(delivery, notifications.ProtectedNotifierConfig{})

	prom := observability.NewProm(prometheus.NewRegistry())

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		PollInterval:  time.Second,
		WorkerID:      workerID,
		Concurrency:   cfg.WorkerConcurrency,
		JobTimeout:    10 * time.Second,
		ShutdownGrace: 10 * time.Second,
	}, redisqueue.New(rc.Raw(), redisqueue.DefaultPrefix), notifier, log, prom)

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler:           w.HealthHandler(prom.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker has started", "worker_id", workerID, "concurrency", cfg.WorkerConcurrency, "health_port", cfg.WorkerHealthPort)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	sctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(sctx)

	log.Info("worker shutdown complete", "stats", w.Stats())
}
