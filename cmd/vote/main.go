package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/votelab/votepipe/internal/config"
	"github.com/votelab/votepipe/internal/health"
	"github.com/votelab/votepipe/internal/metrics"
	"github.com/votelab/votepipe/internal/queue"
	"github.com/votelab/votepipe/internal/store"
	"github.com/votelab/votepipe/internal/supervisor"
	"github.com/votelab/votepipe/internal/web"
)

// The vote front end: serves the ballot page, assigns voter_id cookies
// and pushes submitted votes onto the queue for the worker to drain.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, err := supervisor.Acquire(ctx, "vote queue", func(ctx context.Context) (*queue.Queue, error) {
		return queue.Connect(ctx, cfg.Redis)
	})
	if err != nil {
		log.WithError(err).Fatal("cannot open vote queue")
	}
	defer q.Close()

	s, err := supervisor.Acquire(ctx, "vote store", func(ctx context.Context) (*store.Store, error) {
		return store.Connect(ctx, cfg.Database)
	})
	if err != nil {
		log.WithError(err).Fatal("cannot open vote store")
	}
	defer s.Close()

	m := metrics.NewFrontendMetrics(prometheus.DefaultRegisterer, "vote")
	m.QueueConnected.Set(1)
	m.StoreConnected.Set(1)

	handler := web.NewHandler(q, s, m, cfg.OptionA, cfg.OptionB)

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.NewHandler(health.NewMultiChecker(q, s)))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Routes())

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Infof("vote front end listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown failed")
	}
}
