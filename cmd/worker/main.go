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
	"github.com/votelab/votepipe/internal/ingest"
	"github.com/votelab/votepipe/internal/metrics"
	"github.com/votelab/votepipe/internal/pubsub"
	"github.com/votelab/votepipe/internal/queue"
	"github.com/votelab/votepipe/internal/store"
	"github.com/votelab/votepipe/internal/supervisor"
	"github.com/votelab/votepipe/internal/tabulate"
)

// The worker runs the two core loops: the ingestion loop draining vote
// events from the queue into the durable store, and the tabulation
// broadcaster pushing aggregate tallies to live subscribers. Exit code
// is 0 on a shutdown signal and 1 on an unrecoverable configuration
// error.
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

	m := metrics.NewWorkerMetrics(prometheus.DefaultRegisterer, "votepipe")

	hub := pubsub.NewHub()
	go hub.Run(ctx)

	// Health and metrics come up before the adapters so a flapping
	// dependency is visible as a failing check, not a dead endpoint.
	checker := health.NewMultiChecker()
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.NewHandler(checker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/tally", func(w http.ResponseWriter, r *http.Request) {
		pubsub.ServeWS(hub, w, r)
	})
	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Infof("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	// The broadcaster gets its own store handle so tally reads never
	// contend with ingestion writes on one connection.
	tallyStore, err := supervisor.Acquire(ctx, "tally store", func(ctx context.Context) (*store.Store, error) {
		return store.Connect(ctx, cfg.Database)
	})
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("cannot open tally store")
		os.Exit(1)
	}
	if tallyStore != nil {
		defer tallyStore.Close()
		checker.Add(tallyStore)
		go tabulate.New(tallyStore, hub, m, tabulate.DefaultInterval).Run(ctx)
	}

	loop := ingest.New(ingest.Params{
		OpenQueue: func(ctx context.Context) (ingest.EventQueue, error) {
			return queue.Connect(ctx, cfg.Redis)
		},
		OpenStore: func(ctx context.Context) (ingest.VoteStore, error) {
			return store.Connect(ctx, cfg.Database)
		},
		Metrics: m,
	})

	runErr := loop.Run(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown failed")
	}

	if runErr != nil {
		log.WithError(runErr).Error("ingestion loop aborted")
		os.Exit(1)
	}
	log.Info("worker stopped")
}
