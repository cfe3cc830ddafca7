package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/votelab/votepipe/internal/config"
	"github.com/votelab/votepipe/internal/loadgen"
	"github.com/votelab/votepipe/internal/queue"
	"github.com/votelab/votepipe/internal/supervisor"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	interval := flag.Duration("interval", 500*time.Millisecond, "delay between generated votes")
	flag.Parse()

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

	log.Infof("generating votes every %s, press Ctrl+C to stop", *interval)
	if err := loadgen.New(q, *interval).Run(ctx); err != nil {
		log.WithError(err).Error("load generator failed")
	}

	if n, err := q.Len(context.Background()); err == nil {
		log.Infof("%d events still queued", n)
	}
}
