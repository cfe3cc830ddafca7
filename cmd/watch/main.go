package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
)

// watch subscribes to the worker's tally broadcast and prints each
// update as it arrives.
func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	url := flag.String("url", "ws://localhost:8080/ws/tally", "tally broadcast endpoint")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		log.WithError(err).Fatalf("failed to connect to %s", *url)
	}
	defer conn.Close(websocket.StatusNormalClosure, "watch exit")

	log.Infof("listening for tally updates on %s", *url)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("connection closed")
				return
			}
			log.WithError(err).Error("read failed")
			return
		}
		log.Infof("tally: %s", msg)
	}
}
