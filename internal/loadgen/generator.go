package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/votelab/votepipe/internal/model"
)

// Pusher is the producer side of the queue adapter.
type Pusher interface {
	Push(ctx context.Context, event model.VoteEvent) error
}

// Generator pushes randomized vote events at a fixed rate. Every few
// events it re-submits a previous voter with the opposite choice, so a
// drain exercises the last-write-wins upsert path and not just inserts.
type Generator struct {
	pusher   Pusher
	interval time.Duration

	// revoteEvery controls how often a previous voter votes again.
	revoteEvery int
}

func New(pusher Pusher, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Generator{pusher: pusher, interval: interval, revoteEvery: 5}
}

func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	var sinceRevote int
	var lastVoter string
	var lastVote model.Choice

	for {
		select {
		case <-ctx.Done():
			log.Info("load generator stopped")
			return nil

		case <-ticker.C:
			event := g.nextEvent(&sinceRevote, &lastVoter, &lastVote)

			pushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := g.pusher.Push(pushCtx, event)
			cancel()
			if err != nil {
				log.WithError(err).Warn("failed to push vote event")
				continue
			}
			log.Infof("pushed vote: voter=%s vote=%s", event.VoterID, event.Vote)
		}
	}
}

func (g *Generator) nextEvent(sinceRevote *int, lastVoter *string, lastVote *model.Choice) model.VoteEvent {
	*sinceRevote++
	if *sinceRevote >= g.revoteEvery && *lastVoter != "" {
		*sinceRevote = 0
		flipped := model.ChoiceA
		if *lastVote == model.ChoiceA {
			flipped = model.ChoiceB
		}
		log.Infof("revoting as %s to flip %s -> %s", *lastVoter, *lastVote, flipped)
		return model.VoteEvent{VoterID: *lastVoter, Vote: flipped}
	}

	voter := fmt.Sprintf("voter-%06x", rand.Intn(1<<24))
	vote := model.ChoiceA
	if rand.Intn(2) == 1 {
		vote = model.ChoiceB
	}
	*lastVoter, *lastVote = voter, vote
	return model.VoteEvent{VoterID: voter, Vote: vote}
}
