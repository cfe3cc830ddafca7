package supervisor

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/votelab/votepipe/internal/config"
)

const (
	// InitialDelay is the wait after the first failed attempt; the delay
	// doubles on each subsequent failure up to MaxDelay.
	InitialDelay = 2 * time.Second
	MaxDelay     = 5 * time.Second
)

// Acquire blocks until open succeeds, retrying forever with capped
// doubling backoff. The ingestion path must never be dropped because a
// dependency is flapping, so there is no attempt limit. Only two things
// end the retrying early: context cancellation, and a configuration
// error, which no amount of retrying can fix.
func Acquire[T any](ctx context.Context, name string, open func(context.Context) (T, error)) (T, error) {
	var resource T
	err := retry.Do(
		func() error {
			var err error
			resource, err = open(ctx)
			if err != nil {
				var cfgErr *config.Error
				if errors.As(err, &cfgErr) {
					return retry.Unrecoverable(err)
				}
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(InitialDelay),
		retry.MaxDelay(MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.WithError(err).WithField("attempt", attempt+1).
				Warnf("failed to connect %s, retrying", name)
		}),
	)
	if err != nil {
		return resource, err
	}
	log.Infof("connected %s", name)
	return resource, nil
}
