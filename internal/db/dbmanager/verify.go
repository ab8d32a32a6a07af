package dbmanager

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/rs/zerolog/log"
)

const verifyMaxInterval = 2 * time.Second

// Verify checks out one connection and pings it, retrying with exponential
// backoff until maxElapsed. The connection is returned before Verify returns.
func Verify(ctx context.Context, p Pool, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = verifyMaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		pc, err := p.Conn(ctx)
		if err != nil {
			if errors.Is(err, dberror.ErrPoolClosed) {
				return struct{}{}, backoff.Permanent(err)
			}
			log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("db connection not ready")
			return struct{}{}, err
		}
		defer func() {
			if err := pc.Close(ctx); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("unable to release verification connection")
			}
		}()
		if c := pc.Conn(); c != nil {
			if err := c.PingContext(ctx); err != nil {
				log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("db ping failed")
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(maxElapsed))
	if err != nil {
		return dberror.ErrVerifyConnection.Err(err)
	}
	return nil
}
