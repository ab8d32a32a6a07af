// Package dbplugin registers a request scoped database pool with a
// HatchDbPoolServer.
//
// Register builds one pool for the life of the server. Every request borrows a
// single connection from it at the configured attach point and gives it back on
// the configured detach event, on success and failure alike. The pool itself
// is closed only when the server stops.
package dbplugin

import (
	"context"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/config"
	"github.com/mugiliam/hatchdbpool/internal/db/dbmanager"
	"github.com/mugiliam/hatchdbpool/internal/server"
	"github.com/mugiliam/hatchdbpool/internal/server/middleware"
	"github.com/rs/zerolog/log"
)

const defaultVerifyTimeout = 30 * time.Second

type PoolFactory func(ctx context.Context, cfg config.PoolConfig) (dbmanager.Pool, error)

type options struct {
	ctx           context.Context
	pool          dbmanager.Pool
	factory       PoolFactory
	verifyTimeout time.Duration
}

type Option func(*options)

// WithPool registers an existing pool instead of building one. Ownership
// passes to Register: the pool is closed if registration fails for any
// reason, and otherwise when the server stops.
func WithPool(p dbmanager.Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

func WithPoolFactory(f PoolFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithContext sets the context used for logging and verification during
// registration.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

func WithVerifyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.verifyTimeout = d
	}
}

// Register merges cfg over the defaults, validates it, builds the pool and
// wires the attach and detach hooks into s. A configuration error fails the
// registration and leaves s untouched. Whenever Register returns an error the
// pool, built or injected, has already been closed.
func Register(s *server.HatchDbPoolServer, cfg config.PoolConfig, opts ...Option) error {
	o := options{
		ctx:           log.Logger.WithContext(context.Background()),
		factory:       dbmanager.NewPool,
		verifyTimeout: defaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := o.ctx

	merged, err := cfg.Merge()
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to merge pool configuration")
		closeInjected(ctx, o.pool)
		return err
	}
	if err := merged.Validate(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("invalid pool configuration")
		closeInjected(ctx, o.pool)
		return err
	}

	pool := o.pool
	if pool == nil {
		pool, err = o.factory(ctx, merged)
		if err != nil {
			return err
		}
	}

	if merged.VerifyOnRegister {
		if err := dbmanager.Verify(ctx, pool, o.verifyTimeout); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("db pool verification failed")
			closePool(ctx, pool)
			return err
		}
	}

	loadOpts := []middleware.LoadOption{middleware.WithLeaseTimeout(merged.LeaseTimeout.Duration())}
	if err := s.Ext(merged.Attach, middleware.LoadScopedDB(pool, loadOpts...)); err != nil {
		closePool(ctx, pool)
		return err
	}
	if err := s.On(merged.Detach, middleware.ReleaseScopedDB); err != nil {
		// Attach is already installed; without a detach listener every
		// lease would leak, so the server must not be started.
		closePool(ctx, pool)
		return err
	}
	s.OnStop(func(ctx context.Context) error {
		log.Ctx(ctx).Info().Msg("closing db pool")
		return pool.Close()
	})

	log.Ctx(ctx).Info().
		Str("attach", merged.Attach).
		Str("detach", merged.Detach).
		Int("maxpool", merged.MaxPool).
		Msg("registered scoped db plugin")
	return nil
}

func closeInjected(ctx context.Context, pool dbmanager.Pool) {
	if pool != nil {
		closePool(ctx, pool)
	}
}

func closePool(ctx context.Context, pool dbmanager.Pool) {
	if err := pool.Close(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to close db pool")
	}
}
