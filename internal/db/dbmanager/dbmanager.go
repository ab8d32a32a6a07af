package dbmanager

import (
	"context"
	"database/sql"

	"github.com/mugiliam/hatchdbpool/internal/config"
	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/mugiliam/hatchdbpool/internal/types"
	"github.com/rs/zerolog/log"
)

// Pool is a bounded, shared source of database connections. It is created once
// and outlives every request that borrows from it.
type Pool interface {
	// Conn checks out a connection, waiting until one is free or ctx is done.
	// Exactly one of the connection or the error is non-nil.
	Conn(ctx context.Context) (PooledConn, error)
	// Stats returns the pool's bookkeeping counters.
	Stats() Stats
	// PingQuery returns a cheap query identifying the connected database.
	PingQuery() string
	// Close tears the whole pool down. It is a process lifecycle event.
	Close() error
}

type PooledConn interface {
	Conn() *sql.Conn
	// Close returns the connection to its pool.
	Close(ctx context.Context) error
}

// Stats mirrors the acquire/release accounting of a Pool.
type Stats struct {
	Requests uint64 `json:"requests"`
	Returns  uint64 `json:"returns"`
	Failures uint64 `json:"failures"`
	InUse    int    `json:"in_use"`
	MaxOpen  int    `json:"max_open"`
}

// Outstanding is the number of handles checked out and not yet returned.
func (s Stats) Outstanding() uint64 {
	done := s.Failures + s.Returns
	if done >= s.Requests {
		return 0
	}
	return s.Requests - done
}

// NewPool builds the pool described by cfg. cfg is expected to be merged and
// validated already.
func NewPool(ctx context.Context, cfg config.PoolConfig) (Pool, error) {
	var (
		p   Pool
		err error
	)
	switch cfg.Driver {
	case types.DbDriverPostgresql:
		p, err = NewPostgresqlDb(cfg)
	case types.DbDriverFirebird:
		p, err = NewFirebirdDb(cfg)
	default:
		err = dberror.ErrUnsupportedDb.Msg("unsupported database driver " + string(cfg.Driver))
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("driver", string(cfg.Driver)).Msg("failed to create db pool")
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("driver", string(cfg.Driver)).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("maxpool", cfg.MaxPool).
		Msg("created db pool")
	return p, nil
}
