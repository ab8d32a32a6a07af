package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/mugiliam/hatchdbpool/internal/db/dbmanager"
	"github.com/mugiliam/hatchdbpool/internal/types"
	"github.com/rs/zerolog/log"
)

// Lease is one connection checked out of a pool on behalf of a single request.
// It must be released exactly once.
type Lease struct {
	id         types.LeaseId
	pool       dbmanager.Pool
	acquiredAt time.Time

	mu       sync.Mutex
	conn     dbmanager.PooledConn
	released bool
	onDone   func()
}

// Acquire checks a connection out of pool and wraps it in a Lease.
func Acquire(ctx context.Context, pool dbmanager.Pool) (*Lease, error) {
	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, err
	}
	l := &Lease{
		id:         types.NewLeaseId(),
		pool:       pool,
		acquiredAt: time.Now(),
		conn:       conn,
	}
	log.Ctx(ctx).Debug().Str("lease_id", l.id.String()).Msg("acquired db connection")
	return l, nil
}

func (l *Lease) Id() types.LeaseId {
	return l.id
}

func (l *Lease) Pool() dbmanager.Pool {
	return l.pool
}

func (l *Lease) AcquiredAt() time.Time {
	return l.acquiredAt
}

// Conn returns the underlying connection, or nil once the lease is released.
func (l *Lease) Conn() *sql.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released || l.conn == nil {
		return nil
	}
	return l.conn.Conn()
}

func (l *Lease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// OnRelease registers fn to run once the connection has gone back to the pool.
func (l *Lease) OnRelease(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDone = fn
}

// Release returns the connection to its pool. Only the first call reaches the
// pool; later calls return dberror.ErrAlreadyReleased.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return dberror.ErrAlreadyReleased
	}
	l.released = true
	conn := l.conn
	l.conn = nil
	onDone := l.onDone
	l.onDone = nil
	l.mu.Unlock()

	if onDone != nil {
		defer onDone()
	}
	if err := conn.Close(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).Debug().
		Str("lease_id", l.id.String()).
		Dur("held", time.Since(l.acquiredAt)).
		Msg("released db connection")
	return nil
}

type ctxDbKeyType string

const ctxDbKey ctxDbKeyType = "HatchDbPoolLease"

func WithLease(ctx context.Context, l *Lease) context.Context {
	return context.WithValue(ctx, ctxDbKey, l)
}

func LeaseFromContext(ctx context.Context) *Lease {
	if l, ok := ctx.Value(ctxDbKey).(*Lease); ok {
		return l
	}
	return nil
}

// Conn returns the request's connection.
func Conn(ctx context.Context) (*sql.Conn, error) {
	l := LeaseFromContext(ctx)
	if l == nil {
		log.Ctx(ctx).Error().Msg("unable to get db connection from context")
		return nil, dberror.ErrNoConnection
	}
	c := l.Conn()
	if c == nil {
		return nil, dberror.ErrNoConnection.Msg("db connection not available")
	}
	return c, nil
}
