package dbmanager

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/rs/zerolog/log"
)

// sqlPool adapts a *sql.DB to Pool. database/sql owns slot allocation and
// health checks; sqlPool only bounds waiting and keeps the counters.
type sqlPool struct {
	db             *sql.DB
	maxOpen        int
	acquireTimeout time.Duration
	pingQuery      string

	requests atomic.Uint64
	returns  atomic.Uint64
	failures atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

func newSqlPool(db *sql.DB, maxOpen int, acquireTimeout time.Duration, pingQuery string) *sqlPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	return &sqlPool{
		db:             db,
		maxOpen:        maxOpen,
		acquireTimeout: acquireTimeout,
		pingQuery:      pingQuery,
	}
}

func (p *sqlPool) Conn(ctx context.Context) (PooledConn, error) {
	p.requests.Add(1)
	if p.closed.Load() {
		p.failures.Add(1)
		return nil, dberror.ErrPoolClosed
	}

	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.failures.Add(1)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, dberror.ErrAcquireTimeout.Err(err)
		case errors.Is(err, sql.ErrConnDone) || p.closed.Load():
			return nil, dberror.ErrPoolClosed.Err(err)
		}
		return nil, dberror.ErrAcquire.Err(classify(err))
	}
	return &sqlConn{pool: p, conn: conn}, nil
}

func (p *sqlPool) Stats() Stats {
	st := p.db.Stats()
	// Every return or failure follows its request, so reading them first
	// keeps the snapshot from counting more completions than requests.
	returns, failures := p.returns.Load(), p.failures.Load()
	return Stats{
		Requests: p.requests.Load(),
		Returns:  returns,
		Failures: failures,
		InUse:    st.InUse,
		MaxOpen:  p.maxOpen,
	}
}

func (p *sqlPool) PingQuery() string {
	return p.pingQuery
}

func (p *sqlPool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.db.Close()
	})
	return p.closeErr
}

type sqlConn struct {
	pool *sqlPool
	conn *sql.Conn
}

func (c *sqlConn) Conn() *sql.Conn {
	return c.conn
}

func (c *sqlConn) Close(ctx context.Context) error {
	c.pool.returns.Add(1)
	if err := c.conn.Close(); err != nil {
		// sql.ErrConnDone means the pool already reclaimed the connection.
		if errors.Is(err, sql.ErrConnDone) {
			log.Ctx(ctx).Debug().Msg("db connection already returned to pool")
			return nil
		}
		return dberror.ErrRelease.Err(err)
	}
	return nil
}
