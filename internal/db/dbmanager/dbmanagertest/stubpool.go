// Package dbmanagertest provides an in-memory dbmanager.Pool for tests.
package dbmanagertest

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/mugiliam/hatchdbpool/internal/db/dbmanager"
)

// AcquireFunc overrides acquisition. Returning an error fails the checkout
// before a slot is taken.
type AcquireFunc func(ctx context.Context) error

// StubPool is a bounded pool of nil connections backed by a channel
// semaphore. It records every checkout and return.
type StubPool struct {
	sem     chan struct{}
	acquire AcquireFunc

	// release is consulted after a handle is returned to the semaphore.
	release func() error

	requests atomic.Uint64
	returns  atomic.Uint64
	failures atomic.Uint64
	closes   atomic.Uint64

	mu             sync.Mutex
	outstanding    int
	maxOutstanding int
	doubleReturns  int
	closed         bool
}

func NewStubPool(capacity int) *StubPool {
	return &StubPool{sem: make(chan struct{}, capacity)}
}

// FailWith makes every checkout fail with err.
func (p *StubPool) FailWith(err error) *StubPool {
	p.acquire = func(context.Context) error { return err }
	return p
}

// FailReleaseWith makes every return report err. The slot is still freed.
func (p *StubPool) FailReleaseWith(err error) *StubPool {
	p.release = func() error { return err }
	return p
}

// PanicOnRelease makes every return panic with v after freeing its slot.
func (p *StubPool) PanicOnRelease(v any) *StubPool {
	p.release = func() error { panic(v) }
	return p
}

// OnAcquire installs fn as the acquisition hook.
func (p *StubPool) OnAcquire(fn AcquireFunc) *StubPool {
	p.acquire = fn
	return p
}

func (p *StubPool) Conn(ctx context.Context) (dbmanager.PooledConn, error) {
	p.requests.Add(1)
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.failures.Add(1)
		return nil, dberror.ErrPoolClosed
	}
	if p.acquire != nil {
		if err := p.acquire(ctx); err != nil {
			p.failures.Add(1)
			return nil, err
		}
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.failures.Add(1)
		return nil, dberror.ErrAcquireTimeout.Err(ctx.Err())
	}

	p.mu.Lock()
	p.outstanding++
	if p.outstanding > p.maxOutstanding {
		p.maxOutstanding = p.outstanding
	}
	p.mu.Unlock()
	return &stubConn{pool: p}, nil
}

func (p *StubPool) Stats() dbmanager.Stats {
	p.mu.Lock()
	inUse := p.outstanding
	p.mu.Unlock()
	returns, failures := p.returns.Load(), p.failures.Load()
	return dbmanager.Stats{
		Requests: p.requests.Load(),
		Returns:  returns,
		Failures: failures,
		InUse:    inUse,
		MaxOpen:  cap(p.sem),
	}
}

func (p *StubPool) PingQuery() string {
	return "SELECT 1"
}

func (p *StubPool) Close() error {
	p.closes.Add(1)
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Returns is the number of connections handed back.
func (p *StubPool) Returns() uint64 {
	return p.returns.Load()
}

// Closes is the number of times the whole pool was torn down.
func (p *StubPool) Closes() uint64 {
	return p.closes.Load()
}

// MaxOutstanding is the high-water mark of simultaneously checked out handles.
func (p *StubPool) MaxOutstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOutstanding
}

// DoubleReturns counts Close calls on a handle that was already returned.
func (p *StubPool) DoubleReturns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doubleReturns
}

type stubConn struct {
	pool     *StubPool
	returned atomic.Bool
}

func (c *stubConn) Conn() *sql.Conn {
	return nil
}

func (c *stubConn) Close(context.Context) error {
	if !c.returned.CompareAndSwap(false, true) {
		c.pool.mu.Lock()
		c.pool.doubleReturns++
		c.pool.mu.Unlock()
		return dberror.ErrAlreadyReleased
	}
	c.pool.mu.Lock()
	c.pool.outstanding--
	c.pool.mu.Unlock()
	c.pool.returns.Add(1)
	<-c.pool.sem
	if c.pool.release != nil {
		return c.pool.release()
	}
	return nil
}
