package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/common"
	"github.com/mugiliam/hatchdbpool/internal/db"
	"github.com/mugiliam/hatchdbpool/internal/db/dbmanager"
	"github.com/mugiliam/hatchdbpool/internal/httpx"
	"github.com/rs/zerolog/log"
)

// scopedLeaseKey is the request context slot holding the request's db lease.
type scopedLeaseKey struct{}

type loadOptions struct {
	leaseTimeout time.Duration
}

type LoadOption func(*loadOptions)

// WithLeaseTimeout logs a warning for any lease still held after d. The lease
// itself is left alone.
func WithLeaseTimeout(d time.Duration) LoadOption {
	return func(o *loadOptions) {
		o.leaseTimeout = d
	}
}

// LoadScopedDB checks a connection out of pool before the request is handled
// and makes it available through db.Conn. When the request carries a
// common.RequestContext the lease is parked there for ReleaseScopedDB;
// otherwise it is released as soon as next returns.
func LoadScopedDB(pool dbmanager.Pool, opts ...LoadOption) func(http.Handler) http.Handler {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rc := common.RequestContextFromContext(ctx)
			if lease := ScopedLease(rc); lease != nil {
				next.ServeHTTP(w, r.WithContext(db.WithLease(ctx, lease)))
				return
			}

			lease, err := db.Acquire(ctx, pool)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("unable to get db connection")
				httpx.ErrApplicationError("unable to service request at this time").SendCtx(ctx, w)
				return
			}
			watchLease(ctx, lease, o.leaseTimeout)

			if rc != nil {
				rc.Set(scopedLeaseKey{}, lease)
			} else {
				defer releaseLease(context.WithoutCancel(ctx), lease)
			}
			next.ServeHTTP(w, r.WithContext(db.WithLease(ctx, lease)))
		})
	}
}

// ReleaseScopedDB is the detach listener paired with LoadScopedDB. It returns
// the request's lease to the pool and clears the slot. A request without a
// lease is ignored.
func ReleaseScopedDB(ctx context.Context, rc *common.RequestContext, err error) {
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("request completed with error")
	}
	if rc == nil {
		return
	}
	v, ok := rc.Take(scopedLeaseKey{})
	if !ok {
		return
	}
	if lease, ok := v.(*db.Lease); ok && lease != nil {
		releaseLease(ctx, lease)
		log.Ctx(ctx).Debug().
			Str("request_id", string(rc.Id())).
			Dur("request_duration", time.Since(rc.StartedAt())).
			Msg("request scoped db released")
	}
}

// ScopedLease returns the lease parked in rc, if any.
func ScopedLease(rc *common.RequestContext) *db.Lease {
	if rc == nil {
		return nil
	}
	v, ok := rc.Get(scopedLeaseKey{})
	if !ok {
		return nil
	}
	lease, _ := v.(*db.Lease)
	return lease
}

func releaseLease(ctx context.Context, lease *db.Lease) {
	defer func() {
		if p := recover(); p != nil {
			log.Ctx(ctx).Error().Interface("panic", p).Str("lease_id", lease.Id().String()).Msg("panic releasing db connection")
		}
	}()
	if err := lease.Release(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("lease_id", lease.Id().String()).Msg("unable to release db connection")
	}
}

func watchLease(ctx context.Context, lease *db.Lease, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	logger := log.Ctx(ctx)
	t := time.AfterFunc(timeout, func() {
		if lease.Released() {
			return
		}
		logger.Warn().
			Str("lease_id", lease.Id().String()).
			Dur("held", time.Since(lease.AcquiredAt())).
			Msg("db connection held past lease timeout")
	})
	lease.OnRelease(func() { t.Stop() })
}
