package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/common"
	"github.com/mugiliam/hatchdbpool/internal/db"
	"github.com/mugiliam/hatchdbpool/internal/db/dbmanager/dbmanagertest"
	"github.com/mugiliam/hatchdbpool/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func okHandler(t *testing.T, sawLease *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawLease != nil {
			*sawLease = db.LeaseFromContext(r.Context()) != nil
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, ctx context.Context) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLoadScopedDBReleasesAfterHandler(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1)
	var sawLease bool

	rr := serve(LoadScopedDB(pool)(okHandler(t, &sawLease)), context.Background())

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, sawLease)
	assert.Equal(t, uint64(1), pool.Returns())
	assert.Zero(t, pool.DoubleReturns())
}

func TestLoadScopedDBAcquireFailure(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1).FailWith(errors.New("connect failed"))
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rr := serve(LoadScopedDB(pool)(next), context.Background())

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, called, "handler must not run without a connection")
	assert.NotContains(t, rr.Body.String(), "connect failed")
	assert.Zero(t, pool.Returns())
}

func TestLoadScopedDBParksLeaseInRequestContext(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1)
	rc := common.NewRequestContext("r1")
	ctx := common.SetRequestContextInContext(context.Background(), rc)

	rr := serve(LoadScopedDB(pool)(okHandler(t, nil)), ctx)
	require.Equal(t, http.StatusOK, rr.Code)

	// The lease stays checked out until the detach listener runs.
	lease := ScopedLease(rc)
	require.NotNil(t, lease)
	assert.False(t, lease.Released())
	assert.Zero(t, pool.Returns())

	ReleaseScopedDB(ctx, rc, nil)
	assert.Equal(t, uint64(1), pool.Returns())
	assert.True(t, lease.Released())
	assert.Nil(t, ScopedLease(rc))

	ReleaseScopedDB(ctx, rc, nil)
	assert.Equal(t, uint64(1), pool.Returns())
	assert.Zero(t, pool.DoubleReturns())
}

func TestLoadScopedDBReusesParkedLease(t *testing.T) {
	pool := dbmanagertest.NewStubPool(2)
	rc := common.NewRequestContext("r1")
	ctx := common.SetRequestContextInContext(context.Background(), rc)

	h := LoadScopedDB(pool)(LoadScopedDB(pool)(okHandler(t, nil)))
	rr := serve(h, ctx)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, uint64(1), pool.Stats().Requests)
	ReleaseScopedDB(ctx, rc, nil)
	assert.Equal(t, uint64(1), pool.Returns())
}

func TestReleaseScopedDBWithoutLease(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		ReleaseScopedDB(ctx, nil, nil)
		ReleaseScopedDB(ctx, common.NewRequestContext("r1"), nil)
		ReleaseScopedDB(ctx, common.NewRequestContext("r2"), errors.New("client went away"))
	})
}

func TestReleaseScopedDBReleasesOnRequestError(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1)
	rc := common.NewRequestContext("r1")
	ctx := common.SetRequestContextInContext(context.Background(), rc)

	serve(LoadScopedDB(pool)(okHandler(t, nil)), ctx)
	ReleaseScopedDB(ctx, rc, errors.New("handler failed"))

	assert.Equal(t, uint64(1), pool.Returns())
}

func TestLoadScopedDBReleasesOnPanic(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})

	assert.Panics(t, func() {
		serve(LoadScopedDB(pool)(next), context.Background())
	})
	assert.Equal(t, uint64(1), pool.Returns())
}

func TestReleaseScopedDBLogsReleaseError(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1).FailReleaseWith(errors.New("connection reset"))
	buf := &syncBuffer{}
	logger := zerolog.New(buf)

	for _, id := range []string{"r1", "r2"} {
		rc := common.NewRequestContext(types.RequestId(id))
		ctx := logger.WithContext(common.SetRequestContextInContext(context.Background(), rc))

		rr := serve(LoadScopedDB(pool)(okHandler(t, nil)), ctx)
		require.Equal(t, http.StatusOK, rr.Code, "request %s", id)
		assert.NotPanics(t, func() { ReleaseScopedDB(ctx, rc, nil) })
		assert.Nil(t, ScopedLease(rc))
	}

	assert.Contains(t, buf.String(), "unable to release db connection")
	assert.Contains(t, buf.String(), "connection reset")
	assert.Equal(t, uint64(2), pool.Returns())
	assert.Zero(t, pool.Stats().InUse)
}

func TestLoadScopedDBReleaseErrorKeepsServing(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1).FailReleaseWith(errors.New("connection reset"))
	buf := &syncBuffer{}
	ctx := zerolog.New(buf).WithContext(context.Background())
	h := LoadScopedDB(pool)(okHandler(t, nil))

	require.Equal(t, http.StatusOK, serve(h, ctx).Code)
	require.Equal(t, http.StatusOK, serve(h, ctx).Code)

	assert.Contains(t, buf.String(), "unable to release db connection")
	assert.Equal(t, uint64(2), pool.Returns())
	assert.Zero(t, pool.DoubleReturns())
}

func TestReleaseScopedDBRecoversReleasePanic(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1).PanicOnRelease("driver bug")
	buf := &syncBuffer{}
	logger := zerolog.New(buf)

	for _, id := range []string{"r1", "r2"} {
		rc := common.NewRequestContext(types.RequestId(id))
		ctx := logger.WithContext(common.SetRequestContextInContext(context.Background(), rc))

		rr := serve(LoadScopedDB(pool)(okHandler(t, nil)), ctx)
		require.Equal(t, http.StatusOK, rr.Code, "request %s", id)
		assert.NotPanics(t, func() { ReleaseScopedDB(ctx, rc, nil) })
	}

	assert.Contains(t, buf.String(), "panic releasing db connection")
	assert.Contains(t, buf.String(), "driver bug")
	assert.Equal(t, uint64(2), pool.Returns())
}

func TestLeaseTimeoutWarns(t *testing.T) {
	pool := dbmanagertest.NewStubPool(1)
	buf := &syncBuffer{}
	ctx := zerolog.New(buf).WithContext(context.Background())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	})
	serve(LoadScopedDB(pool, WithLeaseTimeout(10*time.Millisecond))(next), ctx)

	assert.Contains(t, buf.String(), "db connection held past lease timeout")
	assert.Equal(t, uint64(1), pool.Returns())
}

func TestRequestLoggerSetsRequestId(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = string(common.RequestIdFromContext(r.Context()))
	})

	rr := serve(RequestLogger(next), context.Background())

	assert.NotEmpty(t, got)
	assert.Equal(t, got, rr.Header().Get(RequestIdHeader))
}
