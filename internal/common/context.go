// Description: This file contains the context package which is used to set and retrieve data from the context.
package common

import (
	"context"
	"sync"
	"time"

	"github.com/mugiliam/hatchdbpool/internal/types"
)

// RequestContext is the mutable per-request state shared by the lifecycle
// hooks. It is created when a request enters the server and dropped when the
// last detach listener returns.
type RequestContext struct {
	id        types.RequestId
	startedAt time.Time

	mu    sync.Mutex
	attrs map[any]any
}

func NewRequestContext(id types.RequestId) *RequestContext {
	return &RequestContext{
		id:        id,
		startedAt: time.Now(),
		attrs:     make(map[any]any),
	}
}

func (rc *RequestContext) Id() types.RequestId {
	return rc.id
}

func (rc *RequestContext) StartedAt() time.Time {
	return rc.startedAt
}

// Set stores val under key. Callers should use an unexported key type.
func (rc *RequestContext) Set(key, val any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.attrs[key] = val
}

func (rc *RequestContext) Get(key any) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	val, ok := rc.attrs[key]
	return val, ok
}

// Take removes and returns the value stored under key.
func (rc *RequestContext) Take(key any) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	val, ok := rc.attrs[key]
	if ok {
		delete(rc.attrs, key)
	}
	return val, ok
}

// ctxRequestContextKeyType represents the key type for the request context in the context.
type ctxRequestContextKeyType string

const ctxRequestContextKey ctxRequestContextKeyType = "HatchDbPoolRequestContext"

// ctxRequestIdKeyType represents the key type for the request ID in the context.
type ctxRequestIdKeyType string

const ctxRequestIdKey ctxRequestIdKeyType = "HatchDbPoolRequestId"

// SetRequestContextInContext sets the request context in the provided context.
func SetRequestContextInContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxRequestContextKey, rc)
}

// RequestContextFromContext retrieves the request context from the provided context.
func RequestContextFromContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(ctxRequestContextKey).(*RequestContext); ok {
		return rc
	}
	return nil
}

// SetRequestIdInContext sets the request ID in the provided context.
func SetRequestIdInContext(ctx context.Context, requestId types.RequestId) context.Context {
	return context.WithValue(ctx, ctxRequestIdKey, requestId)
}

// RequestIdFromContext retrieves the request ID from the provided context.
func RequestIdFromContext(ctx context.Context) types.RequestId {
	if requestId, ok := ctx.Value(ctxRequestIdKey).(types.RequestId); ok {
		return requestId
	}
	return ""
}
