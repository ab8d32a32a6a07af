package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi"
	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/mugiliam/hatchdbpool/internal/apis"
	"github.com/mugiliam/hatchdbpool/internal/common"
	"github.com/mugiliam/hatchdbpool/internal/config"
	"github.com/mugiliam/hatchdbpool/internal/httpx"
	"github.com/mugiliam/hatchdbpool/internal/server/middleware"
	"github.com/mugiliam/hatchdbpool/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Extension points accepted by Ext.
const (
	// ExtOnRequest runs before routing, for every request including unmatched ones.
	ExtOnRequest = config.AttachOnRequest
	// ExtOnPreHandler runs after routing, right before the route handler.
	ExtOnPreHandler = config.AttachOnPreHandler
)

// Request events accepted by On.
const (
	// EventResponse fires once the handler chain has returned.
	EventResponse = config.DetachOnResponse
	// EventTail fires after every EventResponse listener has run.
	EventTail = config.DetachOnTail
)

var (
	ErrServerMounted   = errors.New("server handlers already mounted")
	ErrUnknownExtPoint = errors.New("unknown extension point")
	ErrUnknownEvent    = errors.New("unknown request event")
)

// Listener observes the end of a request. err is non-nil when the request
// failed at the framework level: a handler panic or a client abort.
type Listener func(ctx context.Context, rc *common.RequestContext, err error)

// StopHook runs once when the server stops.
type StopHook func(ctx context.Context) error

type HatchDbPoolServer struct {
	Router *chi.Mux

	mu           sync.Mutex
	mounted      bool
	handler      http.Handler
	onRequest    []func(http.Handler) http.Handler
	onPreHandler []func(http.Handler) http.Handler
	listeners    map[string][]Listener
	stopHooks    []StopHook
	stopOnce     sync.Once
	stopErr      error
}

func CreateNewServer() (*HatchDbPoolServer, error) {
	s := &HatchDbPoolServer{
		listeners: make(map[string][]Listener),
	}
	s.Router = chi.NewRouter()
	return s, nil
}

// Ext installs mw at the named extension point. Extensions must be added
// before MountHandlers.
func (s *HatchDbPoolServer) Ext(point string, mw func(http.Handler) http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mounted {
		return ErrServerMounted
	}
	switch point {
	case ExtOnRequest:
		s.onRequest = append(s.onRequest, mw)
	case ExtOnPreHandler:
		s.onPreHandler = append(s.onPreHandler, mw)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExtPoint, point)
	}
	return nil
}

// On subscribes l to the named request event.
func (s *HatchDbPoolServer) On(event string, l Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mounted {
		return ErrServerMounted
	}
	switch event {
	case EventResponse, EventTail:
		s.listeners[event] = append(s.listeners[event], l)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	return nil
}

func (s *HatchDbPoolServer) OnStop(h StopHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopHooks = append(s.stopHooks, h)
}

// MountHandlers builds the route tree. routes are mounted next to the built in
// ones and share the pre-handler extensions.
func (s *HatchDbPoolServer) MountHandlers(routes ...func(r chi.Router)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mounted {
		return
	}
	s.mounted = true

	if config.Config().Server.HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	r := s.Router.With(s.onPreHandler...)
	r.Get("/version", s.getVersion)
	r.Route("/db", apis.DbRouter)
	for _, route := range routes {
		route(r)
	}

	var h http.Handler = s.Router
	for i := len(s.onRequest) - 1; i >= 0; i-- {
		h = s.onRequest[i](h)
	}
	s.handler = middleware.RequestLogger(s.lifecycle(h))
}

// Handler returns the root handler. MountHandlers must have been called.
func (s *HatchDbPoolServer) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return s.Router
	}
	return s.handler
}

func (s *HatchDbPoolServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Stop runs every stop hook concurrently and joins their errors. Only the
// first call has any effect.
func (s *HatchDbPoolServer) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		hooks := append([]StopHook(nil), s.stopHooks...)
		s.mu.Unlock()

		p := pool.New().WithContext(ctx)
		for _, h := range hooks {
			p.Go(func(ctx context.Context) error {
				return h(ctx)
			})
		}
		s.stopErr = p.Wait()
		if s.stopErr != nil {
			log.Ctx(ctx).Error().Err(s.stopErr).Msg("server stop hooks failed")
		}
	})
	return s.stopErr
}

func (s *HatchDbPoolServer) lifecycle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := common.NewRequestContext(common.RequestIdFromContext(ctx))
		ctx = common.SetRequestContextInContext(ctx, rc)

		defer func() {
			var reqErr error
			p := recover()
			switch {
			case p == http.ErrAbortHandler:
				reqErr = fmt.Errorf("request aborted: %v", p)
			case p != nil:
				reqErr = fmt.Errorf("panic in request handler: %v", p)
				log.Ctx(ctx).Error().Interface("panic", p).Msg("recovered from panic")
				if !headerWritten(w) {
					httpx.ErrApplicationError().SendCtx(ctx, w)
				}
			case ctx.Err() != nil:
				reqErr = ctx.Err()
			}

			detachCtx := context.WithoutCancel(ctx)
			s.emit(detachCtx, EventResponse, rc, reqErr)
			s.emit(detachCtx, EventTail, rc, reqErr)

			if p == http.ErrAbortHandler {
				panic(p)
			}
		}()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// headerWritten reports whether a status line has already gone out on w.
func headerWritten(w http.ResponseWriter) bool {
	ww, ok := w.(chimiddleware.WrapResponseWriter)
	return ok && ww.Status() != 0
}

func (s *HatchDbPoolServer) emit(ctx context.Context, event string, rc *common.RequestContext, err error) {
	s.mu.Lock()
	listeners := s.listeners[event]
	s.mu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Ctx(ctx).Error().Interface("panic", p).Str("event", event).Msg("request listener panicked")
				}
			}()
			l(ctx, rc, err)
		}()
	}
}

func (s *HatchDbPoolServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &api.GetVersionRsp{
		ServerVersion: api.ServerVersion,
		ApiVersion:    api.ApiVersion_1_0,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *HatchDbPoolServer) HandleCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", config.Config().Server.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID")

		if r.Method == "OPTIONS" {
			log.Ctx(r.Context()).Debug().Msg("OPTIONS request")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
