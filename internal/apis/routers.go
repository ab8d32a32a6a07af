package apis

import (
	"net/http"

	"github.com/go-chi/chi"
)

type handlerParam struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

var dbHandlers = []handlerParam{
	{
		Method:  http.MethodGet,
		Path:    "/ping",
		Handler: getDbPing,
	},
	{
		Method:  http.MethodGet,
		Path:    "/stats",
		Handler: getDbStats,
	},
}

// DbRouter mounts the handlers that use the request's db lease.
func DbRouter(r chi.Router) {
	for _, h := range dbHandlers {
		r.Method(h.Method, h.Path, h.Handler)
	}
}
