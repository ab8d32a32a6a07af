package apis

import (
	"errors"
	"net/http"

	"github.com/mugiliam/hatchdbpool/internal/db/dberror"
	"github.com/mugiliam/hatchdbpool/internal/httpx"
)

// ToHttpxError maps an error to the envelope sent to clients. Db errors never
// expose their cause.
func ToHttpxError(err error) *httpx.Error {
	var httpErr *httpx.Error
	if errors.As(err, &httpErr) {
		return httpErr
	}
	switch {
	case errors.Is(err, dberror.ErrNoConnection):
		return httpx.ErrUnavailable("db connection not available")
	case errors.Is(err, dberror.ErrDatabase):
		return &httpx.Error{
			StatusCode:  http.StatusInternalServerError,
			Description: "database error",
		}
	}
	return httpx.ErrApplicationError()
}
