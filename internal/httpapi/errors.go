package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// badRequest, unauthorized, etc. build echo.HTTPError values matching the
// wider error taxonomy (BadRequest/Unauthorized/NotFound/NotAcceptable/
// Internal/Locked), so every handler maps its own domain error into exactly
// one status code instead of scattering echo.NewHTTPError calls by hand.
func badRequest(msg string) error      { return echo.NewHTTPError(http.StatusBadRequest, msg) }
func unauthorized(msg string) error    { return echo.NewHTTPError(http.StatusUnauthorized, msg) }
func notFound(msg string) error        { return echo.NewHTTPError(http.StatusNotFound, msg) }
func notAcceptable(msg string) error   { return echo.NewHTTPError(http.StatusNotAcceptable, msg) }
func internal(err error) error         { return echo.NewHTTPError(http.StatusInternalServerError, err.Error()) }
func locked(msg string) error          { return echo.NewHTTPError(http.StatusLocked, msg) }

// jsonErrorHandler ensures all error responses have a consistent JSON body:
//
//	{"error": "message"}
//
// This replaces Echo's default handler, which varies between text and JSON
// depending on the error type.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]string{"error": msg})
}
