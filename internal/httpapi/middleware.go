package httpapi

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"

	"cosmowire/server/internal/users"
)

// userContextKey is where tokenAuth stashes the resolved profile for
// downstream handlers.
const userContextKey = "cosmowire_user"

// tokenAuth resolves the "token" header against the user manager and
// rejects the request if it's missing or unknown. The client supplies the
// same token here as the first WebSocket frame.
func (s *Server) tokenAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.Request().Header.Get("token")
		if token == "" {
			return unauthorized("missing token header")
		}
		info, ok := s.users.Get(token)
		if !ok {
			return unauthorized("unknown token")
		}
		c.Set(userContextKey, info)
		return next(c)
	}
}

func profileFromContext(c echo.Context) users.Userinfo {
	info, _ := c.Get(userContextKey).(users.Userinfo)
	return info
}

// adminAuth gates the /api/v1 namespace behind the configured admin token.
// An unconfigured token locks the whole namespace (423) rather than
// silently accepting every request.
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		want := s.cfg.Current().Token
		if want == "" {
			return locked("admin token is not configured")
		}
		got := c.Request().Header.Get("token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			return unauthorized("missing or wrong admin token")
		}
		return next(c)
	}
}
