package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cosmowire/server/internal/session"
	"cosmowire/server/internal/users"
)

// handleAdminVerify is a cheap 200 for admin-token smoke tests; reaching the
// handler at all means adminAuth already accepted the token.
func (s *Server) handleAdminVerify(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

// handleAdminRaw implements POST /api/v1/raw?all|uuid=<uuid>&body=<hex>:
// injects a hex-encoded frame directly into one or every attached session's
// mailbox. A single-uuid target that isn't attached is a 404, matching the
// error taxonomy's "unattached session for raw injection" case; ?all never
// 404s, since there's no single target to be missing.
func (s *Server) handleAdminRaw(c echo.Context) error {
	payload, err := decodeHexParam(c.QueryParam("body"))
	if err != nil {
		return notAcceptable("body must be valid hex")
	}

	_, all := c.QueryParams()["all"]
	rawUUID := c.QueryParam("uuid")
	switch {
	case all && rawUUID != "":
		return badRequest("exactly one of ?all or ?uuid is required")
	case all:
		targets := s.registry.AttachedIDs()
		delivered := 0
		for _, id := range targets {
			if s.registry.SendToMailbox(id, session.Message{Ping: payload}) {
				delivered++
			}
		}
		if s.metrics != nil {
			s.metrics.AdminInjections.Inc()
		}
		s.auditLog(c, "raw", strings.Join(targetLabels(targets), ","))
		return c.JSON(http.StatusOK, map[string]int{"delivered": delivered})
	case rawUUID != "":
		id, err := uuid.Parse(rawUUID)
		if err != nil {
			return badRequest("invalid uuid")
		}
		if !s.registry.SendToMailbox(id, session.Message{Ping: payload}) {
			return notFound("session not attached")
		}
		if s.metrics != nil {
			s.metrics.AdminInjections.Inc()
		}
		s.auditLog(c, "raw", id.String())
		return c.JSON(http.StatusOK, map[string]int{"delivered": 1})
	default:
		return badRequest("one of ?all or ?uuid is required")
	}
}

// handleAdminSubRaw implements POST /api/v1/sub/raw?uuid=<uuid>&body=<hex>:
// publishes a hex-encoded frame to every current subscriber of uuid's
// topic, as if uuid itself had sent it. A uuid whose topic was never
// created (no one has ever subscribed to it) is a 404.
func (s *Server) handleAdminSubRaw(c echo.Context) error {
	raw := c.QueryParam("uuid")
	if raw == "" {
		return badRequest("uuid is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return badRequest("invalid uuid")
	}
	payload, err := decodeHexParam(c.QueryParam("body"))
	if err != nil {
		return notAcceptable("body must be valid hex")
	}

	if !s.registry.Publish(id, payload) {
		return notFound("no subscribers for uuid")
	}
	if s.metrics != nil {
		s.metrics.AdminInjections.Inc()
	}
	s.auditLog(c, "sub/raw", id.String())
	return c.NoContent(http.StatusNoContent)
}

type adminUserCreateRequest struct {
	UUID     uuid.UUID `json:"uuid"`
	Nickname string    `json:"nickname"`
	Rank     string    `json:"rank"`
	Special  [6]int    `json:"special"`
	Pride    [25]int   `json:"pride"`
}

// handleAdminUserCreate implements POST /api/v1/user/create.
func (s *Server) handleAdminUserCreate(c echo.Context) error {
	var req adminUserCreateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.UUID == uuid.Nil {
		return badRequest("uuid is required")
	}

	s.users.InsertUser(req.UUID, users.Userinfo{
		Nickname: req.Nickname,
		Rank:     req.Rank,
		Special:  req.Special,
		Pride:    req.Pride,
	})
	s.auditLog(c, "user/create", req.UUID.String())
	return c.NoContent(http.StatusCreated)
}

// handleAdminUserBan implements POST /api/v1/user/:uuid/ban.
func (s *Server) handleAdminUserBan(c echo.Context) error {
	id, err := parseUUIDParam(c)
	if err != nil {
		return err
	}

	s.users.Ban(users.Userinfo{UUID: id})
	if s.audit != nil {
		_ = s.audit.InsertBan(c.Request().Context(), id)
	}
	s.registry.SendToMailbox(id, session.Message{Banned: true})
	if s.metrics != nil {
		s.metrics.Bans.Inc()
	}
	s.auditLog(c, "ban", id.String())
	return c.NoContent(http.StatusNoContent)
}

// handleAdminUserUnban implements POST /api/v1/user/:uuid/unban.
func (s *Server) handleAdminUserUnban(c echo.Context) error {
	id, err := parseUUIDParam(c)
	if err != nil {
		return err
	}

	s.users.Unban(id)
	if s.audit != nil {
		_ = s.audit.DeleteBan(c.Request().Context(), id)
	}
	if s.metrics != nil {
		s.metrics.Unbans.Inc()
	}
	s.auditLog(c, "unban", id.String())
	return c.NoContent(http.StatusNoContent)
}

// handleAdminUserList implements GET /api/v1/user/list.
func (s *Server) handleAdminUserList(c echo.Context) error {
	profiles := s.users.ListRegistered()
	out := make([]profileResponse, 0, len(profiles))
	for _, info := range profiles {
		out = append(out, profileResponse{
			UUID:           info.UUID,
			Rank:           info.Rank,
			LastUsed:       info.LastUsed.UTC().Format(timeLayout),
			EquippedBadges: badgesResponse{Special: info.Special, Pride: info.Pride},
			Version:        info.Version,
			Banned:         info.Banned,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// handleAdminUserSessions implements GET /api/v1/user/sessions.
func (s *Server) handleAdminUserSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.users.ListSessions())
}

// handleAdminAvatarPut implements PUT /api/v1/avatar/:uuid.
func (s *Server) handleAdminAvatarPut(c echo.Context) error {
	id, err := parseUUIDParam(c)
	if err != nil {
		return err
	}
	s.auditLog(c, "avatar/put", id.String())
	return s.putAvatar(c, id)
}

// handleAdminAvatarDelete implements DELETE /api/v1/avatar/:uuid.
func (s *Server) handleAdminAvatarDelete(c echo.Context) error {
	id, err := parseUUIDParam(c)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(c.Request().Context(), id); err != nil {
		return internal(err)
	}
	s.auditLog(c, "avatar/delete", id.String())
	return c.NoContent(http.StatusNoContent)
}

// auditLog is best-effort: a failed audit write never fails the admin
// request it's describing.
func (s *Server) auditLog(c echo.Context, action, target string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.InsertAuditLog(c.Request().Context(), "admin", action, target, "")
}

func targetLabels(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
