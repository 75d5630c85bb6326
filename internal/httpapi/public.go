package httpapi

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cosmowire/server/internal/auth"
	"cosmowire/server/internal/session"
	"cosmowire/server/internal/store"
	"cosmowire/server/internal/users"
	"cosmowire/server/internal/wire"
)

// handleAuthID implements GET /api/auth/id?username=<name>.
func (s *Server) handleAuthID(c echo.Context) error {
	username := strings.TrimSpace(c.QueryParam("username"))
	if username == "" {
		return badRequest("username is required")
	}
	serverID, err := s.handshake.BeginID(username)
	if err != nil {
		return internal(err)
	}
	return c.String(http.StatusOK, serverID)
}

// handleAuthVerify implements GET /api/auth/verify?id=<serverId>.
func (s *Server) handleAuthVerify(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("id"))
	if id == "" {
		return badRequest("id is required")
	}
	version := c.Request().UserAgent()

	token, err := s.handshake.Verify(c.Request().Context(), id, version)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrVerifyFailed):
			if s.metrics != nil {
				s.metrics.HandshakeFailures.WithLabelValues("no_provider_match").Inc()
			}
			return badRequest("failed to verify")
		case errors.Is(err, auth.ErrBanned):
			if s.metrics != nil {
				s.metrics.HandshakeFailures.WithLabelValues("banned").Inc()
			}
			return unauthorized("you're banned")
		case errors.Is(err, auth.ErrSecondSession):
			if s.metrics != nil {
				s.metrics.HandshakeFailures.WithLabelValues("second_session").Inc()
			}
			return unauthorized("a second session is already active")
		default:
			if s.metrics != nil {
				s.metrics.HandshakeFailures.WithLabelValues("internal").Inc()
			}
			return internal(err)
		}
	}
	return c.String(http.StatusOK, token)
}

type limitsResponse struct {
	MaxAvatarSize int `json:"maxAvatarSize"`
	MaxAvatars    int `json:"maxAvatars"`
}

func (s *Server) handleLimits(c echo.Context) error {
	lim := s.cfg.Current().Limitations
	return c.JSON(http.StatusOK, limitsResponse{MaxAvatarSize: lim.MaxAvatarSize, MaxAvatars: lim.MaxAvatars})
}

type versionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, versionResponse{Version: "cosmowire/1"})
}

type motdResponse struct {
	DisplayServerInfo bool   `json:"displayServerInfo"`
	CustomText        string `json:"customText"`
	SInfoUptime       bool   `json:"sInfoUptime"`
	SInfoAuthClients  bool   `json:"sInfoAuthClients"`
	SInfoDrawIndent   bool   `json:"sInfoDrawIndent"`
}

func (s *Server) handleMOTD(c echo.Context) error {
	m := s.cfg.Current().MOTD
	return c.JSON(http.StatusOK, motdResponse{
		DisplayServerInfo: m.DisplayServerInfo,
		CustomText:        m.CustomText,
		SInfoUptime:       m.SInfoUptime,
		SInfoAuthClients:  m.SInfoAuthClients,
		SInfoDrawIndent:   m.SInfoDrawIndent,
	})
}

type equippedEntry struct {
	ID    string    `json:"id"`
	Owner uuid.UUID `json:"owner"`
	Hash  string    `json:"hash"`
}

type badgesResponse struct {
	Special [6]int  `json:"special"`
	Pride   [25]int `json:"pride"`
}

type profileResponse struct {
	UUID           uuid.UUID       `json:"uuid"`
	Rank           string          `json:"rank"`
	Equipped       []equippedEntry `json:"equipped,omitempty"`
	LastUsed       string          `json:"lastUsed"`
	EquippedBadges badgesResponse  `json:"equippedBadges"`
	Version        string          `json:"version"`
	Banned         bool            `json:"banned"`
}

func parseUUIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		return uuid.UUID{}, badRequest("invalid uuid")
	}
	return id, nil
}

// handleProfile implements GET /api/:uuid.
func (s *Server) handleProfile(c echo.Context) error {
	id, err := parseUUIDParam(c)
	if err != nil {
		return err
	}
	info, ok := s.users.GetByUUID(id)
	if !ok {
		return notFound("unknown uuid")
	}

	resp := profileResponse{
		UUID:           info.UUID,
		Rank:           info.Rank,
		LastUsed:       info.LastUsed.UTC().Format(timeLayout),
		EquippedBadges: badgesResponse{Special: info.Special, Pride: info.Pride},
		Version:        info.Version,
		Banned:         info.Banned,
	}
	if meta, err := s.audit.BlobByUUID(c.Request().Context(), id); err == nil {
		resp.Equipped = []equippedEntry{{ID: "avatar", Owner: id, Hash: meta.Hash}}
	}
	return c.JSON(http.StatusOK, resp)
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// handleAvatarGet implements GET /api/:uuid/avatar.
func (s *Server) handleAvatarGet(c echo.Context) error {
	id, err := parseUUIDParam(c)
	if err != nil {
		return err
	}
	res, err := s.blobs.Open(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrBlobNotFound) {
			return notFound("no avatar stored for this uuid")
		}
		return internal(err)
	}
	defer res.File.Close()
	return c.Stream(http.StatusOK, "application/octet-stream", res.File)
}

// handleAvatarPut implements PUT /api/avatar (token-authenticated).
func (s *Server) handleAvatarPut(c echo.Context) error {
	info := profileFromContext(c)
	return s.putAvatar(c, info.UUID)
}

func (s *Server) putAvatar(c echo.Context, target uuid.UUID) error {
	maxBytes := int64(s.cfg.Current().Limitations.MaxAvatarSize) * 1024
	body := c.Request().Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(c.Response(), body, maxBytes)
	}
	contentType := c.Request().Header.Get(echo.HeaderContentType)

	meta, err := s.blobs.Put(c.Request().Context(), target, contentType, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("avatar exceeds configured size limit")
		}
		return internal(err)
	}
	return c.JSON(http.StatusOK, equippedEntry{ID: "avatar", Owner: target, Hash: meta.Hash})
}

// handleAvatarDelete implements DELETE /api/avatar (token-authenticated).
func (s *Server) handleAvatarDelete(c echo.Context) error {
	info := profileFromContext(c)
	if err := s.blobs.Delete(c.Request().Context(), info.UUID); err != nil {
		return internal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleEquip implements POST /api/equip: emits Event(uuid) to the caller's
// own mailbox and to every subscriber of the caller's topic.
func (s *Server) handleEquip(c echo.Context) error {
	info := profileFromContext(c)
	payload := wire.EncodeS2C(wire.S2CEvent{Target: info.UUID})
	s.registry.Publish(info.UUID, payload)
	s.registry.SendToMailbox(info.UUID, session.Message{Ping: payload})
	return c.NoContent(http.StatusNoContent)
}

// handleTokenCheck implements GET /api/ — reaching here at all means
// tokenAuth already resolved the header, so the check is vacuously true.
func (s *Server) handleTokenCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

// decodeHexParam hex-decodes the `body` query parameter, used by the admin
// raw-injection endpoints (spec: `POST /raw?uuid=<UUID>&body=<hex>`). The
// hex payload is a query key alongside uuid/all, not the request body.
func decodeHexParam(body string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(body))
}
