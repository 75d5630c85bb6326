package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cosmowire/server/internal/auth"
	"cosmowire/server/internal/blob"
	"cosmowire/server/internal/config"
	"cosmowire/server/internal/metrics"
	"cosmowire/server/internal/session"
	"cosmowire/server/internal/stateping"
	"cosmowire/server/internal/store"
	"cosmowire/server/internal/users"
	"cosmowire/server/internal/wsconn"
)

type testStack struct {
	server  *Server
	users   *users.Manager
	hs      *auth.Handshake
	store   *store.Store
	blobs   *blob.Store
	cfgPath string
}

func newTestStack(t *testing.T, adminToken string) *testStack {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
listen = ":0"
token = "`+adminToken+`"

[limitations]
maxAvatarSize = 1024
maxAvatars = 1
`), 0o644))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	userMgr := users.NewManager()
	hs := auth.NewHandshake(userMgr, cfg.Providers)

	meta, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := blob.NewStore(filepath.Join(dir, "avatars"), meta)
	require.NoError(t, err)

	registry := session.NewRegistry()
	pings := stateping.NewStore()
	wsHandler := wsconn.NewHandler(userMgr, registry, pings, nil)
	metricsReg := metrics.NewRegistry()

	srv := New(cfg, userMgr, hs, registry, pings, blobs, meta, wsHandler, metricsReg, "")
	return &testStack{server: srv, users: userMgr, hs: hs, store: meta, blobs: blobs, cfgPath: cfgPath}
}

// registerUser bypasses the external-provider handshake and directly
// inserts an authenticated profile, returning its token (== its uuid-backed
// serverId stand-in).
func registerUser(t *testing.T, st *testStack, nickname string) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	token := "token-" + id.String()
	require.NoError(t, st.users.Insert(id, token, users.Userinfo{Nickname: nickname}))
	return id, token
}

func TestLimitsVersionMotdArePublic(t *testing.T) {
	st := newTestStack(t, "admintok")

	for _, path := range []string{"/api/limits", "/api/version", "/api/motd"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", path, nil)
		st.server.Echo().ServeHTTP(rec, req)
		require.Equal(t, 200, rec.Code, path)
	}
}

func TestProfileNotFoundForUnknownUUID(t *testing.T) {
	st := newTestStack(t, "admintok")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/"+uuid.New().String(), nil)
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 404, rec.Code)
}

func TestProfileReturnsRegisteredUser(t *testing.T) {
	st := newTestStack(t, "admintok")
	id, _ := registerUser(t, st, "Alice")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/"+id.String(), nil)
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var resp profileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id, resp.UUID)
}

func TestAvatarPutGetDeleteRoundTrip(t *testing.T) {
	st := newTestStack(t, "admintok")
	id, token := registerUser(t, st, "Bob")

	putReq := httptest.NewRequest("PUT", "/api/avatar", bytes.NewReader([]byte("avatar-bytes")))
	putReq.Header.Set("token", token)
	putRec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(putRec, putReq)
	require.Equal(t, 200, putRec.Code)

	getRec := httptest.NewRecorder()
	getReq := httptest.NewRequest("GET", "/api/"+id.String()+"/avatar", nil)
	st.server.Echo().ServeHTTP(getRec, getReq)
	require.Equal(t, 200, getRec.Code)
	body, _ := io.ReadAll(getRec.Body)
	require.Equal(t, "avatar-bytes", string(body))

	delReq := httptest.NewRequest("DELETE", "/api/avatar", nil)
	delReq.Header.Set("token", token)
	delRec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(delRec, delReq)
	require.Equal(t, 204, delRec.Code)

	getRec2 := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(getRec2, httptest.NewRequest("GET", "/api/"+id.String()+"/avatar", nil))
	require.Equal(t, 404, getRec2.Code)
}

func TestAvatarPutRejectsMissingToken(t *testing.T) {
	st := newTestStack(t, "admintok")
	req := httptest.NewRequest("PUT", "/api/avatar", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 401, rec.Code)
}

func TestAdminRawBroadcastsToAllAttachedMailboxes(t *testing.T) {
	st := newTestStack(t, "admintok")
	a := st.server.registry.Attach(uuid.New())
	b := st.server.registry.Attach(uuid.New())

	req := httptest.NewRequest("POST", "/api/v1/raw?all&body=01aa", nil)
	req.Header.Set("token", "admintok")
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	for _, ch := range []chan session.Message{a, b} {
		select {
		case msg := <-ch:
			require.Equal(t, []byte{0x01, 0xaa}, msg.Ping)
		default:
			t.Fatal("expected delivered frame")
		}
	}
}

func TestAdminRawRejectsWrongToken(t *testing.T) {
	st := newTestStack(t, "admintok")
	req := httptest.NewRequest("POST", "/api/v1/raw?all&body=01aa", nil)
	req.Header.Set("token", "wrong")
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 401, rec.Code)
}

func TestAdminRawSingleUUIDDeliversAndReturns404WhenUnattached(t *testing.T) {
	st := newTestStack(t, "admintok")
	id := uuid.New()
	mailbox := st.server.registry.Attach(id)

	req := httptest.NewRequest("POST", "/api/v1/raw?uuid="+id.String()+"&body=01aa", nil)
	req.Header.Set("token", "admintok")
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	select {
	case msg := <-mailbox:
		require.Equal(t, []byte{0x01, 0xaa}, msg.Ping)
	default:
		t.Fatal("expected delivered frame")
	}

	unattached := uuid.New()
	req2 := httptest.NewRequest("POST", "/api/v1/raw?uuid="+unattached.String()+"&body=01aa", nil)
	req2.Header.Set("token", "admintok")
	rec2 := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec2, req2)
	require.Equal(t, 404, rec2.Code)
}

func TestAdminSubRawDeliversAndReturns404WhenNoSubscribers(t *testing.T) {
	st := newTestStack(t, "admintok")
	id := uuid.New()
	ch, _, cancel := st.server.registry.Subscribe(id)
	defer cancel()

	req := httptest.NewRequest("POST", "/api/v1/sub/raw?uuid="+id.String()+"&body=01aa", nil)
	req.Header.Set("token", "admintok")
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 204, rec.Code)

	select {
	case frame := <-ch:
		require.Equal(t, []byte{0x01, 0xaa}, frame)
	default:
		t.Fatal("expected delivered frame")
	}

	noSubs := uuid.New()
	req2 := httptest.NewRequest("POST", "/api/v1/sub/raw?uuid="+noSubs.String()+"&body=01aa", nil)
	req2.Header.Set("token", "admintok")
	rec2 := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec2, req2)
	require.Equal(t, 404, rec2.Code)
}

func TestAdminNamespaceLockedWithoutConfiguredToken(t *testing.T) {
	st := newTestStack(t, "")
	req := httptest.NewRequest("GET", "/api/v1/user/list", nil)
	req.Header.Set("token", "anything")
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 423, rec.Code)
}

func TestAdminBanTriggersAttachedMailboxNotification(t *testing.T) {
	st := newTestStack(t, "admintok")
	id, _ := registerUser(t, st, "Carol")
	mailbox := st.server.registry.Attach(id)

	req := httptest.NewRequest("POST", "/api/v1/user/"+id.String()+"/ban", nil)
	req.Header.Set("token", "admintok")
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 204, rec.Code)

	select {
	case msg := <-mailbox:
		require.True(t, msg.Banned)
	default:
		t.Fatal("expected ban notification")
	}

	info, ok := st.users.GetByUUID(id)
	require.True(t, ok)
	require.True(t, info.Banned)
}

func TestAdminUserListAndSessions(t *testing.T) {
	st := newTestStack(t, "admintok")
	registerUser(t, st, "Dave")

	listReq := httptest.NewRequest("GET", "/api/v1/user/list", nil)
	listReq.Header.Set("token", "admintok")
	listRec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(listRec, listReq)
	require.Equal(t, 200, listRec.Code)

	var profiles []profileResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &profiles))
	require.Len(t, profiles, 1)

	sessReq := httptest.NewRequest("GET", "/api/v1/user/sessions", nil)
	sessReq.Header.Set("token", "admintok")
	sessRec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(sessRec, sessReq)
	require.Equal(t, 200, sessRec.Code)
}

func TestEquipPublishesEventToSubscribers(t *testing.T) {
	st := newTestStack(t, "admintok")
	id, token := registerUser(t, st, "Eve")

	ch, _, cancel := st.server.registry.Subscribe(id)
	defer cancel()

	req := httptest.NewRequest("POST", "/api/equip", nil)
	req.Header.Set("token", token)
	rec := httptest.NewRecorder()
	st.server.Echo().ServeHTTP(rec, req)
	require.Equal(t, 204, rec.Code)

	select {
	case frame := <-ch:
		require.Equal(t, byte(2), frame[0]) // wire.TagEvent
	default:
		t.Fatal("expected event frame to subscriber")
	}
}
