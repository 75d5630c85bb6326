package wsconn

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"cosmowire/server/internal/session"
	"cosmowire/server/internal/stateping"
	"cosmowire/server/internal/users"
	"cosmowire/server/internal/wire"
)

type testServer struct {
	manager  *users.Manager
	registry *session.Registry
	pings    *stateping.Store
	url      string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		manager:  users.NewManager(),
		registry: session.NewRegistry(),
		pings:    stateping.NewStore(),
	}
	h := NewHandler(ts.manager, ts.registry, ts.pings, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ts
}

func (ts *testServer) registerUser(t *testing.T, nickname string) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	token := "token-" + nickname
	require.NoError(t, ts.manager.Insert(id, token, users.Userinfo{Nickname: nickname}))
	return id, token
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(wire.C2SToken{Token: []byte(token)})))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := wire.DecodeS2C(raw)
	require.NoError(t, err)
	require.IsType(t, wire.S2CAuth{}, msg)
	return conn
}

func readS2C(t *testing.T, conn *websocket.Conn) wire.S2CMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := wire.DecodeS2C(raw)
	require.NoError(t, err)
	return msg
}

func TestHappyPathPingBroadcast(t *testing.T) {
	ts := startTestServer(t)
	aliceID, aliceTok := ts.registerUser(t, "Alice")
	_, bobTok := ts.registerUser(t, "Bob")

	alice := dial(t, ts.url, aliceTok)
	defer alice.Close()
	bob := dial(t, ts.url, bobTok)
	defer bob.Close()

	require.NoError(t, bob.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(wire.C2SSub{Target: aliceID})))
	time.Sleep(subscribeReplayDelay + 100*time.Millisecond)

	ping := wire.C2SPing{FuncID: 1, Echo: false, Payload: []byte{0xDE, 0xAD}}
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(ping)))

	msg := readS2C(t, bob)
	got, ok := msg.(wire.S2CPing)
	require.True(t, ok)
	require.Equal(t, aliceID, got.Sender)
	require.Equal(t, uint32(1), got.FuncID)
	require.Equal(t, []byte{0xDE, 0xAD}, got.Payload)
}

func TestSelfEcho(t *testing.T) {
	ts := startTestServer(t)
	_, tok := ts.registerUser(t, "Alice")
	conn := dial(t, ts.url, tok)
	defer conn.Close()

	ping := wire.C2SPing{FuncID: 1, Echo: true, Payload: []byte{0x01}}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(ping)))

	msg := readS2C(t, conn)
	got, ok := msg.(wire.S2CPing)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, got.Payload)
}

func TestReauthOnUnknownToken(t *testing.T) {
	ts := startTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(wire.C2SToken{Token: []byte("bogus")})))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, closeReauth, closeErr.Code)
}

func TestBannedAtLoginRunsRitual(t *testing.T) {
	ts := startTestServer(t)
	id, tok := ts.registerUser(t, "Alice")
	ts.manager.Ban(users.Userinfo{UUID: id})

	conn, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(wire.C2SToken{Token: []byte(tok)})))

	msg := readS2C(t, conn)
	toast, ok := msg.(wire.S2CToast)
	require.True(t, ok)
	require.Equal(t, uint8(2), toast.Severity)
	require.Equal(t, "You're banned!", toast.Title)
}

func TestSubUnsubOwnUUIDIgnored(t *testing.T) {
	ts := startTestServer(t)
	id, tok := ts.registerUser(t, "Alice")
	conn := dial(t, ts.url, tok)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(wire.C2SSub{Target: id})))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(wire.C2SUnsub{Target: id})))

	// Still alive: a ping from self should still just broadcast, no crash.
	ping := wire.C2SPing{FuncID: 1, Echo: true, Payload: []byte{}}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(ping)))
	msg := readS2C(t, conn)
	_, ok := msg.(wire.S2CPing)
	require.True(t, ok)
}

func TestStatePingReplayOnSubscribe(t *testing.T) {
	ts := startTestServer(t)
	aliceID, aliceTok := ts.registerUser(t, "Alice")
	_, bobTok := ts.registerUser(t, "Bob")

	alice := dial(t, ts.url, aliceTok)
	defer alice.Close()

	// Arm state-ping capture, then send a normal ping that gets captured.
	arm := wire.C2SPing{FuncID: wire.FuncStatePing, Payload: []byte{0x00, 0x01}}
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(arm)))
	statePing := wire.C2SPing{FuncID: 99, Echo: false, Payload: []byte{0x42}}
	require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(statePing)))

	bob := dial(t, ts.url, bobTok)
	defer bob.Close()
	require.NoError(t, bob.WriteMessage(websocket.BinaryMessage, wire.EncodeC2S(wire.C2SSub{Target: aliceID})))

	msg := readS2C(t, bob)
	got, ok := msg.(wire.S2CPing)
	require.True(t, ok)
	require.Equal(t, aliceID, got.Sender)
	require.Equal(t, uint32(99), got.FuncID)
	require.Equal(t, []byte{0x42}, got.Payload)
}
