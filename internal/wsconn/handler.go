// Package wsconn implements the per-connection WebSocket state machine:
// Opening -> Authenticating -> Running -> Closing, including the ban ritual
// and the state-ping control procedure.
package wsconn

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cosmowire/server/internal/session"
	"cosmowire/server/internal/stateping"
	"cosmowire/server/internal/users"
	"cosmowire/server/internal/wire"
)

const (
	// banToastDelay is how long the ban ritual waits after the toast before
	// closing the connection.
	banToastDelay = 6 * time.Second

	closeReauth = 4000
	closeBanned = 4001

	// subscribeReplayDelay is the small pause before a new subscription
	// worker starts forwarding live frames, giving the state-ping replay a
	// chance to land first so the client reconstructs sticky state before
	// new deltas arrive.
	subscribeReplayDelay = time.Second
)

// Handler upgrades HTTP requests to WebSocket connections and drives each
// one through the session state machine.
type Handler struct {
	Manager  *users.Manager
	Registry *session.Registry
	Pings    *stateping.Store
	Log      *slog.Logger

	upgrader websocket.Upgrader
}

// NewHandler wires a Handler against the shared user manager, session
// registry, and state-ping store.
func NewHandler(m *users.Manager, r *session.Registry, p *stateping.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Manager:  m,
		Registry: r,
		Pings:    p,
		Log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection to completion. Any
// upgrade failure is logged and the request otherwise dropped.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", "err", err)
		return
	}
	s := &wsSession{
		handler:       h,
		conn:          conn,
		subscriptions: make(map[uuid.UUID]func()),
	}
	s.run()
}

// wsSession is one connection's private state. Fields touched from the
// subscription-worker goroutines are guarded by mu; everything else only
// ever runs on the session's own goroutine.
type wsSession struct {
	handler *Handler
	conn    *websocket.Conn
	id      uuid.UUID

	mu            sync.Mutex
	subscriptions map[uuid.UUID]func()

	statePingArmed bool

	writeMu sync.Mutex
}

// run drives Opening -> Authenticating -> Running -> Closing.
func (s *wsSession) run() {
	defer s.conn.Close()

	info, ok := s.authenticate()
	if !ok {
		return
	}
	s.id = info.UUID

	mailbox := s.handler.Registry.Attach(s.id)
	defer s.teardown()

	if err := s.sendS2C(wire.S2CAuth{}); err != nil {
		return
	}

	s.runLoop(mailbox)
}

// authenticate implements Opening -> Authenticating. The bool return
// reports whether the session successfully reached Running; when false the
// connection has already been fully handled (closed, or handed to the ban
// ritual) and the caller must stop.
func (s *wsSession) authenticate() (users.Userinfo, bool) {
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return users.Userinfo{}, false
	}
	msg, err := wire.DecodeC2S(raw)
	if err != nil {
		s.handler.Log.Debug("protocol error during auth", "err", err)
		return users.Userinfo{}, false
	}
	tok, ok := msg.(wire.C2SToken)
	if !ok || len(tok.Token) == 0 {
		// UnauthorizedAction: first frame must be a non-empty Token.
		return users.Userinfo{}, false
	}

	info, found := s.handler.Manager.Get(string(tok.Token))
	if !found {
		s.closeWithCode(closeReauth, "Re-auth")
		return users.Userinfo{}, false
	}
	if info.Banned {
		s.runBanRitual()
		return users.Userinfo{}, false
	}
	return info, true
}

// runLoop implements the Running state: select over inbound WebSocket
// frames (delivered via a reader goroutine) and outbound mailbox items,
// until either source fails.
func (s *wsSession) runLoop(mailbox <-chan session.Message) {
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := s.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			inbound <- raw
		}
	}()

	for {
		select {
		case raw := <-inbound:
			if !s.handleInbound(raw) {
				return
			}
		case <-readErr:
			return
		case m := <-mailbox:
			if m.Banned {
				s.runBanRitual()
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, m.Ping); err != nil {
				return
			}
		}
	}
}

// handleInbound dispatches one decoded C2S frame. Returns false when the
// connection must be torn down.
func (s *wsSession) handleInbound(raw []byte) bool {
	msg, err := wire.DecodeC2S(raw)
	if err != nil {
		s.handler.Log.Debug("protocol error", "uuid", s.id, "err", err)
		return false
	}

	switch v := msg.(type) {
	case wire.C2SToken:
		// A second Token frame once Running is a protocol violation.
		return false
	case wire.C2SPing:
		s.handlePing(v)
		return true
	case wire.C2SSub:
		s.handleSub(v.Target)
		return true
	case wire.C2SUnsub:
		s.handleUnsub(v.Target)
		return true
	default:
		return false
	}
}

func (s *wsSession) handlePing(p wire.C2SPing) {
	if p.FuncID == wire.FuncStatePing {
		s.handleStatePingControl(p.Payload)
		return
	}

	out := wire.EncodeS2C(wire.S2CPing{Sender: s.id, FuncID: p.FuncID, Echo: p.Echo, Payload: p.Payload})

	if s.statePingArmed {
		s.handler.Pings.Append(s.id, out)
		s.statePingArmed = false
	}
	if p.Echo {
		_ = s.conn.WriteMessage(websocket.BinaryMessage, out)
	}
	s.handler.Registry.Publish(s.id, out)
}

func (s *wsSession) handleStatePingControl(payload []byte) {
	if len(payload) < 2 {
		return
	}
	switch payload[1] {
	case 0:
		s.handler.Pings.Reset(s.id)
	case 1:
		s.statePingArmed = true
	default:
		// ignore unknown control bytes
	}
}

func (s *wsSession) handleSub(target uuid.UUID) {
	if target == s.id {
		return
	}

	s.mu.Lock()
	if _, exists := s.subscriptions[target]; exists {
		s.mu.Unlock()
		return
	}
	ch, done, cancel := s.handler.Registry.Subscribe(target)
	s.subscriptions[target] = cancel
	s.mu.Unlock()

	selfID := s.id
	go func() {
		time.Sleep(subscribeReplayDelay)
		for _, frame := range s.handler.Pings.Snapshot(target) {
			s.handler.Registry.SendToMailbox(selfID, session.Message{Ping: frame})
		}
		for {
			select {
			case <-done:
				return
			case frame := <-ch:
				s.handler.Registry.SendToMailbox(selfID, session.Message{Ping: frame})
			}
		}
	}()
}

func (s *wsSession) handleUnsub(target uuid.UUID) {
	s.mu.Lock()
	cancel, ok := s.subscriptions[target]
	if ok {
		delete(s.subscriptions, target)
	}
	s.mu.Unlock()
	if !ok {
		s.handler.Log.Debug("unsub for unknown subscription", "uuid", s.id, "target", target)
		return
	}
	cancel()
}

// teardown implements Closing: cancel every pending subscription worker,
// detach from the registry, and remove the session's token so the single-
// session invariant clears for the next handshake.
func (s *wsSession) teardown() {
	s.mu.Lock()
	cancels := make([]func(), 0, len(s.subscriptions))
	for _, c := range s.subscriptions {
		cancels = append(cancels, c)
	}
	s.subscriptions = nil
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}

	s.handler.Registry.Detach(s.id)
	s.handler.Manager.Remove(s.id)
}

// runBanRitual sends the ban toast, waits, then closes with the banned
// close code. Used both when an already-banned user authenticates and when
// a ban arrives for an attached session.
func (s *wsSession) runBanRitual() {
	_ = s.sendS2C(wire.S2CToast{Severity: 2, Title: "You're banned!"})
	time.Sleep(banToastDelay)
	s.closeWithCode(closeBanned, "You're banned!")
}

func (s *wsSession) closeWithCode(code int, text string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func (s *wsSession) sendS2C(m wire.S2CMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, wire.EncodeS2C(m))
}
