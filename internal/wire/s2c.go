package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

// S2C tag bytes.
const (
	TagAuth   uint8 = 0
	TagSPing  uint8 = 1 // avoid colliding with C2S's TagPing name, same wire value
	TagEvent  uint8 = 2
	TagToast  uint8 = 3
	TagChat   uint8 = 4
	TagNotice uint8 = 5
)

// S2CMessage is the decoded form of a server-to-client frame.
type S2CMessage interface{ isS2C() }

// S2CAuth acknowledges a successful Token frame.
type S2CAuth struct{}

// S2CPing carries a fanned-out ping, tagged with the uuid of the session that
// originally published it.
type S2CPing struct {
	Sender  uuid.UUID
	FuncID  uint32
	Echo    bool
	Payload []byte
}

// S2CEvent notifies subscribers that Target changed something out-of-band
// (currently only avatar re-equip).
type S2CEvent struct{ Target uuid.UUID }

// S2CToast is a one-shot client-side notification, e.g. the ban ritual.
type S2CToast struct {
	Severity uint8
	Title    string
	Body     string // empty means "absent"; HasBody distinguishes "" from absent
	HasBody  bool
}

// S2CChat is a plain server chat line.
type S2CChat struct{ Text string }

// S2CNotice is a single-byte status code pushed to the client.
type S2CNotice struct{ Code uint8 }

func (S2CAuth) isS2C()   {}
func (S2CPing) isS2C()   {}
func (S2CEvent) isS2C()  {}
func (S2CToast) isS2C()  {}
func (S2CChat) isS2C()   {}
func (S2CNotice) isS2C() {}

// EncodeS2C is a total function: every value of every variant produces a
// well-formed frame.
func EncodeS2C(m S2CMessage) []byte {
	switch v := m.(type) {
	case S2CAuth:
		return []byte{TagAuth}
	case S2CPing:
		out := make([]byte, 22, 22+len(v.Payload))
		out[0] = TagSPing
		copy(out[1:17], v.Sender[:])
		binary.BigEndian.PutUint32(out[17:21], v.FuncID)
		if v.Echo {
			out[21] = 1
		}
		return append(out, v.Payload...)
	case S2CEvent:
		out := make([]byte, 17)
		out[0] = TagEvent
		copy(out[1:], v.Target[:])
		return out
	case S2CToast:
		out := []byte{TagToast, v.Severity}
		out = append(out, []byte(v.Title)...)
		if v.HasBody {
			out = append(out, 0)
			out = append(out, []byte(v.Body)...)
		}
		return out
	case S2CChat:
		out := []byte{TagChat}
		return append(out, []byte(v.Text)...)
	case S2CNotice:
		return []byte{TagNotice, v.Code}
	default:
		panic("wire: unknown S2C message type")
	}
}

// DecodeS2C parses a single server-to-client frame. Primarily used by tests
// and by any in-process verification client.
func DecodeS2C(b []byte) (S2CMessage, error) {
	if len(b) < 1 {
		return nil, badLength("s2c.tag", 1, len(b), false)
	}
	switch b[0] {
	case TagAuth:
		if len(b) != 1 {
			return nil, badLength("s2c.auth", 1, len(b), true)
		}
		return S2CAuth{}, nil
	case TagSPing:
		if len(b) < 22 {
			return nil, badLength("s2c.ping", 22, len(b), false)
		}
		u, err := uuid.FromBytes(b[1:17])
		if err != nil {
			return nil, &DecodeError{err: err}
		}
		return S2CPing{
			Sender:  u,
			FuncID:  binary.BigEndian.Uint32(b[17:21]),
			Echo:    b[21] != 0,
			Payload: append([]byte{}, b[22:]...),
		}, nil
	case TagEvent:
		if len(b) != 17 {
			return nil, badLength("s2c.event", 17, len(b), true)
		}
		u, err := uuid.FromBytes(b[1:17])
		if err != nil {
			return nil, &DecodeError{err: err}
		}
		return S2CEvent{Target: u}, nil
	case TagToast:
		if len(b) < 2 {
			return nil, badLength("s2c.toast", 2, len(b), false)
		}
		rest := b[2:]
		if i := bytes.IndexByte(rest, 0); i >= 0 {
			return S2CToast{Severity: b[1], Title: string(rest[:i]), Body: string(rest[i+1:]), HasBody: true}, nil
		}
		return S2CToast{Severity: b[1], Title: string(rest)}, nil
	case TagChat:
		return S2CChat{Text: string(b[1:])}, nil
	case TagNotice:
		if len(b) != 2 {
			return nil, badLength("s2c.notice", 2, len(b), true)
		}
		return S2CNotice{Code: b[1]}, nil
	default:
		return nil, badEnum("s2c.tag", int(TagAuth), int(TagNotice), int(b[0]))
	}
}
