package wire

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// C2S tag bytes.
const (
	TagToken uint8 = 0
	TagPing  uint8 = 1
	TagSub   uint8 = 2
	TagUnsub uint8 = 3
)

// FuncStatePing is the magic funcId the client uses to control the
// state-ping store rather than send a plain ping. Preserve byte-exact.
const FuncStatePing uint32 = 0x0F0F0F0D

// C2SMessage is the decoded form of a client-to-server frame.
type C2SMessage interface{ isC2S() }

// C2SToken carries the session token presented as the first frame of a
// connection.
type C2SToken struct{ Token []byte }

// C2SPing asks the server to fan this payload out under FuncID, optionally
// echoing it back to the sender.
type C2SPing struct {
	FuncID  uint32
	Echo    bool
	Payload []byte
}

// C2SSub requests delivery of every ping published by Target.
type C2SSub struct{ Target uuid.UUID }

// C2SUnsub cancels a prior C2SSub for Target.
type C2SUnsub struct{ Target uuid.UUID }

func (C2SToken) isC2S() {}
func (C2SPing) isC2S()  {}
func (C2SSub) isC2S()   {}
func (C2SUnsub) isC2S() {}

// DecodeC2S parses a single client-to-server frame.
func DecodeC2S(b []byte) (C2SMessage, error) {
	if len(b) < 1 {
		return nil, badLength("c2s.tag", 1, len(b), false)
	}
	switch b[0] {
	case TagToken:
		return C2SToken{Token: append([]byte{}, b[1:]...)}, nil
	case TagPing:
		if len(b) < 6 {
			return nil, badLength("c2s.ping", 6, len(b), false)
		}
		return C2SPing{
			FuncID:  binary.BigEndian.Uint32(b[1:5]),
			Echo:    b[5] != 0,
			Payload: append([]byte{}, b[6:]...),
		}, nil
	case TagSub:
		if len(b) != 17 {
			return nil, badLength("c2s.sub", 17, len(b), true)
		}
		u, err := uuid.FromBytes(b[1:17])
		if err != nil {
			return nil, &DecodeError{err: err}
		}
		return C2SSub{Target: u}, nil
	case TagUnsub:
		if len(b) != 17 {
			return nil, badLength("c2s.unsub", 17, len(b), true)
		}
		u, err := uuid.FromBytes(b[1:17])
		if err != nil {
			return nil, &DecodeError{err: err}
		}
		return C2SUnsub{Target: u}, nil
	default:
		return nil, badEnum("c2s.tag", int(TagToken), int(TagUnsub), int(b[0]))
	}
}

// EncodeC2S is the inverse of DecodeC2S; used by tests to check round-trips
// and by any in-process test client.
func EncodeC2S(m C2SMessage) []byte {
	switch v := m.(type) {
	case C2SToken:
		out := make([]byte, 0, 1+len(v.Token))
		out = append(out, TagToken)
		return append(out, v.Token...)
	case C2SPing:
		out := make([]byte, 6, 6+len(v.Payload))
		out[0] = TagPing
		binary.BigEndian.PutUint32(out[1:5], v.FuncID)
		if v.Echo {
			out[5] = 1
		}
		return append(out, v.Payload...)
	case C2SSub:
		out := make([]byte, 17)
		out[0] = TagSub
		copy(out[1:], v.Target[:])
		return out
	case C2SUnsub:
		out := make([]byte, 17)
		out[0] = TagUnsub
		copy(out[1:], v.Target[:])
		return out
	default:
		panic("wire: unknown C2S message type")
	}
}
