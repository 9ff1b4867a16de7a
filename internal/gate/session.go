package gate

import (
	"sync"
	"sync/atomic"
	"time"
)

// Gate is a depot boundary crossing.
type Gate string

const (
	Entry Gate = "entry"
	Exit  Gate = "exit"
)

// ParseGate accepts "entry" or "exit".
func ParseGate(raw string) (Gate, bool) {
	switch Gate(raw) {
	case Entry, Exit:
		return Gate(raw), true
	}
	return "", false
}

// Method is how a bus was identified at a gate.
type Method int32

const (
	MethodUnset Method = iota
	MethodPrimary
	MethodFallback
	// methodSuperseded marks a pending session replaced by a newer gate event.
	methodSuperseded
	// MethodRestored marks a session rebuilt for a bus already inside.
	MethodRestored
)

func (m Method) String() string {
	switch m {
	case MethodUnset:
		return "unset"
	case MethodPrimary:
		return "anpr"
	case MethodFallback:
		return "rfid"
	case methodSuperseded:
		return "superseded"
	case MethodRestored:
		return "restored"
	}
	return "unknown"
}

// Session is the gate state of one bus: the gate it last crossed, how it was
// identified there and the level it is currently on.
type Session struct {
	Plate     string
	BusID     string
	Gate      Gate
	StartedAt time.Time

	method atomic.Int32
	timer  Timer

	// mu serializes moves of this bus and guards level.
	mu    sync.Mutex
	level int
}

// claim sets the identification method if none was chosen yet. Exactly one
// caller wins.
func (s *Session) claim(m Method) bool {
	return s.method.CompareAndSwap(int32(MethodUnset), int32(m))
}

// Method returns the identification method, MethodUnset while pending.
func (s *Session) Method() Method {
	return Method(s.method.Load())
}

// SessionView is a snapshot of a session.
type SessionView struct {
	Plate     string    `json:"plate_number"`
	BusID     string    `json:"bus_id"`
	Gate      Gate      `json:"gate"`
	Method    string    `json:"method"`
	Level     int       `json:"level"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Session) view() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionView{
		Plate:     s.Plate,
		BusID:     s.BusID,
		Gate:      s.Gate,
		Method:    s.Method().String(),
		Level:     s.level,
		StartedAt: s.StartedAt,
	}
}
