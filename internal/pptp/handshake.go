package pptp

import (
	"errors"
	"fmt"
)

type State int

const (
	StateInit State = iota
	StateConnected
	StateStartSent
	StateStartAcked
	StateCallSent
	StateCallAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnected:
		return "connected"
	case StateStartSent:
		return "start_sent"
	case StateStartAcked:
		return "start_acked"
	case StateCallSent:
		return "call_sent"
	case StateCallAcked:
		return "call_acked"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further events are accepted.
func (s State) Terminal() bool {
	return s == StateCallAcked || s == StateFailed
}

type EventType int

const (
	EventConnected EventType = iota
	EventStartSent
	EventStartReply
	EventCallSent
	EventCallReply
	EventFailure
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventStartSent:
		return "start_sent"
	case EventStartReply:
		return "start_reply"
	case EventCallSent:
		return "call_sent"
	case EventCallReply:
		return "call_reply"
	case EventFailure:
		return "failure"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one observation fed to the handshake. Only the field matching
// Type is meaningful.
type Event struct {
	Type       EventType
	StartReply StartReply
	CallReply  CallReply
	Kind       Kind
	Err        error
}

var ErrInvalidTransition = errors.New("pptp: invalid handshake transition")

// Step returns the state that follows from applying ev in state. It never
// inspects result codes: a start reply advances regardless of its code, and
// a call reply always completes the handshake.
func Step(state State, ev Event) (State, error) {
	if state.Terminal() {
		return state, fmt.Errorf("%w: %s in terminal state %s", ErrInvalidTransition, ev.Type, state)
	}
	if ev.Type == EventFailure {
		return StateFailed, nil
	}
	var next State
	switch {
	case state == StateInit && ev.Type == EventConnected:
		next = StateConnected
	case state == StateConnected && ev.Type == EventStartSent:
		next = StateStartSent
	case state == StateStartSent && ev.Type == EventStartReply:
		next = StateStartAcked
	case state == StateStartAcked && ev.Type == EventCallSent:
		next = StateCallSent
	case state == StateCallSent && ev.Type == EventCallReply:
		next = StateCallAcked
	default:
		return state, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev.Type, state)
	}
	return next, nil
}

// Session is the mutable record of one handshake.
type Session struct {
	State State

	StartResult    uint8
	HasStartResult bool
	CallResult     uint8

	// Kind and Err are set once State is terminal.
	Kind     Kind
	Err      error
	FailedIn State
}

func (s *Session) Apply(ev Event) error {
	next, err := Step(s.State, ev)
	if err != nil {
		return err
	}
	switch ev.Type {
	case EventStartReply:
		s.StartResult = ev.StartReply.ResultCode
		s.HasStartResult = ev.StartReply.HasResultCode
	case EventCallReply:
		s.CallResult = ev.CallReply.ResultCode
		s.Kind = ClassifyCallResult(ev.CallReply.ResultCode)
	case EventFailure:
		s.Kind = ev.Kind
		s.Err = ev.Err
		s.FailedIn = s.State
	}
	s.State = next
	return nil
}

// Abort forces the session into Failed when the driver cannot continue.
func (s *Session) Abort(err error) {
	if s.State.Terminal() {
		return
	}
	s.Kind = KindTransportError
	s.Err = err
	s.FailedIn = s.State
	s.State = StateFailed
}
