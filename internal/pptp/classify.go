package pptp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind names how a probe terminated.
type Kind int

const (
	KindSuccess Kind = iota
	// KindConnectTimeout covers every failure to establish the transport
	// within the overall timeout, including refused and unreachable.
	KindConnectTimeout
	KindReadTimeout
	KindProtocolError
	KindTransportError
	KindCredentialRejected
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindConnectTimeout:
		return "connect_timeout"
	case KindReadTimeout:
		return "read_timeout"
	case KindProtocolError:
		return "protocol_error"
	case KindTransportError:
		return "transport_error"
	case KindCredentialRejected:
		return "credential_rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kinds lists every outcome in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindSuccess,
		KindConnectTimeout,
		KindReadTimeout,
		KindProtocolError,
		KindTransportError,
		KindCredentialRejected,
	}
}

const (
	lossNone  = 0.0
	lossTotal = 100.0
)

// Result is the outcome of one probe. PacketLoss is 0 on success and 100
// otherwise; it mirrors ping-style results and is not measured.
type Result struct {
	Success    bool
	Elapsed    time.Duration
	PacketLoss float64
	Message    string
	AuthTested bool
	Kind       Kind

	// Result codes are -1 when the corresponding reply was not decoded.
	StartResultCode int
	CallResultCode  int
}

// ElapsedMillis rounds Elapsed to a tenth of a millisecond.
func (r Result) ElapsedMillis() float64 {
	ms := float64(r.Elapsed) / float64(time.Millisecond)
	return math.Round(ms*10) / 10
}

// ClassifyCallResult maps an outgoing-call result code to an outcome. Servers
// report a successful call as either 0 (no error) or 1 (connected).
func ClassifyCallResult(code uint8) Kind {
	if code <= 1 {
		return KindSuccess
	}
	return KindCredentialRejected
}

// Classify turns a terminal session into a Result.
func Classify(s *Session, elapsed time.Duration) Result {
	res := Result{
		Kind:            s.Kind,
		Elapsed:         elapsed,
		PacketLoss:      lossTotal,
		StartResultCode: -1,
		CallResultCode:  -1,
	}
	if s.HasStartResult {
		res.StartResultCode = int(s.StartResult)
	}

	switch s.State {
	case StateCallAcked:
		res.AuthTested = true
		res.CallResultCode = int(s.CallResult)
		if s.Kind == KindSuccess {
			res.Success = true
			res.PacketLoss = lossNone
			res.Message = fmt.Sprintf("pptp call accepted in %.1fms (call_result=%d)", res.ElapsedMillis(), s.CallResult)
		} else {
			res.Message = fmt.Sprintf("pptp call rejected, credentials not accepted (call_result=%d)", s.CallResult)
		}
	case StateFailed:
		res.Message = failureMessage(s)
	default:
		res.Kind = KindTransportError
		res.Message = fmt.Sprintf("pptp handshake stopped in state %s", s.State)
	}
	return res
}

func failureMessage(s *Session) string {
	switch s.Kind {
	case KindConnectTimeout:
		return fmt.Sprintf("connection timeout/unreachable: %v", s.Err)
	case KindReadTimeout:
		return fmt.Sprintf("pptp handshake timeout: server not responding (%s)", awaiting(s.FailedIn))
	case KindProtocolError:
		return fmt.Sprintf("pptp protocol error: %v", s.Err)
	default:
		return fmt.Sprintf("pptp connection error: %v", s.Err)
	}
}

func awaiting(state State) string {
	switch state {
	case StateStartSent:
		return "awaiting start reply"
	case StateCallSent:
		return "awaiting call reply"
	default:
		return "in state " + state.String()
	}
}

// failureKind maps an I/O or decode error seen after connect to an outcome.
func failureKind(err error) Kind {
	var de *DecodeError
	if errors.As(err, &de) {
		return KindProtocolError
	}
	if errors.Is(err, context.Canceled) {
		return KindTransportError
	}
	if isTimeout(err) {
		return KindReadTimeout
	}
	return KindTransportError
}

func failure(err error) Event {
	return Event{Type: EventFailure, Kind: failureKind(err), Err: err}
}
