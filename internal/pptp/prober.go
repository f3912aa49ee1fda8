package pptp

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultReadTimeout = 5 * time.Second

	// drainTimeout bounds the wait for the tail of a frame once the
	// decodable prefix has arrived.
	drainTimeout = 250 * time.Millisecond
)

// Request describes one probe. Password is accepted for callers that carry
// credentials together, but the call request has no field that could carry
// it, so it is never sent.
type Request struct {
	Host        string
	Port        int
	Login       string
	Password    string
	Timeout     time.Duration
	ReadTimeout time.Duration
}

func (r Request) withDefaults() Request {
	if r.Port <= 0 {
		r.Port = ControlPort
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	if r.ReadTimeout <= 0 {
		r.ReadTimeout = DefaultReadTimeout
	}
	return r
}

// Addr returns the host:port the probe dials.
func (r Request) Addr() string {
	r = r.withDefaults()
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dependencies allow test overrides for dialing, clock, and logging.
type Dependencies struct {
	Dialer Dialer
	Logger *log.Logger
	Now    func() time.Time
}

type Prober struct {
	dialer Dialer
	logger *log.Logger
	now    func() time.Time
}

func NewProber(deps Dependencies) *Prober {
	p := &Prober{
		dialer: deps.Dialer,
		logger: deps.Logger,
		now:    deps.Now,
	}
	if p.dialer == nil {
		p.dialer = &net.Dialer{}
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Probe runs one handshake against the request's target. It always returns
// a Result; failures are reported through Result.Kind and Result.Message.
func Probe(ctx context.Context, host, login, password string, timeout time.Duration) Result {
	return NewProber(Dependencies{}).Probe(ctx, Request{
		Host:     host,
		Login:    login,
		Password: password,
		Timeout:  timeout,
	})
}

func (p *Prober) Probe(ctx context.Context, req Request) Result {
	req = req.withDefaults()
	addr := req.Addr()

	var s Session
	dialCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	conn, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		_ = s.Apply(Event{Type: EventFailure, Kind: KindConnectTimeout, Err: err})
		res := Classify(&s, 0)
		p.logger.Printf("pptp probe %s: %s", addr, res.Kind)
		return res
	}
	defer conn.Close()

	start := p.now()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	ex := &exchange{ctx: ctx, conn: conn, readTimeout: req.ReadTimeout}
	drive(ex, &s, req.Login)

	res := Classify(&s, p.now().Sub(start))
	p.logger.Printf("pptp probe %s: %s in %.1fms auth_tested=%t", addr, res.Kind, res.ElapsedMillis(), res.AuthTested)
	return res
}

// drive advances s until it reaches a terminal state, performing the I/O
// each state calls for.
func drive(ex *exchange, s *Session, login string) {
	if err := s.Apply(Event{Type: EventConnected}); err != nil {
		s.Abort(err)
		return
	}
	for !s.State.Terminal() {
		if err := s.Apply(ex.next(s.State, login)); err != nil {
			s.Abort(err)
			return
		}
	}
}

type exchange struct {
	ctx         context.Context
	conn        net.Conn
	readTimeout time.Duration
}

func (x *exchange) next(state State, login string) Event {
	switch state {
	case StateConnected:
		return x.send(EncodeStartRequest(), EventStartSent)
	case StateStartSent:
		b, err := x.receive(MinStartReplyLen, "start reply")
		if err != nil {
			return x.failure(err)
		}
		reply, err := DecodeStartReply(b)
		if err != nil {
			return x.failure(err)
		}
		return Event{Type: EventStartReply, StartReply: reply}
	case StateStartAcked:
		return x.send(EncodeCallRequest(login), EventCallSent)
	case StateCallSent:
		b, err := x.receive(MinCallReplyLen, "call reply")
		if err != nil {
			return x.failure(err)
		}
		reply, err := DecodeCallReply(b)
		if err != nil {
			return x.failure(err)
		}
		return Event{Type: EventCallReply, CallReply: reply}
	default:
		return x.failure(ErrInvalidTransition)
	}
}

func (x *exchange) send(msg []byte, done EventType) Event {
	if err := x.conn.SetWriteDeadline(time.Now().Add(x.readTimeout)); err != nil {
		return x.failure(err)
	}
	if _, err := x.conn.Write(msg); err != nil {
		return x.failure(err)
	}
	return Event{Type: done}
}

func (x *exchange) receive(minLen int, what string) ([]byte, error) {
	if err := x.conn.SetReadDeadline(time.Now().Add(x.readTimeout)); err != nil {
		return nil, err
	}
	return readFrame(x.conn, minLen, what)
}

func (x *exchange) failure(err error) Event {
	if ctxErr := x.ctx.Err(); ctxErr != nil {
		return Event{Type: EventFailure, Kind: KindTransportError, Err: ctxErr}
	}
	return failure(err)
}

// readFrame reads minLen bytes, then the rest of the frame declared in
// the length field when it fits in MaxFrameLen. A peer that closes mid-frame,
// or stops sending after the decodable prefix, yields whatever arrived; one
// that closes before minLen bytes is a framing error.
func readFrame(r io.Reader, minLen int, what string) ([]byte, error) {
	buf := make([]byte, MaxFrameLen)
	n, err := io.ReadFull(r, buf[:minLen])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &DecodeError{Message: what, Err: ErrFraming, Got: uint32(n)}
		}
		return nil, err
	}
	declared := int(binary.BigEndian.Uint16(buf[0:2]))
	if declared <= minLen || declared > MaxFrameLen {
		return buf[:minLen], nil
	}
	if d, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok {
		if err := d.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
			return buf[:minLen], nil
		}
	}
	m, err := io.ReadFull(r, buf[minLen:declared])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isTimeout(err) {
			return buf[:minLen+m], nil
		}
		return nil, err
	}
	return buf[:declared], nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
