package probe

import (
	"time"

	"github.com/pingsantohq/pptpagent/internal/pptp"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

type Request struct {
	TargetID    string
	Host        string
	Port        int
	Login       string
	Password    string
	Timeout     time.Duration
	ReadTimeout time.Duration
}

// RequestFor builds a probe request for a configured target. A zero timeout
// on the target falls back to def; readTimeout bounds each reply and zero
// means the handshake default.
func RequestFor(t types.Target, def, readTimeout time.Duration) Request {
	timeout := def
	if t.TimeoutMillis > 0 {
		timeout = time.Duration(t.TimeoutMillis) * time.Millisecond
	}
	return Request{
		TargetID:    t.ID,
		Host:        t.Host,
		Port:        t.Port,
		Login:       t.Login,
		Password:    t.Password,
		Timeout:     timeout,
		ReadTimeout: readTimeout,
	}
}

// PPTP returns the handshake request for this probe.
func (r Request) PPTP() pptp.Request {
	return pptp.Request{
		Host:        r.Host,
		Port:        r.Port,
		Login:       r.Login,
		Password:    r.Password,
		Timeout:     r.Timeout,
		ReadTimeout: r.ReadTimeout,
	}
}

// ToResult converts a handshake result into the downstream result shape.
// AvgTime is only reported for accepted calls.
func ToResult(req Request, res pptp.Result, ts time.Time) types.ProbeResult {
	port := req.Port
	if port <= 0 {
		port = pptp.ControlPort
	}
	out := types.ProbeResult{
		TargetID:    req.TargetID,
		Timestamp:   ts.UTC(),
		Host:        req.Host,
		Port:        port,
		Login:       req.Login,
		Success:     res.Success,
		ElapsedMs:   res.ElapsedMillis(),
		PacketLoss:  res.PacketLoss,
		Message:     res.Message,
		AuthTested:  res.AuthTested,
		Outcome:     res.Kind.String(),
		StartResult: res.StartResultCode,
		CallResult:  res.CallResultCode,
	}
	if res.Success {
		out.AvgTime = out.ElapsedMs
	}
	return out
}
