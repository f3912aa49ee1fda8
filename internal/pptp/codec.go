// Package pptp probes a PPTP control channel far enough to observe whether
// the server accepts an outgoing call for a login, without opening a tunnel.
package pptp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	ControlPort = 1723

	Magic uint32 = 0x1A2B3C4D

	MessageKindControl uint16 = 1

	HeaderLen = 12
)

// Control message subtypes.
const (
	StartControlConnectionRequest uint16 = 1
	StartControlConnectionReply   uint16 = 2
	OutgoingCallRequest           uint16 = 7
	OutgoingCallReply             uint16 = 8
)

const (
	StartRequestLen = 156
	StartReplyLen   = 156
	CallRequestLen  = 168
	CallReplyLen    = 32

	MinStartReplyLen = 16
	MinCallReplyLen  = 21

	// MaxFrameLen bounds how much of a declared frame is read off the wire.
	MaxFrameLen = 1024

	resultCodeOffset = 20
)

const (
	protocolVersion  uint16 = 1
	framingCaps      uint32 = 1
	bearerCaps       uint32 = 1
	maxChannels      uint16 = 1
	firmwareRevision uint16 = 1

	callID            uint16 = 1
	callSerial        uint16 = 2
	minBPS            uint32 = 300
	maxBPS            uint32 = 100000000
	bearerDigital     uint32 = 1
	framingSync       uint32 = 1
	recvWindow        uint16 = 1500
	processingDelay   uint16 = 64
	clientHostName           = "PPTP_CLIENT"
	clientVendor             = "PPTP_VENDOR"
	subaddressDefault        = "PPTP_SUBADDR"
)

var (
	ErrFraming           = errors.New("pptp: short frame")
	ErrMagicMismatch     = errors.New("pptp: invalid magic cookie")
	ErrUnexpectedSubtype = errors.New("pptp: unexpected control message type")
)

// DecodeError reports a framing violation in a received control message.
type DecodeError struct {
	Message string
	Err     error
	Got     uint32
}

func (e *DecodeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrFraming):
		return fmt.Sprintf("%s: %v (%d bytes)", e.Message, e.Err, e.Got)
	case errors.Is(e.Err, ErrMagicMismatch):
		return fmt.Sprintf("%s: %v (0x%08x)", e.Message, e.Err, e.Got)
	case errors.Is(e.Err, ErrUnexpectedSubtype):
		return fmt.Sprintf("%s: %v (%d)", e.Message, e.Err, e.Got)
	default:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Header is the fixed prefix shared by every control message.
type Header struct {
	Length  uint16
	Kind    uint16
	Magic   uint32
	Subtype uint16
}

type StartReply struct {
	Header
	ResultCode uint8
	// HasResultCode is false when the reply was shorter than the result field.
	HasResultCode bool
}

type CallReply struct {
	Header
	ResultCode uint8
}

// DecodeHeader parses the fixed header without checking the subtype.
func DecodeHeader(b []byte) (Header, error) {
	return decodeHeader(b, "header")
}

func decodeHeader(b []byte, what string) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, &DecodeError{Message: what, Err: ErrFraming, Got: uint32(len(b))}
	}
	h := Header{
		Length:  binary.BigEndian.Uint16(b[0:2]),
		Kind:    binary.BigEndian.Uint16(b[2:4]),
		Magic:   binary.BigEndian.Uint32(b[4:8]),
		Subtype: binary.BigEndian.Uint16(b[8:10]),
	}
	if h.Magic != Magic {
		return Header{}, &DecodeError{Message: what, Err: ErrMagicMismatch, Got: h.Magic}
	}
	return h, nil
}

func EncodeStartRequest() []byte {
	buf := make([]byte, StartRequestLen)
	putHeader(buf, StartRequestLen, StartControlConnectionRequest)
	binary.BigEndian.PutUint16(buf[12:14], protocolVersion)
	binary.BigEndian.PutUint32(buf[16:20], framingCaps)
	binary.BigEndian.PutUint32(buf[20:24], bearerCaps)
	binary.BigEndian.PutUint16(buf[24:26], maxChannels)
	binary.BigEndian.PutUint16(buf[26:28], firmwareRevision)
	putString(buf[28:92], clientHostName)
	putString(buf[92:156], clientVendor)
	return buf
}

func DecodeStartReply(b []byte) (StartReply, error) {
	if len(b) < MinStartReplyLen {
		return StartReply{}, &DecodeError{Message: "start reply", Err: ErrFraming, Got: uint32(len(b))}
	}
	h, err := decodeHeader(b, "start reply")
	if err != nil {
		return StartReply{}, err
	}
	if h.Subtype != StartControlConnectionReply {
		return StartReply{}, &DecodeError{Message: "start reply", Err: ErrUnexpectedSubtype, Got: uint32(h.Subtype)}
	}
	reply := StartReply{Header: h}
	if len(b) > resultCodeOffset {
		reply.ResultCode = b[resultCodeOffset]
		reply.HasResultCode = true
	}
	return reply, nil
}

// EncodeCallRequest builds the outgoing-call request. The login travels in
// the phone number field; there is no password field in this message.
func EncodeCallRequest(login string) []byte {
	buf := make([]byte, CallRequestLen)
	putHeader(buf, CallRequestLen, OutgoingCallRequest)
	binary.BigEndian.PutUint16(buf[12:14], callID)
	binary.BigEndian.PutUint16(buf[14:16], callSerial)
	binary.BigEndian.PutUint32(buf[16:20], minBPS)
	binary.BigEndian.PutUint32(buf[20:24], maxBPS)
	binary.BigEndian.PutUint32(buf[24:28], bearerDigital)
	binary.BigEndian.PutUint32(buf[28:32], framingSync)
	binary.BigEndian.PutUint16(buf[32:34], recvWindow)
	binary.BigEndian.PutUint16(buf[34:36], processingDelay)
	n := putString(buf[40:104], login)
	binary.BigEndian.PutUint16(buf[36:38], uint16(n))
	putString(buf[104:168], subaddressDefault)
	return buf
}

func DecodeCallReply(b []byte) (CallReply, error) {
	if len(b) < MinCallReplyLen {
		return CallReply{}, &DecodeError{Message: "call reply", Err: ErrFraming, Got: uint32(len(b))}
	}
	h, err := decodeHeader(b, "call reply")
	if err != nil {
		return CallReply{}, err
	}
	return CallReply{Header: h, ResultCode: b[resultCodeOffset]}, nil
}

// EncodeStartReply builds a server-side start reply carrying code.
func EncodeStartReply(code uint8) []byte {
	buf := make([]byte, StartReplyLen)
	putHeader(buf, StartReplyLen, StartControlConnectionReply)
	binary.BigEndian.PutUint16(buf[12:14], protocolVersion)
	buf[resultCodeOffset] = code
	putString(buf[28:92], "PPTP_SERVER")
	putString(buf[92:156], clientVendor)
	return buf
}

// EncodeCallReply builds a server-side outgoing-call reply carrying code.
func EncodeCallReply(code uint8) []byte {
	buf := make([]byte, CallReplyLen)
	putHeader(buf, CallReplyLen, OutgoingCallReply)
	binary.BigEndian.PutUint16(buf[12:14], callID)
	binary.BigEndian.PutUint16(buf[14:16], callID)
	buf[resultCodeOffset] = code
	return buf
}

func putHeader(buf []byte, length int, subtype uint16) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(length))
	binary.BigEndian.PutUint16(buf[2:4], MessageKindControl)
	binary.BigEndian.PutUint32(buf[4:8], Magic)
	binary.BigEndian.PutUint16(buf[8:10], subtype)
}

// putString copies s into the zero-filled field, truncating to its width.
func putString(field []byte, s string) int {
	return copy(field, s)
}
