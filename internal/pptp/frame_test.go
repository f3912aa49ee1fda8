package pptp

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"testing/iotest"
)

func TestReadFrameReassemblesFragments(t *testing.T) {
	stream := append(EncodeStartReply(4), EncodeCallReply(1)...)
	r := iotest.OneByteReader(bytes.NewReader(stream))

	first, err := readFrame(r, MinStartReplyLen, "start reply")
	if err != nil {
		t.Fatalf("read start reply: %v", err)
	}
	if len(first) != StartReplyLen {
		t.Fatalf("expected full start frame of %d bytes got %d", StartReplyLen, len(first))
	}
	reply, err := DecodeStartReply(first)
	if err != nil || reply.ResultCode != 4 {
		t.Fatalf("unexpected start reply %+v (%v)", reply, err)
	}

	second, err := readFrame(r, MinCallReplyLen, "call reply")
	if err != nil {
		t.Fatalf("read call reply: %v", err)
	}
	call, err := DecodeCallReply(second)
	if err != nil || call.ResultCode != 1 {
		t.Fatalf("next frame did not start on a boundary: %+v (%v)", call, err)
	}
}

func TestReadFrameShortRead(t *testing.T) {
	_, err := readFrame(bytes.NewReader(EncodeStartReply(1)[:12]), MinStartReplyLen, "start reply")
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expected framing error got %v", err)
	}
}

func TestReadFramePeerClosesMidFrame(t *testing.T) {
	b, err := readFrame(bytes.NewReader(EncodeStartReply(2)[:40]), MinStartReplyLen, "start reply")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b) != 40 {
		t.Fatalf("expected the 40 bytes that arrived got %d", len(b))
	}
}

func TestReadFrameStopsAtDeadlineAfterPrefix(t *testing.T) {
	msg := EncodeStartReply(1)
	r := io.MultiReader(bytes.NewReader(msg[:24]), iotest.ErrReader(os.ErrDeadlineExceeded))
	b, err := readFrame(r, MinStartReplyLen, "start reply")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b) != 24 {
		t.Fatalf("expected the 24 bytes that arrived got %d", len(b))
	}
	reply, err := DecodeStartReply(b)
	if err != nil || reply.ResultCode != 1 {
		t.Fatalf("unexpected start reply %+v (%v)", reply, err)
	}
}

func TestReadFrameDeadlineBeforePrefixIsTimeout(t *testing.T) {
	_, err := readFrame(iotest.ErrReader(os.ErrDeadlineExceeded), MinStartReplyLen, "start reply")
	if failureKind(err) != KindReadTimeout {
		t.Fatalf("expected read timeout kind got %v", err)
	}
}

func TestReadFrameIgnoresImplausibleLength(t *testing.T) {
	msg := EncodeCallReply(1)
	msg[0], msg[1] = 0xFF, 0xFF
	b, err := readFrame(bytes.NewReader(msg), MinCallReplyLen, "call reply")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b) != MinCallReplyLen {
		t.Fatalf("expected only the minimum to be read got %d", len(b))
	}
}

func TestReadFramePropagatesIOErrors(t *testing.T) {
	_, err := readFrame(iotest.ErrReader(io.ErrClosedPipe), MinCallReplyLen, "call reply")
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected closed pipe error got %v", err)
	}
	if failureKind(err) != KindTransportError {
		t.Fatalf("expected transport error kind")
	}
}
