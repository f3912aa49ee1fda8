// Package pptptest provides a scripted PPTP control-channel server for tests.
package pptptest

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/pingsantohq/pptpagent/internal/pptp"
)

// Script controls how the server answers each connection. A nil reply makes
// the server go silent at that step and hold the connection open.
type Script struct {
	StartReply []byte
	CallReply  []byte
	// CloseAfterStart closes the connection right after the start reply.
	CloseAfterStart bool
}

// Server is a local listener that answers PPTP handshakes per Script.
type Server struct {
	Host string
	Port int

	ln     net.Listener
	script Script
	wg     sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	requests [][]byte
	closeCh  chan struct{}
}

// NewServer starts a server on an ephemeral loopback port.
func NewServer(script Script) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	tcp := ln.Addr().(*net.TCPAddr)
	s := &Server{
		Host:    tcp.IP.String(),
		Port:    tcp.Port,
		ln:      ln,
		script:  script,
		conns:   make(map[net.Conn]struct{}),
		closeCh: make(chan struct{}, 16),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Requests returns copies of every control message the server received.
func (s *Server) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	for i, req := range s.requests {
		out[i] = append([]byte(nil), req...)
	}
	return out
}

// PeerClosed is signalled each time a client closes its side of a connection.
func (s *Server) PeerClosed() <-chan struct{} {
	return s.closeCh
}

func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	if !s.readRequest(conn, pptp.StartRequestLen) {
		return
	}
	if s.script.StartReply == nil {
		s.drain(conn)
		return
	}
	if _, err := conn.Write(s.script.StartReply); err != nil {
		return
	}
	if s.script.CloseAfterStart {
		return
	}

	if !s.readRequest(conn, pptp.CallRequestLen) {
		return
	}
	if s.script.CallReply != nil {
		if _, err := conn.Write(s.script.CallReply); err != nil {
			return
		}
	}
	s.drain(conn)
}

func (s *Server) readRequest(conn net.Conn, n int) bool {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		s.peerClosed(err)
		return false
	}
	s.mu.Lock()
	s.requests = append(s.requests, buf)
	s.mu.Unlock()
	return true
}

// drain holds the connection until the client closes it.
func (s *Server) drain(conn net.Conn) {
	_, err := io.Copy(io.Discard, conn)
	if err == nil {
		err = io.EOF
	}
	s.peerClosed(err)
}

func (s *Server) peerClosed(err error) {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return
	}
	select {
	case s.closeCh <- struct{}{}:
	default:
	}
}

// StartReply returns a well-formed start reply carrying code.
func StartReply(code uint8) []byte {
	return pptp.EncodeStartReply(code)
}

// CallReply returns a well-formed outgoing-call reply carrying code.
func CallReply(code uint8) []byte {
	return pptp.EncodeCallReply(code)
}

// WithMagic returns a copy of msg with its magic cookie replaced.
func WithMagic(msg []byte, magic uint32) []byte {
	out := append([]byte(nil), msg...)
	out[4] = byte(magic >> 24)
	out[5] = byte(magic >> 16)
	out[6] = byte(magic >> 8)
	out[7] = byte(magic)
	return out
}
