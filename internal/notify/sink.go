package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// SinkSender delivers notifications to a companion UI process over a local
// socket (Unix domain socket, or a named pipe on Windows) using the framed
// protocol in frame.go. The UI owns presentation: banners, sounds, haptics.
type SinkSender struct {
	// path is the socket path (ignored on Windows, where the pipe name is
	// fixed by sinkDial).
	path string

	// mu protects conn from concurrent sends.
	mu sync.Mutex
	// conn is the active sink connection, or nil when disconnected.
	conn net.Conn
}

// notifyPayload is the JSON body of an OpNotify frame.
type notifyPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// hapticPayload is the JSON body of an OpHaptic frame.
type hapticPayload struct {
	Kind string `json:"kind"`
}

// NewSinkSender creates a SinkSender dialing the given socket path.
func NewSinkSender(path string) *SinkSender {
	return &SinkSender{path: path}
}

// RequestPermission reports whether the sink is currently reachable.
func (s *SinkSender) RequestPermission(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureConn() == nil
}

// Send delivers one notification frame. A connection failure drops the
// cached connection so the next send redials.
func (s *SinkSender) Send(title, body string) error {
	payload, err := json.Marshal(notifyPayload{Title: title, Body: body})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.sendFrame(OpNotify, payload)
}

// PlayHaptic asks the sink to play a haptic of the given kind. Implements
// the stretch notifier's optional haptic surface.
func (s *SinkSender) PlayHaptic(kind string) error {
	payload, err := json.Marshal(hapticPayload{Kind: kind})
	if err != nil {
		return fmt.Errorf("marshal haptic: %w", err)
	}
	return s.sendFrame(OpHaptic, payload)
}

// Close sends a close frame if connected and tears the connection down.
func (s *SinkSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if frame, err := EncodeFrame(OpClose, nil); err == nil {
		s.conn.Write(frame)
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// sendFrame encodes and writes one frame, redialing when disconnected.
func (s *SinkSender) sendFrame(opcode Opcode, payload []byte) error {
	frame, err := EncodeFrame(opcode, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConn(); err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		// Stale connection; drop it so the next send redials.
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("write sink frame: %w", err)
	}
	return nil
}

// ensureConn dials the sink if not already connected. Caller holds mu.
func (s *SinkSender) ensureConn() error {
	if s.conn != nil {
		return nil
	}
	conn, err := sinkDial(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkNotAvailable, err)
	}
	s.conn = conn
	return nil
}
