package frontend

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/transport"
)

// SessionInfo describes a connected frontend.
type SessionInfo struct {
	ID        string          `json:"id"`
	UniqueID  string          `json:"unique_id"`
	Remote    string          `json:"remote"`
	Controls  []string        `json:"controls"`
	Connected time.Time       `json:"connected"`
	Transport transport.Stats `json:"transport"`
}

// Session is one frontend connection bound to a camera.
type Session struct {
	id        string
	conn      *transport.Conn
	connected time.Time
	m         *Manager

	mu     sync.RWMutex
	engine *Engine
	handle *camera.Handle
}

func newSession(m *Manager, conn *transport.Conn) *Session {
	return &Session{
		id:        uuid.New().String(),
		conn:      conn,
		connected: time.Now(),
		m:         m,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:        s.id,
		Remote:    s.conn.RemoteAddr(),
		Connected: s.connected,
		Transport: s.conn.Stats(),
	}
	s.mu.RLock()
	if s.engine != nil {
		info.UniqueID = s.engine.UniqueID()
		info.Controls = s.engine.Controls()
	}
	s.mu.RUnlock()
	return info
}

// run serves the connection until the frontend closes it or the
// connection fails.
func (s *Session) run() {
	defer s.teardown()

	if !s.bind() {
		return
	}

	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrClosed) {
				s.m.logger.Warn("frontend connection failed", "session", s.id, "error", err)
			}
			return
		}

		switch msgType {
		case transport.MsgRequest:
			if !s.reply(s.handleRequest(payload)) {
				return
			}
		case transport.MsgClose:
			return
		default:
			s.m.logger.Warn("unexpected message", "session", s.id, "type", msgType)
		}
	}
}

// handleRequest decodes and executes one request record. A record too
// short to carry an id cannot be answered and yields false.
func (s *Session) handleRequest(payload []byte) (cameraif.Response, bool) {
	req, err := cameraif.ParseRequest(payload)
	if err != nil {
		s.m.logger.Warn("malformed request", "session", s.id, "bytes", len(payload), "error", err)
		if len(payload) < cameraif.HeaderSize {
			return cameraif.Response{}, false
		}
		resp := cameraif.NewResponse(req)
		resp.Status = -int32(unix.EINVAL)
		return resp, true
	}
	return s.engine.ProcessCommand(req), true
}

// reply sends resp when ok is set. It reports false once the connection
// can no longer be written.
func (s *Session) reply(resp cameraif.Response, ok bool) bool {
	if !ok {
		return true
	}
	if err := s.conn.SendResponse(resp); err != nil {
		s.m.logger.Warn("response write failed", "session", s.id, "error", err)
		return false
	}
	return true
}

// bind waits for MsgOpen, acquires the camera and creates the engine.
func (s *Session) bind() bool {
	msgType, payload, err := s.conn.ReadMessage()
	if err != nil {
		return false
	}
	if msgType != transport.MsgOpen {
		s.m.logger.Warn("frontend did not open a camera", "session", s.id, "type", msgType)
		return false
	}

	open, err := transport.ParseOpenRequest(payload)
	if err != nil {
		s.m.logger.Warn("malformed open request", "session", s.id, "error", err)
		s.ack(-int32(unix.EINVAL))
		return false
	}

	controls := open.Controls
	if controls == "" {
		controls = s.m.controlsFor(open.UniqueID)
	}

	handle, err := s.m.registry.Acquire(open.UniqueID)
	if err != nil {
		s.m.logger.Error("camera open failed",
			"session", s.id,
			"unique_id", open.UniqueID,
			"error", err,
		)
		s.ack(statusFromError(err))
		return false
	}

	engine, err := NewEngine(EngineOptions{
		Device:    handle.Device(),
		Events:    s.conn,
		Controls:  controls,
		Hub:       s.m.hub,
		Telemetry: s.m.telemetry,
		Logger:    s.m.logger,
	})
	if err != nil {
		handle.Release()
		s.ack(statusFromError(err))
		return false
	}

	s.mu.Lock()
	s.engine = engine
	s.handle = handle
	s.mu.Unlock()

	if !s.ack(0) {
		return false
	}
	s.m.logger.Info("frontend bound",
		"session", s.id,
		"unique_id", open.UniqueID,
		"remote", s.conn.RemoteAddr(),
	)
	return true
}

func (s *Session) ack(status int32) bool {
	if err := s.conn.WriteMessage(transport.MsgOpenAck, transport.EncodeStatus(status)); err != nil {
		s.m.logger.Warn("open ack write failed", "session", s.id, "error", err)
		return false
	}
	return true
}

// teardown leaves the stream, releases the camera and closes the
// connection.
func (s *Session) teardown() {
	s.mu.Lock()
	engine, handle := s.engine, s.handle
	s.engine, s.handle = nil, nil
	s.mu.Unlock()

	if engine != nil {
		if err := engine.Close(); err != nil {
			s.m.logger.Warn("engine close failed", "session", s.id, "error", err)
		}
	}
	if handle != nil {
		handle.Release()
	}
	_ = s.conn.Close()
	s.m.untrack(s)

	s.m.logger.Info("frontend unbound", "session", s.id)
}

// close aborts the session from outside.
func (s *Session) close() {
	_ = s.conn.Close()
}
