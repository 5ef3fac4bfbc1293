package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/transport"
)

// acceptRetryDelay is the pause after a temporary accept failure.
const acceptRetryDelay = 100 * time.Millisecond

// ErrCameraNotOpen is returned by OverrideControl for a camera no
// frontend currently holds.
var ErrCameraNotOpen = errors.New("frontend: camera not open")

// Registry is the device registry surface used by the manager. It is
// satisfied by *camera.Registry.
type Registry interface {
	Acquire(uniqueID string) (*camera.Handle, error)
	Lookup(uniqueID string) (*camera.Handle, bool)
}

var _ Registry = (*camera.Registry)(nil)

// ManagerOptions holds configuration for creating a manager.
type ManagerOptions struct {
	// Registry shares devices between sessions.
	Registry Registry

	// Hub groups engines per device. If nil, a new hub is created.
	Hub *Hub

	// DefaultControls is used when neither the frontend nor
	// CameraControls names a control list.
	DefaultControls string

	// CameraControls overrides DefaultControls per unique id.
	CameraControls map[string]string

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional structured logger.
	Logger Logger
}

// Manager accepts frontend connections and tracks their sessions.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	registry        Registry
	hub             *Hub
	defaultControls string
	cameraControls  map[string]string
	telemetry       Telemetry
	logger          Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager creates a manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Manager{
		registry:        opts.Registry,
		hub:             hub,
		defaultControls: opts.DefaultControls,
		cameraControls:  opts.CameraControls,
		telemetry:       opts.Telemetry,
		logger:          logger,
		sessions:        make(map[string]*Session),
	}, nil
}

// Hub returns the manager's engine hub.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Serve accepts connections on l until ctx is cancelled, then closes
// every session and waits for them to finish. It closes l.
func (m *Manager) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	m.logger.Info("accepting frontends", "address", l.Addr().String())

	var err error
	for {
		var nc net.Conn
		nc, err = l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				err = nil
				break
			}
			m.logger.Warn("accept failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		m.start(transport.NewConn(nc))
	}

	m.closeAll()
	m.wg.Wait()
	return err
}

// ServeConn runs a session on an established connection and returns
// when it ends.
func (m *Manager) ServeConn(conn *transport.Conn) {
	s := m.track(conn)
	defer m.wg.Done()
	s.run()
}

func (m *Manager) start(conn *transport.Conn) {
	s := m.track(conn)
	go func() {
		defer m.wg.Done()
		s.run()
	}()
}

func (m *Manager) track(conn *transport.Conn) *Session {
	s := newSession(m, conn)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()
	return s
}

func (m *Manager) untrack(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (m *Manager) controlsFor(uniqueID string) string {
	if c, ok := m.cameraControls[uniqueID]; ok {
		return c
	}
	return m.defaultControls
}

// Sessions returns a snapshot of connected frontends sorted by connect
// time.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Connected.Before(out[j].Connected) })
	return out
}

// OverrideControl sets a control on an open camera on behalf of an
// operator and notifies every frontend bound to it.
//
// Parameters:
//   - uniqueID: Camera that must already be open by a frontend
//   - name: Control name, matched case-insensitively
//   - value: New control value
//
// Returns:
//   - error: ErrCameraNotOpen, an unsupported control, or the driver failure
func (m *Manager) OverrideControl(uniqueID, name string, value int64) error {
	h, ok := m.registry.Lookup(uniqueID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCameraNotOpen, uniqueID)
	}
	defer h.Release()

	// Resolve the control and its wire type
	dev := h.Device()
	info, err := dev.ResolveControl(name)
	if err != nil {
		return err
	}
	t, err := controlTypeToWire(info.ID)
	if err != nil {
		return err
	}
	if err := dev.SetControl(info.ID, value); err != nil {
		return err
	}

	// Notify every bound frontend, then telemetry under the canonical name
	n := m.hub.BroadcastControl(uniqueID, cameraif.CtrlValue{Type: t, Value: value})
	if m.telemetry != nil {
		canonical, _ := cameraif.CtrlName(t)
		m.telemetry.ControlChanged(uniqueID, canonical, value)
	}
	m.logger.Info("control overridden",
		"unique_id", uniqueID,
		"control", name,
		"value", value,
		"frontends", n,
	)
	return nil
}
