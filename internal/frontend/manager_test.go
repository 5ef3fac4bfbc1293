package frontend_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/camera/cameratest"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/frontend"
	"github.com/andr2000/camera-be/internal/transport"
	"github.com/andr2000/camera-be/internal/v4l2"
)

type mapResolver map[string]string

func (r mapResolver) ResolvePath(uniqueID string) (string, error) {
	if p, ok := r[uniqueID]; ok {
		return p, nil
	}
	return "", unix.ENOENT
}

func newManager(t *testing.T, opts frontend.ManagerOptions) (*frontend.Manager, *cameratest.Factory) {
	t.Helper()
	factory := cameratest.NewFactory("/dev/video0")
	opts.Registry = camera.NewRegistry(camera.RegistryOptions{
		Resolver: mapResolver{"cam0": "/dev/video0"},
		Device: camera.Options{
			Open:    factory.Open,
			OnFatal: func(err error) { t.Errorf("unexpected fatal capture error: %v", err) },
		},
	})
	m, err := frontend.NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m, factory
}

// connect runs a session on one end of a pipe and returns a client on the
// other.
func connect(t *testing.T, m *frontend.Manager) (*transport.Client, <-chan struct{}) {
	t.Helper()
	srv, cli := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ServeConn(transport.NewConn(srv))
	}()
	c := transport.NewClient(transport.NewConn(cli))
	t.Cleanup(func() {
		_ = c.Close()
		<-done
	})
	return c, done
}

func waitEvent(t *testing.T, c *transport.Client) cameraif.Event {
	t.Helper()
	select {
	case evt, ok := <-c.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return cameraif.Event{}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestNewManagerRequiresRegistry(t *testing.T) {
	if _, err := frontend.NewManager(frontend.ManagerOptions{}); err == nil {
		t.Error("NewManager() without registry succeeded")
	}
}

func TestManagerSession(t *testing.T) {
	m, factory := newManager(t, frontend.ManagerOptions{
		DefaultControls: "saturation",
		CameraControls:  map[string]string{"cam0": "brightness,hue"},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, aDone := connect(t, m)
	if st, err := a.Open(ctx, "cam0", "contrast,saturation"); err != nil || st != 0 {
		t.Fatalf("Open() = %d, %v", st, err)
	}
	b, bDone := connect(t, m)
	if st, err := b.Open(ctx, "cam0", ""); err != nil || st != 0 {
		t.Fatalf("Open() = %d, %v", st, err)
	}

	if n := len(factory.Opened()); n != 1 {
		t.Errorf("opened %d devices, want 1 shared", n)
	}

	sessions := m.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("Sessions() = %d, want 2", len(sessions))
	}
	if got := sessions[0].Controls; len(got) != 2 || got[0] != "contrast" {
		t.Errorf("first session controls = %v", got)
	}
	if got := sessions[1].Controls; len(got) != 2 || got[0] != "brightness" || got[1] != "hue" {
		t.Errorf("second session controls = %v", got)
	}
	for _, s := range sessions {
		if s.UniqueID != "cam0" || s.ID == "" {
			t.Errorf("session = %+v", s)
		}
	}

	req := cameraif.Request{ID: 1, Operation: cameraif.OpCtrlEnum}
	resp, err := a.Do(ctx, req)
	if err != nil || resp.Status != 0 {
		t.Fatalf("ctrl-enum = %d, %v", resp.Status, err)
	}
	if got := cameraif.DecodeCtrlEnum(&resp.Payload); got.Type != cameraif.CtrlContrast || got.Max != 95 {
		t.Errorf("ctrl-enum = %+v", got)
	}

	req = cameraif.Request{ID: 2, Operation: cameraif.OpCtrlSet}
	cameraif.CtrlValue{Type: cameraif.CtrlContrast, Value: 10}.Encode(&req.Payload)
	if resp, err := a.Do(ctx, req); err != nil || resp.Status != 0 || resp.ID != 2 {
		t.Fatalf("ctrl-set = %+v, %v", resp, err)
	}

	evt := waitEvent(t, b)
	if v := cameraif.DecodeCtrlValue(&evt.Payload); evt.Type != cameraif.EvtCtrlChange || v.Type != cameraif.CtrlContrast || v.Value != 10 {
		t.Errorf("peer event = %+v (%+v)", evt, v)
	}

	if err := m.OverrideControl("cam0", "Saturation", 70); err != nil {
		t.Fatalf("OverrideControl() error = %v", err)
	}
	for name, c := range map[string]*transport.Client{"a": a, "b": b} {
		evt := waitEvent(t, c)
		if v := cameraif.DecodeCtrlValue(&evt.Payload); v.Type != cameraif.CtrlSaturation || v.Value != 70 {
			t.Errorf("%s override event = %+v", name, v)
		}
	}
	if got := factory.Last("video0").ControlValue(v4l2.CIDSaturation); got != 70 {
		t.Errorf("hardware saturation = %d, want 70", got)
	}

	if err := m.OverrideControl("cam9", "contrast", 1); !errors.Is(err, frontend.ErrCameraNotOpen) {
		t.Errorf("OverrideControl(unknown) error = %v, want ErrCameraNotOpen", err)
	}
	if err := m.OverrideControl("cam0", "gamma", 1); !errors.Is(err, camera.ErrUnsupportedControl) {
		t.Errorf("OverrideControl(gamma) error = %v, want ErrUnsupportedControl", err)
	}

	if groups := m.Hub().Groups(); len(groups) != 1 || groups[0].Frontends != 2 {
		t.Errorf("Groups() = %+v", groups)
	}

	_ = a.Close()
	waitDone(t, aDone)
	if hw := factory.Last("video0"); hw.State().Closed {
		t.Error("device closed while a frontend still holds it")
	}

	_ = b.Close()
	waitDone(t, bDone)
	if hw := factory.Last("video0"); !hw.State().Closed {
		t.Error("device still open after every frontend left")
	}
	if n := len(m.Sessions()); n != 0 {
		t.Errorf("Sessions() = %d after close", n)
	}
	if n := len(m.Hub().Groups()); n != 0 {
		t.Errorf("Groups() = %d after close", n)
	}
}

func TestManagerControlTelemetryNames(t *testing.T) {
	tel := &telemetryRecorder{}
	m, _ := newManager(t, frontend.ManagerOptions{Telemetry: tel})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _ := connect(t, m)
	if st, err := c.Open(ctx, "cam0", "Contrast"); err != nil || st != 0 {
		t.Fatalf("Open() = %d, %v", st, err)
	}
	if resp, err := c.Do(ctx, cameraif.Request{ID: 1, Operation: cameraif.OpCtrlEnum}); err != nil || resp.Status != 0 {
		t.Fatalf("ctrl-enum = %d, %v", resp.Status, err)
	}

	req := cameraif.Request{ID: 2, Operation: cameraif.OpCtrlSet}
	cameraif.CtrlValue{Type: cameraif.CtrlContrast, Value: 10}.Encode(&req.Payload)
	if resp, err := c.Do(ctx, req); err != nil || resp.Status != 0 {
		t.Fatalf("ctrl-set = %d, %v", resp.Status, err)
	}
	if err := m.OverrideControl("cam0", "CONTRAST", 20); err != nil {
		t.Fatalf("OverrideControl() error = %v", err)
	}

	tel.mu.Lock()
	defer tel.mu.Unlock()
	want := []string{"cam0/contrast", "cam0/contrast"}
	if len(tel.changes) != len(want) || tel.changes[0] != want[0] || tel.changes[1] != want[1] {
		t.Errorf("telemetry changes = %v, want %v", tel.changes, want)
	}
}

func TestManagerOpenUnknownCamera(t *testing.T) {
	m, _ := newManager(t, frontend.ManagerOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, done := connect(t, m)
	st, err := c.Open(ctx, "cam9", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if st != -int32(unix.ENOENT) {
		t.Errorf("Open() status = %d, want -ENOENT", st)
	}
	waitDone(t, done)
}

func TestManagerMalformedOpen(t *testing.T) {
	m, _ := newManager(t, frontend.ManagerOptions{})

	srv, cli := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ServeConn(transport.NewConn(srv))
	}()
	conn := transport.NewConn(cli)
	defer conn.Close()

	if err := conn.WriteMessage(transport.MsgOpen, []byte("cam0")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	st, err := transport.ParseStatus(payload)
	if msgType != transport.MsgOpenAck || err != nil || st != -int32(unix.EINVAL) {
		t.Errorf("ack = type %#x status %d err %v", msgType, st, err)
	}
	waitDone(t, done)
}

func TestManagerTruncatedRequest(t *testing.T) {
	m, _ := newManager(t, frontend.ManagerOptions{})

	srv, cli := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ServeConn(transport.NewConn(srv))
	}()
	conn := transport.NewConn(cli)
	defer func() {
		_ = conn.Close()
		waitDone(t, done)
	}()

	open := transport.OpenRequest{UniqueID: "cam0"}
	if err := conn.WriteMessage(transport.MsgOpen, open.Encode()); err != nil {
		t.Fatalf("WriteMessage(open) error = %v", err)
	}
	if msgType, payload, err := conn.ReadMessage(); err != nil || msgType != transport.MsgOpenAck {
		t.Fatalf("open ack = type %#x, %v", msgType, err)
	} else if st, _ := transport.ParseStatus(payload); st != 0 {
		t.Fatalf("open status = %d", st)
	}

	readResponse := func(t *testing.T) cameraif.Response {
		t.Helper()
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if msgType != transport.MsgResponse {
			t.Fatalf("message type = %#x, want response", msgType)
		}
		resp, err := cameraif.ParseResponse(payload)
		if err != nil {
			t.Fatalf("ParseResponse() error = %v", err)
		}
		return resp
	}

	// An 8-byte record still names its id and operation.
	truncated := cameraif.Request{ID: 7, Operation: cameraif.OpConfigGet}.Marshal()[:8]
	if err := conn.WriteMessage(transport.MsgRequest, truncated); err != nil {
		t.Fatalf("WriteMessage(truncated) error = %v", err)
	}
	resp := readResponse(t)
	if resp.ID != 7 || resp.Operation != cameraif.OpConfigGet || resp.Status != -int32(unix.EINVAL) {
		t.Errorf("truncated request response = {id %d op %#x status %d}, want {7 %#x -EINVAL}",
			resp.ID, resp.Operation, resp.Status, cameraif.OpConfigGet)
	}

	// A record without a full header cannot be answered; the session
	// keeps serving.
	if err := conn.WriteMessage(transport.MsgRequest, []byte{0x08}); err != nil {
		t.Fatalf("WriteMessage(header fragment) error = %v", err)
	}
	req := cameraif.Request{ID: 9, Operation: cameraif.OpConfigGet}
	if err := conn.WriteMessage(transport.MsgRequest, req.Marshal()); err != nil {
		t.Fatalf("WriteMessage(request) error = %v", err)
	}
	if resp := readResponse(t); resp.ID != 9 || resp.Status != 0 {
		t.Errorf("next response = {id %d status %d}, want {9 0}", resp.ID, resp.Status)
	}
}

func TestManagerRequiresOpenFirst(t *testing.T) {
	m, factory := newManager(t, frontend.ManagerOptions{})

	srv, cli := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ServeConn(transport.NewConn(srv))
	}()
	conn := transport.NewConn(cli)
	defer conn.Close()

	req := cameraif.Request{ID: 1, Operation: cameraif.OpConfigGet}
	if err := conn.WriteMessage(transport.MsgRequest, req.Marshal()); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	waitDone(t, done)

	if n := len(factory.Opened()); n != 0 {
		t.Errorf("opened %d devices without an open request", n)
	}
}

func TestManagerServe(t *testing.T) {
	m, factory := newManager(t, frontend.ManagerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "unix://" + filepath.Join(t.TempDir(), "camera-be.sock")
	l, err := transport.Listen(ctx, url)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- m.Serve(ctx, l) }()

	conn, err := transport.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	c := transport.NewClient(conn)
	defer c.Close()

	if st, err := c.Open(ctx, "cam0", "contrast"); err != nil || st != 0 {
		t.Fatalf("Open() = %d, %v", st, err)
	}

	req := cameraif.Request{ID: 7, Operation: cameraif.OpConfigGet}
	resp, err := c.Do(ctx, req)
	if err != nil || resp.Status != 0 {
		t.Fatalf("config-get = %d, %v", resp.Status, err)
	}
	if cfg := cameraif.DecodeConfig(&resp.Payload); cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("config-get = %+v", cfg)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	// The session was torn down with the server.
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Error("unexpected event after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Error("client connection still open after shutdown")
	}
	if !factory.Last("video0").State().Closed {
		t.Error("device still open after shutdown")
	}
}
