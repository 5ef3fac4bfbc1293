package frontend

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/v4l2"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Device is the capture device surface the engine drives. It is
// satisfied by *camera.Device.
type Device interface {
	UniqueID() string
	Format() (v4l2.PixFormat, error)
	SetFormat(width, height, pixelFormat uint32, meta camera.ColorMeta) (v4l2.PixFormat, error)
	TryFormat(width, height, pixelFormat uint32, meta camera.ColorMeta) (v4l2.PixFormat, error)
	FrameRate() (v4l2.Fract, error)
	SetFrameRate(fps v4l2.Fract) (v4l2.Fract, error)
	AllocateStream(count, width, height, pixelFormat uint32) (int, error)
	BufferCount() int
	ResolveControl(name string) (v4l2.ControlInfo, error)
	SetControl(id uint32, value int64) error
	GetControl(id uint32) (int64, error)
	StartStream(fn camera.FrameFunc) error
	StopStream() error
}

var _ Device = (*camera.Device)(nil)

// Telemetry receives engine activity. Implementations must not block.
type Telemetry interface {
	CommandProcessed(uniqueID string, op uint8, status int32, elapsed time.Duration)
	ControlChanged(uniqueID, control string, value int64)
}

// EngineOptions holds configuration for creating an engine.
type EngineOptions struct {
	// Device is the capture device the frontend is bound to.
	Device Device

	// Events receives frame and control-change events for this frontend.
	Events EventChannel

	// Controls is the comma-separated list of control names the frontend
	// may see, in enumeration order.
	Controls string

	// Hub groups engines bound to the same device so control changes
	// reach every peer and streaming is shared. If nil, the engine runs
	// on its own.
	Hub *Hub

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional structured logger.
	Logger Logger
}

// handlerFunc serves one operation. It fills resp.Payload on success.
type handlerFunc func(e *Engine, req *cameraif.Request, resp *cameraif.Response) error

var handlers = map[uint8]handlerFunc{
	cameraif.OpConfigSet:      (*Engine).configSet,
	cameraif.OpConfigGet:      (*Engine).configGet,
	cameraif.OpConfigValidate: (*Engine).configValidate,
	cameraif.OpFrameRateSet:   (*Engine).frameRateSet,
	cameraif.OpBufGetLayout:   (*Engine).bufGetLayout,
	cameraif.OpBufRequest:     (*Engine).bufRequest,
	cameraif.OpBufQueue:       (*Engine).bufQueue,
	cameraif.OpBufDequeue:     (*Engine).bufDequeue,
	cameraif.OpCtrlEnum:       (*Engine).ctrlEnum,
	cameraif.OpCtrlSet:        (*Engine).ctrlSet,
	cameraif.OpCtrlGet:        (*Engine).ctrlGet,
	cameraif.OpStreamStart:    (*Engine).streamStart,
	cameraif.OpStreamStop:     (*Engine).streamStop,
}

// Engine translates protocol requests from one frontend into device
// operations.
//
// Thread Safety: ProcessCommand is safe for concurrent use, although a
// frontend connection normally issues requests one at a time.
type Engine struct {
	dev       Device
	uniqueID  string
	events    EventChannel
	controls  *controlTable
	hub       *Hub
	group     *group
	telemetry Telemetry
	logger    Logger

	stamper eventStamper

	closeOnce sync.Once
	closeErr  error
}

// NewEngine creates an engine bound to a device.
//
// The engine joins the hub's group for its device, so frontends sharing
// a camera see each other's control changes and a single frame fan-out.
//
// Parameters:
//   - opts: Device and Events are required; Hub, Telemetry and Logger
//     are optional
//
// Returns:
//   - *Engine: Engine ready for ProcessCommand
//   - error: If a required option is missing
func NewEngine(opts EngineOptions) (*Engine, error) {
	// Validate required options
	if opts.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("event channel is required")
	}

	e := &Engine{
		dev:       opts.Device,
		uniqueID:  opts.Device.UniqueID(),
		events:    opts.Events,
		controls:  newControlTable(opts.Controls),
		hub:       opts.Hub,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}

	// Join the shared group, or run alone without a hub
	if e.hub != nil {
		e.group = e.hub.join(e)
	} else {
		e.group = newGroup(e.uniqueID, e.dev, e.logger)
		e.group.add(e)
	}

	e.logger.Debug("command engine created",
		"unique_id", e.uniqueID,
		"controls", e.controls.names(),
	)
	return e, nil
}

// UniqueID returns the id of the bound device.
func (e *Engine) UniqueID() string {
	return e.uniqueID
}

// Controls returns the assigned control names in enumeration order.
func (e *Engine) Controls() []string {
	return e.controls.names()
}

// ProcessCommand serves one request. The response always echoes the
// request id and operation; its status is 0 on success or a negative
// errno. It never panics.
//
// Parameters:
//   - req: Decoded request record
//
// Returns:
//   - cameraif.Response: Reply to send back; unknown operations answer
//     -ENOTSUP and handler panics answer -EIO
//
// Example:
//
//	resp := engine.ProcessCommand(cameraif.Request{ID: 1, Operation: cameraif.OpConfigGet})
//	if resp.Status != 0 {
//	    // negative errno
//	}
func (e *Engine) ProcessCommand(req cameraif.Request) (resp cameraif.Response) {
	resp = cameraif.NewResponse(req)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("command handler panic",
				"unique_id", e.uniqueID,
				"op", cameraif.OpName(req.Operation),
				"panic", fmt.Sprintf("%v", r),
			)
			resp.Payload = [cameraif.PayloadSize]byte{}
			resp.Status = -int32(unix.EIO)
		}

		e.logger.Debug("command processed",
			"unique_id", e.uniqueID,
			"id", req.ID,
			"op", cameraif.OpName(req.Operation),
			"status", resp.Status,
		)
		if e.telemetry != nil {
			e.telemetry.CommandProcessed(e.uniqueID, req.Operation, resp.Status, time.Since(start))
		}
	}()

	// Dispatch by operation
	h, ok := handlers[req.Operation]
	if !ok {
		e.logger.Warn("unsupported operation",
			"unique_id", e.uniqueID,
			"op", cameraif.OpName(req.Operation),
		)
		resp.Status = -int32(unix.ENOTSUP)
		return resp
	}

	// A failed handler never leaks a partial payload
	if err := h(e, &req, &resp); err != nil {
		resp.Payload = [cameraif.PayloadSize]byte{}
		resp.Status = statusFromError(err)
		e.logger.Error("command failed",
			"unique_id", e.uniqueID,
			"op", cameraif.OpName(req.Operation),
			"status", resp.Status,
			"error", err,
		)
	}
	return resp
}

// sendEvent stamps and delivers an event to this frontend.
func (e *Engine) sendEvent(evtType uint8, payload [cameraif.PayloadSize]byte) {
	evt := e.stamper.stamp(evtType, payload)
	if err := e.events.Send(evt); err != nil {
		e.logger.Warn("event dropped",
			"unique_id", e.uniqueID,
			"type", evtType,
			"id", evt.ID,
			"error", err,
		)
	}
}

func (e *Engine) frameAvailable(f camera.Frame) {
	var p [cameraif.PayloadSize]byte
	cameraif.FrameAvail{
		Index:    uint8(f.Index), //nolint:gosec // buffer counts fit the wire field
		UsedSize: f.BytesUsed,
		Sequence: f.Sequence,
	}.Encode(&p)
	e.sendEvent(cameraif.EvtFrameAvail, p)
}

func (e *Engine) controlChanged(v cameraif.CtrlValue) {
	var p [cameraif.PayloadSize]byte
	v.Encode(&p)
	e.sendEvent(cameraif.EvtCtrlChange, p)
}

// Close leaves streaming and the peer group. The device itself is owned
// by the caller. Safe to call multiple times.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		err := e.group.stopStreaming(e)
		if e.hub != nil {
			e.hub.leave(e)
		} else {
			e.group.remove(e)
		}
		if err != nil && !errors.Is(err, camera.ErrClosed) {
			e.closeErr = err
		}
	})
	return e.closeErr
}
