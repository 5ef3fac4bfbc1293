package telemetry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
	"github.com/andr2000/camera-be/internal/frontend"
	"github.com/andr2000/camera-be/internal/infrastructure/influxdb"
	"github.com/andr2000/camera-be/internal/infrastructure/mqtt"
)

// controlQueueSize bounds control changes waiting to be published.
const controlQueueSize = 64

// Logger is the logging interface used by the package.
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

// Publisher is the MQTT surface used by the reporter. It is satisfied by
// *mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	Topics() mqtt.Topics
}

// Metrics is the InfluxDB surface used by the reporter. It is satisfied
// by *influxdb.Client.
type Metrics interface {
	WriteCameraSample(s influxdb.CameraSample, at time.Time)
	WriteCommand(backend, uniqueID, op string, status int32, elapsed time.Duration)
	WriteControlChange(backend, uniqueID, control string, value int64)
}

var (
	_ Publisher = (*mqtt.Client)(nil)
	_ Metrics   = (*influxdb.Client)(nil)

	_ frontend.Telemetry = (*Reporter)(nil)
)

// Sources are read on every report.
type Sources struct {
	// Registry lists the open cameras. Required by Report.
	Registry interface{ Snapshot() []camera.Entry }

	// Groups adds per-camera frontend counts. Optional.
	Groups interface{ Groups() []frontend.GroupInfo }

	// Sessions lists connected frontends. Optional.
	Sessions interface{ Sessions() []frontend.SessionInfo }
}

// Options configures a Reporter.
type Options struct {
	// Backend tags every point and names the MQTT topic tree.
	Backend string

	// Publisher and Metrics are optional sinks.
	Publisher Publisher
	Metrics   Metrics

	Sources Sources
	Logger  Logger
}

// CameraState is the retained per-camera status message.
type CameraState struct {
	UniqueID     string    `json:"unique_id"`
	Open         bool      `json:"open"`
	Path         string    `json:"path,omitempty"`
	Memory       string    `json:"memory,omitempty"`
	Streaming    bool      `json:"streaming"`
	Buffers      int       `json:"buffers"`
	Refs         int       `json:"refs"`
	Frontends    int       `json:"frontends"`
	Streamers    int       `json:"streamers"`
	Frames       uint64    `json:"frames"`
	Bytes        uint64    `json:"bytes"`
	LastSequence uint32    `json:"last_sequence"`
	LastFrame    time.Time `json:"last_frame,omitzero"`
	Timestamp    time.Time `json:"timestamp"`
}

// ControlValue is the retained message on a control topic.
type ControlValue struct {
	Value     int64     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type controlChange struct {
	uniqueID string
	control  string
	value    ControlValue
}

// Reporter publishes backend telemetry.
//
// Thread Safety: All methods are safe for concurrent use.
type Reporter struct {
	backend   string
	publisher Publisher
	metrics   Metrics
	sources   Sources
	logger    Logger
	now       func() time.Time

	controls chan controlChange

	mu        sync.Mutex
	published map[string]bool
	sessions  interface{ Sessions() []frontend.SessionInfo }
}

// New creates a reporter.
func New(opts Options) *Reporter {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reporter{
		backend:   opts.Backend,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		sources:   opts.Sources,
		logger:    logger,
		now:       time.Now,
		controls:  make(chan controlChange, controlQueueSize),
		published: make(map[string]bool),
		sessions:  opts.Sources.Sessions,
	}
}

// SetSessions sets the session source after construction, for a source
// that itself needs the reporter.
func (r *Reporter) SetSessions(s interface{ Sessions() []frontend.SessionInfo }) {
	r.mu.Lock()
	r.sessions = s
	r.mu.Unlock()
}

// CommandProcessed records one frontend request.
func (r *Reporter) CommandProcessed(uniqueID string, op uint8, status int32, elapsed time.Duration) {
	if r.metrics != nil {
		r.metrics.WriteCommand(r.backend, uniqueID, cameraif.OpName(op), status, elapsed)
	}
	if status != 0 {
		r.logger.Debug("request failed",
			"unique_id", uniqueID,
			"op", cameraif.OpName(op),
			"status", status,
		)
	}
}

// ControlChanged records a control value and queues it for publication.
// Control names are lowercased so every path shares one topic. It never
// blocks: when the queue is full the MQTT update is dropped.
func (r *Reporter) ControlChanged(uniqueID, control string, value int64) {
	control = strings.ToLower(control)
	if r.metrics != nil {
		r.metrics.WriteControlChange(r.backend, uniqueID, control, value)
	}
	if r.publisher == nil {
		return
	}
	select {
	case r.controls <- controlChange{
		uniqueID: uniqueID,
		control:  control,
		value:    ControlValue{Value: value, Timestamp: r.now().UTC()},
	}:
	default:
		r.logger.Warn("control update dropped", "unique_id", uniqueID, "control", control)
	}
}

// Report publishes the state of every open camera, a final closed state
// for cameras closed since the last report, and the session list.
//
// It performs the following steps:
//  1. Snapshots the registry and the frontend groups
//  2. Publishes a retained state message per camera
//  3. Writes one camera sample per device to InfluxDB
//  4. Publishes the session list
func (r *Reporter) Report() {
	now := r.now().UTC()
	entries := r.sources.Registry.Snapshot()

	groups := make(map[string]frontend.GroupInfo)
	if r.sources.Groups != nil {
		for _, g := range r.sources.Groups.Groups() {
			groups[g.UniqueID] = g
		}
	}

	states := make([]CameraState, 0, len(entries))
	for _, e := range entries {
		g := groups[e.UniqueID]
		states = append(states, CameraState{
			UniqueID:     e.UniqueID,
			Open:         true,
			Path:         e.Stats.Path,
			Memory:       e.Stats.Memory,
			Streaming:    e.Stats.Streaming,
			Buffers:      e.Stats.Buffers,
			Refs:         e.Refs,
			Frontends:    g.Frontends,
			Streamers:    g.Streaming,
			Frames:       e.Stats.Frames,
			Bytes:        e.Stats.Bytes,
			LastSequence: e.Stats.LastSequence,
			LastFrame:    e.Stats.LastFrame,
			Timestamp:    now,
		})
	}

	if r.metrics != nil {
		for _, s := range states {
			r.metrics.WriteCameraSample(influxdb.CameraSample{
				Backend:      r.backend,
				UniqueID:     s.UniqueID,
				Memory:       s.Memory,
				Streaming:    s.Streaming,
				Buffers:      s.Buffers,
				Frontends:    s.Frontends,
				Frames:       s.Frames,
				Bytes:        s.Bytes,
				LastSequence: s.LastSequence,
			}, now)
		}
	}

	if r.publisher == nil {
		return
	}

	r.mu.Lock()
	open := make(map[string]bool, len(states))
	for _, s := range states {
		open[s.UniqueID] = true
	}
	for id := range r.published {
		if !open[id] {
			states = append(states, CameraState{UniqueID: id, Timestamp: now})
		}
	}
	r.published = open
	sessions := r.sessions
	r.mu.Unlock()

	topics := r.publisher.Topics()
	failed := 0
	var lastErr error
	for _, s := range states {
		if err := r.publisher.PublishJSON(topics.CameraState(s.UniqueID), s, true); err != nil {
			failed++
			lastErr = err
		}
	}
	if sessions != nil {
		if err := r.publisher.PublishJSON(topics.Sessions(), sessions.Sessions(), true); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		r.logger.Warn("publishing camera state failed", "failed", failed, "error", lastErr)
	}
}

func (r *Reporter) publishControl(c controlChange) {
	topic := r.publisher.Topics().CameraControl(c.uniqueID, c.control)
	if err := r.publisher.PublishJSON(topic, c.value, true); err != nil {
		r.logger.Warn("publishing control value failed",
			"unique_id", c.uniqueID,
			"control", c.control,
			"error", err,
		)
	}
}

// Run reports every interval and publishes queued control changes until
// ctx is cancelled. A final report is made on the way out so closed
// cameras are marked as such.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 && r.sources.Registry != nil {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
		r.Report()
	}

	for {
		select {
		case <-ctx.Done():
			r.drainControls()
			if tick != nil {
				r.Report()
			}
			return nil
		case c := <-r.controls:
			r.publishControl(c)
		case <-tick:
			r.Report()
		}
	}
}

func (r *Reporter) drainControls() {
	for {
		select {
		case c := <-r.controls:
			r.publishControl(c)
		default:
			return
		}
	}
}
