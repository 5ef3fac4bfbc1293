package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementCameraStats    = "camera_stats"
	measurementCommands       = "camera_commands"
	measurementControlChanges = "camera_controls"
)

// CameraSample is one periodic reading of a shared capture device.
type CameraSample struct {
	Backend      string
	UniqueID     string
	Memory       string
	Streaming    bool
	Buffers      int
	Frontends    int
	Frames       uint64
	Bytes        uint64
	LastSequence uint32
}

// WriteCameraSample records the counters of one device.
//
// Parameters:
//   - s: the device reading; backend, unique id and memory mode become tags
//   - at: sample time, shared by every device in one report
func (c *Client) WriteCameraSample(s CameraSample, at time.Time) {
	c.WritePointWithTime(measurementCameraStats,
		map[string]string{
			"backend":   s.Backend,
			"unique_id": s.UniqueID,
			"memory":    s.Memory,
		},
		map[string]interface{}{
			"streaming":     s.Streaming,
			"buffers":       int64(s.Buffers),
			"frontends":     int64(s.Frontends),
			"frames":        s.Frames,
			"bytes":         s.Bytes,
			"last_sequence": int64(s.LastSequence),
		},
		at,
	)
}

// WriteCommand records one processed frontend request.
//
// Parameters:
//   - backend, uniqueID: identify the device (tags)
//   - op: operation name, e.g. "config_set" (tag)
//   - status: protocol status, 0 or a negative errno; also tagged ok=true/false
//   - elapsed: handler latency, stored in microseconds
//
// Example:
//
//	client.WriteCommand("dom0", "cam0", "config-set", -22, 140*time.Microsecond)
func (c *Client) WriteCommand(backend, uniqueID, op string, status int32, elapsed time.Duration) {
	c.WritePoint(measurementCommands,
		map[string]string{
			"backend":   backend,
			"unique_id": uniqueID,
			"op":        op,
			"ok":        strconv.FormatBool(status == 0),
		},
		map[string]interface{}{
			"status":     int64(status),
			"latency_us": elapsed.Microseconds(),
		},
	)
}

// WriteControlChange records a control value applied to a device.
func (c *Client) WriteControlChange(backend, uniqueID, control string, value int64) {
	c.WritePoint(measurementControlChanges,
		map[string]string{
			"backend":   backend,
			"unique_id": uniqueID,
			"control":   control,
		},
		map[string]interface{}{
			"value": value,
		},
	)
}

// WritePoint writes a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp. The point
// is queued for the next batch; a closed client drops it.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
