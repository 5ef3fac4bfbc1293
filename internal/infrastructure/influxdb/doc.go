// Package influxdb writes camera backend metrics to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with batching,
// health checks and three measurements:
//
//   - camera_stats: periodic per-device counters (frames, bytes, buffers,
//     frontends)
//   - camera_commands: one point per frontend request with its status and
//     latency
//   - camera_controls: control values applied by frontends or operators
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics off
//	}
//	defer client.Close()
//
//	client.WriteControlChange("dom0", "cam0", "contrast", 40)
package influxdb
