package inventory

import (
	"time"

	"github.com/andr2000/camera-be/internal/camera"
)

// Camera is a capture device seen on this host.
type Camera struct {
	UniqueID string              `json:"unique_id"`
	Path     string              `json:"path"`
	Driver   string              `json:"driver"`
	Card     string              `json:"card"`
	BusInfo  string              `json:"bus_info"`
	Formats  []camera.FormatDesc `json:"formats"`

	// Present is false once a scan no longer finds the node.
	Present   bool      `json:"present"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

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
