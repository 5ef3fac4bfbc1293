package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// PathResolver maps a unique device id to a host device path.
type PathResolver interface {
	ResolvePath(uniqueID string) (string, error)
}

// DevResolver resolves ids against the device filesystem: a persistent
// /dev/v4l/by-id link first, then a plain node name under /dev.
type DevResolver struct {
	DevDir  string // default "/dev"
	ByIDDir string // default "/dev/v4l/by-id"
}

// ResolvePath implements PathResolver.
func (r DevResolver) ResolvePath(uniqueID string) (string, error) {
	if err := ValidateUniqueID(uniqueID); err != nil {
		return "", err
	}
	devDir := r.DevDir
	if devDir == "" {
		devDir = "/dev"
	}
	byID := r.ByIDDir
	if byID == "" {
		byID = filepath.Join(devDir, "v4l", "by-id")
	}

	link := filepath.Join(byID, uniqueID)
	if _, err := os.Stat(link); err == nil {
		return link, nil
	}
	return filepath.Join(devDir, uniqueID), nil
}

// ValidateUniqueID rejects ids that could escape the device directory.
func ValidateUniqueID(uniqueID string) error {
	if uniqueID == "" || uniqueID == "." || uniqueID == ".." ||
		strings.ContainsAny(uniqueID, "/\x00") {
		return fmt.Errorf("%w: invalid unique id %q: %w", ErrDeviceAccess, uniqueID, unix.EINVAL)
	}
	return nil
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Resolver maps ids to paths; nil uses DevResolver{}.
	Resolver PathResolver

	// Memory is the allocation mode for new devices. The zero value is
	// MemoryDmabuf.
	Memory Memory

	// MemoryOverrides selects a different mode per unique id.
	MemoryOverrides map[string]Memory

	// Device is the template for every device opened by the registry.
	// UniqueID and Memory are filled in per device.
	Device Options
}

type entry struct {
	id   string
	dev  *Device
	refs int
}

// Registry shares one Device per unique id among all holders of a
// Handle. The device is opened by the first Acquire and closed when the
// last Handle is released.
//
// All public methods are thread-safe.
type Registry struct {
	opts RegistryOptions

	mu      sync.Mutex
	entries map[string]*entry

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Resolver == nil {
		opts.Resolver = DevResolver{}
	}
	logger := opts.Device.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		opts:    opts,
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// SetLogger sets the logger for the registry and the devices it opens.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
	r.opts.Device.Logger = logger
}

// Acquire returns a handle to the live device for uniqueID, opening it
// when no handle is outstanding. A failed open leaves no entry behind.
//
// Parameters:
//   - uniqueID: Identifier resolved to a device path by the registry's resolver
//
// Returns:
//   - *Handle: Reference to the shared device; call Release when done
//   - error: Resolution or open failure
//
// Example:
//
//	h, err := reg.Acquire("cam0")
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
func (r *Registry) Acquire(uniqueID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Share a live device
	if e, ok := r.entries[uniqueID]; ok && e.refs > 0 {
		e.refs++
		r.logger.Debug("reusing capture device", "unique_id", uniqueID, "refs", e.refs)
		return &Handle{reg: r, ent: e}, nil
	}

	// Otherwise open it and register the first reference
	dev, err := r.open(uniqueID)
	if err != nil {
		return nil, err
	}

	e := &entry{id: uniqueID, dev: dev, refs: 1}
	r.entries[uniqueID] = e
	return &Handle{reg: r, ent: e}, nil
}

// Lookup returns a handle to the device for uniqueID only if one is
// already live.
func (r *Registry) Lookup(uniqueID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uniqueID]
	if !ok || e.refs == 0 {
		return nil, false
	}
	e.refs++
	return &Handle{reg: r, ent: e}, true
}

func (r *Registry) open(uniqueID string) (*Device, error) {
	path, err := r.opts.Resolver.ResolvePath(uniqueID)
	if err != nil {
		return nil, err
	}

	opts := r.opts.Device
	opts.UniqueID = uniqueID
	opts.Memory = r.opts.Memory
	if m, ok := r.opts.MemoryOverrides[uniqueID]; ok {
		opts.Memory = m
	}

	dev, err := Open(path, opts)
	if err != nil {
		r.logger.Warn("opening capture device failed", "unique_id", uniqueID, "path", path, "error", err)
		return nil, err
	}
	return dev, nil
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last && r.entries[e.id] == e {
		delete(r.entries, e.id)
	}
	logger := r.logger
	r.mu.Unlock()

	if !last {
		return
	}
	// Closing joins the capture goroutine; keep it off the registry lock.
	if err := e.dev.Close(); err != nil {
		logger.Error("closing capture device failed", "unique_id", e.id, "error", err)
	}
}

// Entry describes one live device in a registry snapshot.
type Entry struct {
	UniqueID string `json:"unique_id"`
	Refs     int    `json:"refs"`
	Stats    Stats  `json:"stats"`
}

// Snapshot lists the live devices, sorted by id.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	live := make([]*entry, 0, len(r.entries))
	refs := make(map[*entry]int, len(r.entries))
	for _, e := range r.entries {
		if e.refs > 0 {
			live = append(live, e)
			refs[e] = e.refs
		}
	}
	r.mu.Unlock()

	out := make([]Entry, 0, len(live))
	for _, e := range live {
		out = append(out, Entry{UniqueID: e.id, Refs: refs[e], Stats: e.dev.Stats()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// Len returns the number of live devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.refs > 0 {
			n++
		}
	}
	return n
}

// Handle is a counted reference to a shared Device.
type Handle struct {
	reg      *Registry
	ent      *entry
	released atomic.Bool
}

// Device returns the shared device. It must not be used after Release.
func (h *Handle) Device() *Device {
	return h.ent.dev
}

// Release drops the reference. The last release closes the device.
// Subsequent calls are no-ops.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.reg.release(h.ent)
}
