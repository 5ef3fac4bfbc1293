package frontend

import (
	"sort"
	"sync"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/cameraif"
)

// Hub groups the engines bound to each device. Engines in a group share
// the device's stream and see each other's control changes.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	groups map[string]*group
	logger Logger
}

// NewHub creates an empty hub.
func NewHub(logger Logger) *Hub {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Hub{groups: make(map[string]*group), logger: logger}
}

func (h *Hub) join(e *Engine) *group {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[e.uniqueID]
	if !ok {
		g = newGroup(e.uniqueID, e.dev, h.logger)
		h.groups[e.uniqueID] = g
	}
	g.add(e)
	return g
}

func (h *Hub) leave(e *Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[e.uniqueID]
	if !ok {
		return
	}
	if g.remove(e) == 0 {
		delete(h.groups, e.uniqueID)
	}
}

// BroadcastControl sends a control-change event to every engine bound to
// uniqueID. It is used for changes made outside any frontend.
func (h *Hub) BroadcastControl(uniqueID string, v cameraif.CtrlValue) int {
	h.mu.Lock()
	g, ok := h.groups[uniqueID]
	h.mu.Unlock()

	if !ok {
		return 0
	}
	return g.broadcastControl(nil, v)
}

// GroupInfo summarises one device group.
type GroupInfo struct {
	UniqueID  string `json:"unique_id"`
	Frontends int    `json:"frontends"`
	Streaming int    `json:"streaming"`
}

// Groups returns a snapshot of all groups sorted by unique id.
func (h *Hub) Groups() []GroupInfo {
	h.mu.Lock()
	groups := make([]*group, 0, len(h.groups))
	for _, g := range h.groups {
		groups = append(groups, g)
	}
	h.mu.Unlock()

	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		members, streamers := g.counts()
		out = append(out, GroupInfo{UniqueID: g.uniqueID, Frontends: members, Streaming: streamers})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// group is the set of engines bound to one device.
//
// streamMu serialises stream start/stop decisions. mu guards the member
// and streamer sets and is never held across a device call, so the
// capture goroutine can read the streamer set while StopStream waits for
// it to exit.
type group struct {
	uniqueID string
	dev      Device
	logger   Logger

	streamMu sync.Mutex

	mu        sync.RWMutex
	members   map[*Engine]struct{}
	streamers map[*Engine]struct{}
}

func newGroup(uniqueID string, dev Device, logger Logger) *group {
	return &group{
		uniqueID:  uniqueID,
		dev:       dev,
		logger:    logger,
		members:   make(map[*Engine]struct{}),
		streamers: make(map[*Engine]struct{}),
	}
}

func (g *group) add(e *Engine) {
	g.mu.Lock()
	g.members[e] = struct{}{}
	g.mu.Unlock()
}

// remove drops e and returns the number of remaining members.
func (g *group) remove(e *Engine) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, e)
	return len(g.members)
}

func (g *group) counts() (members, streamers int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members), len(g.streamers)
}

// startStreaming subscribes e to frames, starting the device for the
// first subscriber.
func (g *group) startStreaming(e *Engine) error {
	g.streamMu.Lock()
	defer g.streamMu.Unlock()

	g.mu.Lock()
	if _, ok := g.streamers[e]; ok {
		g.mu.Unlock()
		return nil
	}
	first := len(g.streamers) == 0
	g.streamers[e] = struct{}{}
	g.mu.Unlock()

	if !first {
		return nil
	}
	if err := g.dev.StartStream(g.dispatch); err != nil {
		g.mu.Lock()
		delete(g.streamers, e)
		g.mu.Unlock()
		return err
	}
	return nil
}

// stopStreaming unsubscribes e, stopping the device when the last
// subscriber leaves.
func (g *group) stopStreaming(e *Engine) error {
	g.streamMu.Lock()
	defer g.streamMu.Unlock()

	g.mu.Lock()
	if _, ok := g.streamers[e]; !ok {
		g.mu.Unlock()
		return nil
	}
	delete(g.streamers, e)
	last := len(g.streamers) == 0
	g.mu.Unlock()

	if !last {
		return nil
	}
	return g.dev.StopStream()
}

// dispatch runs on the capture goroutine.
func (g *group) dispatch(f camera.Frame) {
	g.mu.RLock()
	targets := make([]*Engine, 0, len(g.streamers))
	for e := range g.streamers {
		targets = append(targets, e)
	}
	g.mu.RUnlock()

	for _, e := range targets {
		e.frameAvailable(f)
	}
}

// broadcastControl notifies every member except from and returns how many
// were notified.
func (g *group) broadcastControl(from *Engine, v cameraif.CtrlValue) int {
	g.mu.RLock()
	targets := make([]*Engine, 0, len(g.members))
	for e := range g.members {
		if e != from {
			targets = append(targets, e)
		}
	}
	g.mu.RUnlock()

	for _, e := range targets {
		e.controlChanged(v)
	}
	if len(targets) > 0 {
		g.logger.Debug("control change broadcast",
			"unique_id", g.uniqueID,
			"type", v.Type,
			"value", v.Value,
			"peers", len(targets),
		)
	}
	return len(targets)
}
