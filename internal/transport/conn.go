package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andr2000/camera-be/internal/cameraif"
)

const (
	// defaultWriteTimeout bounds a single message write.
	defaultWriteTimeout = 5 * time.Second

	// eventQueueSize is the number of events buffered per connection.
	eventQueueSize = 64
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Stats holds per-connection counters.
type Stats struct {
	MessagesRx    uint64 `json:"messages_rx"`
	MessagesTx    uint64 `json:"messages_tx"`
	EventsDropped uint64 `json:"events_dropped"`
	ErrorsTotal   uint64 `json:"errors_total"`
}

// Conn is a framed message connection.
//
// Thread Safety:
//   - ReadMessage must be called from a single goroutine.
//   - WriteMessage and Send are safe for concurrent use.
//   - Events queued with Send are written by a dedicated goroutine, so a
//     capture goroutine never blocks on a slow peer.
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	events  chan []byte

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	messagesRx    atomic.Uint64
	messagesTx    atomic.Uint64
	eventsDropped atomic.Uint64
	errorsTotal   atomic.Uint64
}

// NewConn wraps an established stream connection.
func NewConn(conn net.Conn) *Conn {
	c := &Conn{
		conn:         conn,
		writeTimeout: defaultWriteTimeout,
		events:       make(chan []byte, eventQueueSize),
		done:         newCloseOnce(),
	}
	c.wg.Add(1)
	go c.eventWriter()
	return c
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	if a := c.conn.RemoteAddr(); a != nil && a.String() != "" {
		return a.String()
	}
	return c.conn.LocalAddr().Network()
}

// ReadMessage blocks until a complete message arrives.
//
// Returns:
//   - uint16: Message type
//   - []byte: Payload, owned by the caller
//   - error: ErrClosed once the connection is closed, ErrProtocolDesync
//     for a size that cannot be framed, or the read error
func (c *Conn) ReadMessage() (uint16, []byte, error) {
	// Read the size prefix
	var size [2]byte
	if _, err := io.ReadFull(c.conn, size[:]); err != nil {
		return 0, nil, c.readError(err)
	}

	msgSize := binary.BigEndian.Uint16(size[:])
	if msgSize < 2 {
		c.errorsTotal.Add(1)
		return 0, nil, fmt.Errorf("%w: size %d", ErrProtocolDesync, msgSize)
	}
	total := 2 + int(msgSize)
	if total > maxMessageSize {
		c.errorsTotal.Add(1)
		return 0, nil, fmt.Errorf("%w: size %d exceeds %d", ErrProtocolDesync, total, maxMessageSize)
	}

	// Read the rest of the message
	buf := make([]byte, total)
	copy(buf, size[:])
	if _, err := io.ReadFull(c.conn, buf[2:]); err != nil {
		return 0, nil, c.readError(err)
	}

	msgType, payload, err := ParseMessage(buf)
	if err != nil {
		c.errorsTotal.Add(1)
		return 0, nil, err
	}
	c.messagesRx.Add(1)
	return msgType, payload, nil
}

func (c *Conn) readError(err error) error {
	if c.isClosed() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	c.errorsTotal.Add(1)
	return fmt.Errorf("read: %w", err)
}

// WriteMessage frames and writes one message.
func (c *Conn) WriteMessage(msgType uint16, payload []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.write(EncodeMessage(msgType, payload))
}

func (c *Conn) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(msg); err != nil {
		c.errorsTotal.Add(1)
		if c.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("write: %w", err)
	}
	c.messagesTx.Add(1)
	return nil
}

// Send queues an event for delivery. Events are dropped, not blocked on,
// when the queue is full.
func (c *Conn) Send(evt cameraif.Event) error {
	if c.isClosed() {
		return ErrClosed
	}
	select {
	case c.events <- EncodeMessage(MsgEvent, evt.Marshal()):
		return nil
	default:
		c.eventsDropped.Add(1)
		return ErrQueueFull
	}
}

// SendResponse writes a command response.
func (c *Conn) SendResponse(resp cameraif.Response) error {
	return c.WriteMessage(MsgResponse, resp.Marshal())
}

func (c *Conn) eventWriter() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case msg := <-c.events:
			if err := c.write(msg); err != nil && !errors.Is(err, ErrClosed) {
				c.logError("event write failed", err)
			}
		}
	}
}

// Close closes the connection and stops the event writer. Queued events
// that were not written yet are discarded. Safe to call multiple times.
func (c *Conn) Close() error {
	c.done.Close()
	err := c.conn.Close()
	c.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Done is closed when Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done.Done()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Stats returns current counters.
func (c *Conn) Stats() Stats {
	return Stats{
		MessagesRx:    c.messagesRx.Load(),
		MessagesTx:    c.messagesTx.Load(),
		EventsDropped: c.eventsDropped.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
	}
}

// SetLogger sets the logger for this connection.
func (c *Conn) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Conn) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "remote", c.RemoteAddr(), "error", err)
	}
}
