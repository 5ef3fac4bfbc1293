package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andr2000/camera-be/internal/cameraif"
)

// Client is the frontend side of a connection. It is used by tools and
// tests to drive a backend.
type Client struct {
	conn *Conn

	responses chan cameraif.Response
	acks      chan int32
	events    chan cameraif.Event

	errMu sync.Mutex
	err   error

	done chan struct{}
}

// NewClient starts reading from conn.
func NewClient(conn *Conn) *Client {
	c := &Client{
		conn:      conn,
		responses: make(chan cameraif.Response, 1),
		acks:      make(chan int32, 1),
		events:    make(chan cameraif.Event, eventQueueSize),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			close(c.events)
			return
		}

		switch msgType {
		case MsgOpenAck:
			if st, err := ParseStatus(payload); err == nil {
				c.acks <- st
			}
		case MsgResponse:
			if resp, err := cameraif.ParseResponse(payload); err == nil {
				c.responses <- resp
			}
		case MsgEvent:
			if evt, err := cameraif.ParseEvent(payload); err == nil {
				select {
				case c.events <- evt:
				default:
				}
			}
		}
	}
}

// Events returns the event stream. It is closed when the connection ends.
func (c *Client) Events() <-chan cameraif.Event {
	return c.events
}

// Open binds the connection to a camera and returns the backend status.
func (c *Client) Open(ctx context.Context, uniqueID, controls string) (int32, error) {
	req := OpenRequest{UniqueID: uniqueID, Controls: controls}
	if err := c.conn.WriteMessage(MsgOpen, req.Encode()); err != nil {
		return 0, err
	}
	select {
	case st := <-c.acks:
		return st, nil
	case <-c.done:
		return 0, c.readErr()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Do sends a request and waits for its response.
func (c *Client) Do(ctx context.Context, req cameraif.Request) (cameraif.Response, error) {
	if err := c.conn.WriteMessage(MsgRequest, req.Marshal()); err != nil {
		return cameraif.Response{}, err
	}
	for {
		select {
		case resp := <-c.responses:
			if resp.ID != req.ID {
				continue
			}
			return resp, nil
		case <-c.done:
			return cameraif.Response{}, c.readErr()
		case <-ctx.Done():
			return cameraif.Response{}, ctx.Err()
		}
	}
}

func (c *Client) readErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	return fmt.Errorf("connection ended: %w", c.err)
}

// Close sends MsgClose and closes the connection.
func (c *Client) Close() error {
	err := c.conn.WriteMessage(MsgClose, nil)
	if cerr := c.conn.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	<-c.done
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
