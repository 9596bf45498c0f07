package e2e

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthhq/hearth/pkg/events"
)

// WSEvent is a received envelope.
type WSEvent struct {
	events.Envelope
	Received time.Time
}

// WSClient speaks the raw channel protocol and collects every inbound frame.
// Tests that need reconnect behaviour use pkg/client instead.
type WSClient struct {
	conn   *websocket.Conn
	events []WSEvent
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	closeErr error // set when the read loop ends
}

// WSConnect dials the hub, sends the auth frame and starts collecting events
// in a background goroutine. It does not wait for connection_established.
func WSConnect(ctx context.Context, wsURL, token string) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}

	if err := c.Send(events.MustEnvelope(events.TypeAuth, events.AuthPayload{Token: token})); err != nil {
		cancel()
		_ = conn.CloseNow()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Send writes one envelope.
func (c *WSClient) Send(env events.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// WaitForEvent waits until an event matching the predicate is received, or timeout.
func (c *WSClient) WaitForEvent(predicate func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event (collected %d events)", len(c.Events()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.events {
				if predicate(c.events[i]) {
					evt := c.events[i]
					c.mu.Unlock()
					return &evt, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// WaitForEventType waits for an event with the given type.
func (c *WSClient) WaitForEventType(eventType events.Type, timeout time.Duration) (*WSEvent, error) {
	return c.WaitForEvent(func(e WSEvent) bool {
		return e.Type == eventType
	}, timeout)
}

// WaitForClose waits for the hub to close the channel and returns the close
// status it sent.
func (c *WSClient) WaitForClose(timeout time.Duration) (websocket.StatusCode, error) {
	select {
	case <-c.doneCh:
		return websocket.CloseStatus(c.closeErr), nil
	case <-time.After(timeout):
		return -1, errors.New("timeout waiting for close")
	}
}

// Events returns a snapshot of all collected events.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]WSEvent, len(c.events))
	copy(result, c.events)
	return result
}

// EventsByType returns events filtered by type.
func (c *WSClient) EventsByType(eventType events.Type) []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []WSEvent
	for _, e := range c.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Close closes the WebSocket connection and waits for the read loop to exit.
func (c *WSClient) Close() error {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.doneCh
	return nil
}

// readLoop reads frames and appends every decodable envelope.
func (c *WSClient) readLoop() {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.closeErr = err
			return
		}

		env, err := events.Decode(data)
		if err != nil {
			continue // Skip malformed messages.
		}

		c.mu.Lock()
		c.events = append(c.events, WSEvent{Envelope: env, Received: time.Now()})
		c.mu.Unlock()
	}
}
