package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// errListenerDown is returned by Subscribe before Start or after Stop.
var errListenerDown = errors.New("LISTEN connection not established")

// NotificationHandler receives NOTIFY payloads. Implemented by Hub.
type NotificationHandler interface {
	HandleNotification(channel string, payload []byte)
}

// listenCmd is a LISTEN/UNLISTEN statement executed by the receive loop,
// the only goroutine allowed to use the pgx connection.
type listenCmd struct {
	sql    string
	result chan error
}

// NotifyListener holds a dedicated PostgreSQL connection that LISTENs on
// tenant channels and hands every notification to a NotificationHandler.
type NotifyListener struct {
	connString string
	handler    NotificationHandler

	conn   *pgx.Conn
	connMu sync.Mutex

	// channels LISTENed on the current connection; replayed after reconnect
	channels   map[string]bool
	channelsMu sync.RWMutex

	cmdCh   chan listenCmd
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener. Call Start before Subscribe.
func NewNotifyListener(connString string, handler NotificationHandler) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		handler:    handler,
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
	}
}

// Start connects and begins receiving notifications.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("NotifyListener started")
	return nil
}

// Subscribe LISTENs on channel. Already-listened channels are a no-op.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	if l.listening(channel) {
		return nil
	}
	if !l.running.Load() {
		return errListenerDown
	}
	if err := l.exec(ctx, "LISTEN", channel); err != nil {
		return err
	}
	l.channelsMu.Lock()
	l.channels[channel] = true
	l.channelsMu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe UNLISTENs on channel. Unknown channels are a no-op.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	if !l.listening(channel) || !l.running.Load() {
		return nil
	}
	if err := l.exec(ctx, "UNLISTEN", channel); err != nil {
		return err
	}
	l.channelsMu.Lock()
	delete(l.channels, channel)
	l.channelsMu.Unlock()
	return nil
}

func (l *NotifyListener) listening(channel string) bool {
	l.channelsMu.RLock()
	defer l.channelsMu.RUnlock()
	return l.channels[channel]
}

// exec hands a statement to the receive loop and waits for its result.
func (l *NotifyListener) exec(ctx context.Context, verb, channel string) error {
	stmt := verb + " " + pgx.Identifier{channel}.Sanitize()
	cmd := listenCmd{sql: stmt, result: make(chan error, 1)}

	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("%s failed: %w", stmt, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop alternates between draining pending commands and waiting
// briefly for a notification.
func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		l.drainCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			l.handler.HandleNotification(n.Channel, []byte(n.Payload))
		case ctx.Err() != nil:
			return
		case waitCtx.Err() != nil:
			// poll interval elapsed
		default:
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
		}
	}
}

func (l *NotifyListener) drainCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()
			if conn == nil {
				cmd.result <- errListenerDown
				continue
			}
			_, err := conn.Exec(ctx, cmd.sql)
			cmd.result <- err
		default:
			return
		}
	}
}

// reconnect replaces a broken connection, backing off from 1s to 30s, and
// re-LISTENs every tracked channel.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.channelsMu.RLock()
		for ch := range l.channels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.channelsMu.RUnlock()

		slog.Info("NotifyListener reconnected")
		return
	}
}

// Stop ends the receive loop before closing the connection so
// WaitForNotification and Close never race.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
