package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

// Transport is one open channel to the hub.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials the hub with coder/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, err
	}
	// Envelopes are small; the limit only guards against a misbehaving peer.
	conn.SetReadLimit(1 << 20)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

// closeCode maps a read error to the close code that ended the channel.
// Errors without a close frame (network drop, EOF) count as abnormal.
func closeCode(err error) websocket.StatusCode {
	if code := websocket.CloseStatus(err); code != -1 {
		return code
	}
	if errors.Is(err, context.Canceled) {
		return websocket.StatusNormalClosure
	}
	return websocket.StatusAbnormalClosure
}
