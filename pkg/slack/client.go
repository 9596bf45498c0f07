// Package slack posts incident alerts to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goslack "github.com/slack-go/slack"
)

const (
	defaultPostTimeout  = 10 * time.Second
	defaultLookback     = 24 * time.Hour
	defaultHistoryLimit = 50
)

// Client posts to one channel and finds earlier incident posts in it.
type Client struct {
	api          *goslack.Client
	channelID    string
	postTimeout  time.Duration
	lookback     time.Duration
	historyLimit int
	apiOptions   []goslack.Option
	now          func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithAPIURL points the client at another Web API base URL (a test server).
// The URL must end with a slash.
func WithAPIURL(url string) ClientOption {
	return func(c *Client) { c.apiOptions = append(c.apiOptions, goslack.OptionAPIURL(url)) }
}

// WithLookback bounds how far back thread lookups search.
func WithLookback(d time.Duration) ClientOption {
	return func(c *Client) { c.lookback = d }
}

// NewClient creates a client for channelID.
func NewClient(token, channelID string, opts ...ClientOption) *Client {
	c := &Client{
		channelID:    channelID,
		postTimeout:  defaultPostTimeout,
		lookback:     defaultLookback,
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.api = goslack.New(token, c.apiOptions...)
	return c
}

// Post sends blocks with a plain-text fallback. A non-empty threadTS makes
// the message a reply in that thread.
func (c *Client) Post(ctx context.Context, blocks []goslack.Block, fallback, threadTS string) error {
	ctx, cancel := context.WithTimeout(ctx, c.postTimeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fallback, false),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	if _, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...); err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}

// FindIncidentThread returns the timestamp of the newest message within the
// lookback window that mentions the incident, or "" when there is none.
func (c *Client) FindIncidentThread(ctx context.Context, incidentID string) (string, error) {
	history, err := c.api.GetConversationHistoryContext(ctx, &goslack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    strconv.FormatInt(c.now().Add(-c.lookback).Unix(), 10),
		Limit:     c.historyLimit,
	})
	if err != nil {
		return "", fmt.Errorf("conversations.history failed: %w", err)
	}

	// History is newest first.
	for _, msg := range history.Messages {
		if mentionsIncident(msg, incidentID) {
			return msg.Timestamp, nil
		}
	}
	return "", nil
}
