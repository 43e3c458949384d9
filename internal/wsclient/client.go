// Package wsclient connects to the agent's websocket channel and keeps the
// connection alive according to a RetryPolicy.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/api"
)

var (
	ErrNotConnected     = errors.New("wsclient: not connected")
	ErrRetriesExhausted = errors.New("wsclient: retries exhausted")
)

// RetryPolicy controls reconnects. MaxAttempts counts consecutive failed
// attempts; zero means retry forever.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delay: 3 * time.Second}
}

func (p RetryPolicy) allows(failures int) bool {
	return p.MaxAttempts <= 0 || failures < p.MaxAttempts
}

type Client struct {
	url       string
	policy    RetryPolicy
	dialer    *websocket.Dialer
	logger    *zap.Logger
	onConnect func()
	onFrame   func(api.Frame)

	mu   sync.Mutex
	conn *websocket.Conn
}

type Option func(*Client)

// OnConnect is called after every successful (re)connect.
func OnConnect(fn func()) Option {
	return func(c *Client) { c.onConnect = fn }
}

func OnFrame(fn func(api.Frame)) Option {
	return func(c *Client) { c.onFrame = fn }
}

// New builds a client for the server at baseURL (http, https, ws or wss).
func New(baseURL, userID string, policy RetryPolicy, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws"
	u.RawQuery = url.Values{"userId": {userID}}.Encode()

	c := &Client{
		url:       u.String(),
		policy:    policy,
		dialer:    websocket.DefaultDialer,
		logger:    logger,
		onConnect: func() {},
		onFrame:   func(api.Frame) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run connects and reads frames until ctx is cancelled or the policy gives
// up. A dropped connection is retried after the policy's delay.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// the connection was up; start counting afresh
			failures = 0
		} else {
			failures++
			if !c.policy.allows(failures) {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
			}
		}
		c.logger.Warn("Websocket disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", c.policy.Delay),
			zap.Int("failures", failures))

		timer := time.NewTimer(c.policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session returns nil when an established connection later dropped and the
// dial error when no connection was made.
func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.logger.Info("Websocket connected", zap.String("url", c.url))
	c.onConnect()

	for {
		var frame api.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.logger.Debug("Websocket read ended", zap.Error(err))
			return nil
		}
		c.onFrame(frame)
	}
}

func (c *Client) Send(frame api.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(frame)
}

func (c *Client) Chat(content string) error {
	return c.Send(api.Frame{Type: "chat", Content: content})
}

func (c *Client) Ping() error {
	return c.Send(api.Frame{Type: "ping"})
}
