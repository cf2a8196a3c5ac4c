package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/1ureka/rtcecho/internal/util"
)

var errWSClientClosed = errors.New("websocket signaler closed")

// WSClient delivers signaling messages over a single WebSocket to
// ws://<remote>/ws. The connection is dialed lazily and redialed after a
// write failure. Rejections from the remote peer arrive asynchronously and
// are only logged.
type WSClient struct {
	remote string
	policy RetryPolicy
	dialer *websocket.Dialer

	mu     sync.Mutex // guards conn and closed; never held while dialing
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex // one writer at a time on the socket
}

// NewWSClient creates a WSClient for the remote signaling address.
func NewWSClient(remote string, policy RetryPolicy) *WSClient {
	return &WSClient{
		remote: remote,
		policy: policy.withDefaults(),
		dialer: websocket.DefaultDialer,
	}
}

// Send writes one {kind, payload} frame. Concurrent calls share one
// connection; a slow dial does not block senders that already have it.
func (c *WSClient) Send(ctx context.Context, kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	env := envelope{Kind: kind, Payload: raw}
	url := fmt.Sprintf("ws://%s/ws", c.remote)

	attempts, err := retry(ctx, c.policy, func(attempt int) error {
		conn, err := c.connect(ctx, url)
		if errors.Is(err, errWSClientClosed) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}

		c.writeMu.Lock()
		err = conn.WriteJSON(env)
		c.writeMu.Unlock()
		if err != nil {
			c.drop(conn)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s to %s after %d attempts: %v", ErrSignalDeliveryFailed, kind, url, attempts, err)
	}

	util.Stats.AddSignal()
	return nil
}

// connect returns the shared connection, dialing one if there is none.
// When two senders dial at once the first to finish wins and the other
// connection is closed.
func (c *WSClient) connect(ctx context.Context, url string) (*websocket.Conn, error) {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return nil, errWSClientClosed
	}
	if conn != nil {
		return conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return nil, errWSClientClosed
	}
	if c.conn != nil {
		conn.Close()
		return c.conn, nil
	}
	c.conn = conn
	go c.watch(conn)
	return conn, nil
}

// drop closes conn and forgets it unless it was already replaced.
func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// watch reads error frames sent back by the remote peer until the
// connection closes.
func (c *WSClient) watch(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Kind == kindError {
			util.LogError("remote peer rejected signal: %s", env.Error)
		}
	}
}

// Close closes the current connection, if any. Later sends fail.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
