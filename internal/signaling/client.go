package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/1ureka/rtcecho/internal/util"
)

var (
	// ErrSignalDeliveryFailed is returned once every delivery attempt failed.
	// The message is lost; whether that is fatal is up to the caller.
	ErrSignalDeliveryFailed = errors.New("signal delivery failed")
	// ErrSignalRejected is returned when the remote peer received the message
	// but answered with a non-2xx status. It is not retried.
	ErrSignalRejected = errors.New("signal rejected by remote peer")
)

const (
	DefaultAttempts   = 5
	DefaultRetryDelay = time.Second
)

// Signaler delivers one outbound signaling message to the remote peer.
type Signaler interface {
	Send(ctx context.Context, kind Kind, payload any) error
}

// RetryPolicy is a fixed-delay, bounded retry policy.
type RetryPolicy struct {
	Attempts int           // total attempts, including the first
	Delay    time.Duration // wait between attempts
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Delay < 0 {
		p.Delay = DefaultRetryDelay
	}
	return p
}

// Client POSTs signaling messages to http://<remote>/<kind>.
type Client struct {
	remote string
	policy RetryPolicy
	hc     *http.Client
}

// NewClient creates a Client for the remote signaling address (host:port).
// hc may be nil.
func NewClient(remote string, policy RetryPolicy, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		remote: remote,
		policy: policy.withDefaults(),
		hc:     hc,
	}
}

// Send marshals payload as JSON and POSTs it, retrying transport failures
// according to the retry policy.
func (c *Client) Send(ctx context.Context, kind Kind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	url := fmt.Sprintf("http://%s/%s", c.remote, kind)

	attempts, err := retry(ctx, c.policy, func(attempt int) error {
		util.LogDebug("sending %s to %s (attempt %d)", kind, url, attempt)
		err := c.post(ctx, url, body)
		if errors.Is(err, ErrSignalRejected) {
			return backoff.Permanent(err)
		}
		return err
	})
	if errors.Is(err, ErrSignalRejected) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %s to %s after %d attempts: %v", ErrSignalDeliveryFailed, kind, url, attempts, err)
	}

	util.Stats.AddSignal()
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s returned %s: %s", ErrSignalRejected, url, resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

// retry runs op until it succeeds, the policy is exhausted, op returns a
// backoff.Permanent error or ctx is done. It returns the number of attempts
// made and the last error, unwrapped from any Permanent.
func retry(ctx context.Context, policy RetryPolicy, op func(attempt int) error) (int, error) {
	attempt := 0
	b := &contextBackOff{
		BackOff: backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Delay), uint64(policy.Attempts-1)),
		ctx:     ctx,
	}

	err := backoff.RetryNotify(func() error {
		attempt++
		return op(attempt)
	}, b, func(err error, wait time.Duration) {
		util.Stats.AddRetry()
		util.LogWarning("signaling attempt %d failed: %v (retrying in %s)", attempt, err, wait)
	})
	return attempt, err
}

// contextBackOff stops retrying once ctx is done.
type contextBackOff struct {
	backoff.BackOff
	ctx context.Context
}

func (b *contextBackOff) NextBackOff() time.Duration {
	if b.ctx.Err() != nil {
		return backoff.Stop
	}
	return b.BackOff.NextBackOff()
}
