package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/encoding/json"

	"github.com/tobert/livedash/internal/snapshot"
)

// EventUpdateData names the push frame that carries a snapshot.
const EventUpdateData = "update_data"

// Frame is one message on the push socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SubmitFunc hands a decoded snapshot to the consumer. An error stops the
// client.
type SubmitFunc func(ctx context.Context, s *snapshot.Snapshot) error

// Backoff is a capped exponential reconnect delay.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur time.Duration
}

// Next returns the delay before the next attempt and doubles it.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Min
	}
	d := b.cur
	b.cur = min(b.cur*2, b.Max)
	return d
}

// Reset starts the sequence over after a successful connection.
func (b *Backoff) Reset() {
	b.cur = 0
}

// PushStats counts push client activity.
type PushStats struct {
	Connects  uint64 `json:"connects"`
	Frames    uint64 `json:"frames"`
	Snapshots uint64 `json:"snapshots"`
	Malformed uint64 `json:"malformed"`
	Failures  uint64 `json:"failures"`
}

// PushClient subscribes to the backend's websocket and forwards every
// update_data frame. It reconnects until its context ends.
type PushClient struct {
	url       string
	backoff   Backoff
	readLimit int64
	verbose   bool

	connects  atomic.Uint64
	frames    atomic.Uint64
	snapshots atomic.Uint64
	malformed atomic.Uint64
	failures  atomic.Uint64
}

// NewPushClient creates a client for a ws:// or wss:// URL.
func NewPushClient(rawURL string, verbose bool) (*PushClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid push URL %q: %w", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid push URL %q: scheme must be ws or wss", rawURL)
	}
	return &PushClient{
		url:       u.String(),
		backoff:   Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second},
		readLimit: maxSnapshotBytes,
		verbose:   verbose,
	}, nil
}

// SetBackoff overrides the reconnect delays.
func (c *PushClient) SetBackoff(minDelay, maxDelay time.Duration) {
	c.backoff = Backoff{Min: minDelay, Max: maxDelay}
}

// Stats returns the activity counters.
func (c *PushClient) Stats() PushStats {
	return PushStats{
		Connects:  c.connects.Load(),
		Frames:    c.frames.Load(),
		Snapshots: c.snapshots.Load(),
		Malformed: c.malformed.Load(),
		Failures:  c.failures.Load(),
	}
}

// Run connects, forwards snapshots to submit and reconnects on failure. It
// returns nil when ctx is cancelled and the submit error if submit fails.
func (c *PushClient) Run(ctx context.Context, submit SubmitFunc) error {
	if submit == nil {
		return fmt.Errorf("submit cannot be nil")
	}

	for {
		err := c.session(ctx, submit)
		if ctx.Err() != nil {
			return nil
		}
		var se *submitError
		if errors.As(err, &se) {
			return se.err
		}

		c.failures.Add(1)
		delay := c.backoff.Next()
		log.Printf("⚠️  Push connection to %s lost: %v (retrying in %s)", c.url, err, delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

type submitError struct{ err error }

func (e *submitError) Error() string { return e.err.Error() }

// session runs one connection until it fails.
func (c *PushClient) session(ctx context.Context, submit SubmitFunc) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(c.readLimit)

	c.connects.Add(1)
	c.backoff.Reset()
	if c.verbose {
		log.Printf("📡 Subscribed to push updates at %s", c.url)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.frames.Add(1)

		snap, ok := c.decode(data)
		if !ok {
			continue
		}
		c.snapshots.Add(1)
		if err := submit(ctx, snap); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			conn.Close(websocket.StatusNormalClosure, "consumer stopped")
			return &submitError{err: err}
		}
	}
}

// decode extracts the snapshot of an update_data frame. Other events are
// ignored; malformed frames are logged and skipped.
func (c *PushClient) decode(data []byte) (*snapshot.Snapshot, bool) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.malformed.Add(1)
		log.Printf("⚠️  Skipping malformed push frame: %v", err)
		return nil, false
	}
	if f.Event != EventUpdateData {
		if c.verbose {
			log.Printf("📡 Ignoring push event %q", f.Event)
		}
		return nil, false
	}

	snap, err := snapshot.Decode(f.Data)
	if err != nil {
		c.malformed.Add(1)
		log.Printf("⚠️  Skipping malformed %s payload: %v", EventUpdateData, err)
		return nil, false
	}
	return snap, true
}
