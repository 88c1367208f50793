// Package client provides reusable clients for exercising a running guardian
// moderation daemon: a NATS Checker that performs the same publish/await
// round trip production callers use, and a WebSocket Feed subscriber for the
// admin activity stream. Wire shapes are declared locally so the load test
// module stays decoupled from the daemon's internals.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"
)

// NATS subjects of the moderation daemon.
const (
	SubjectCheck      = "moderation.check"
	SubjectResultBase = "moderation.result."
	SubjectAlertBase  = "moderation.alert."
)

// CheckRequest mirrors the daemon's inbound check payload.
type CheckRequest struct {
	Content   string   `json:"content"`
	UserID    string   `json:"user_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Age       int      `json:"age,omitempty"`
	Language  string   `json:"language,omitempty"`
	Context   []string `json:"context,omitempty"`
}

// CheckResponse mirrors the daemon's decision payload.
type CheckResponse struct {
	RequestID           string   `json:"request_id"`
	Allowed             bool     `json:"allowed"`
	Severity            string   `json:"severity"`
	Categories          []string `json:"categories"`
	Confidence          float64  `json:"confidence"`
	Reason              string   `json:"reason,omitempty"`
	AlternativeResponse string   `json:"alternative_response,omitempty"`
	ProcessingTimeMS    int64    `json:"processing_time_ms"`
	CacheHit            bool     `json:"cache_hit"`
}

// Alert mirrors the parent alert payload.
type Alert struct {
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
	Severity  string `json:"severity"`
	HourCount int64  `json:"hour_count"`
}

// Event mirrors one decision broadcast on the activity feed.
type Event struct {
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Allowed    bool      `json:"allowed"`
	Severity   string    `json:"severity"`
	Categories []string  `json:"categories,omitempty"`
	CacheHit   bool      `json:"cache_hit"`
	LatencyMS  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Checker performs moderation checks over NATS: subscribe to the session's
// result subject, publish the check, wait for the decision. Safe for
// concurrent use; each Check call owns its own subscription.
type Checker struct {
	nc *nats.Conn
}

// NewChecker connects to the NATS server at url.
func NewChecker(url string) (*Checker, error) {
	nc, err := nats.Connect(url,
		nats.Name("guardian-loadtest"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Checker{nc: nc}, nil
}

// Check runs one moderation round trip and returns the decision and its
// latency as observed from the client side. A request without a session ID
// gets a unique one so the result subject cannot collide with concurrent
// checks.
func (c *Checker) Check(ctx context.Context, req CheckRequest) (*CheckResponse, time.Duration, error) {
	if req.SessionID == "" {
		req.SessionID = nuid.Next()
	}

	sub, err := c.nc.SubscribeSync(SubjectResultBase + req.SessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("subscribe result: %w", err)
	}
	defer sub.Unsubscribe()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	if err := c.nc.Publish(SubjectCheck, data); err != nil {
		return nil, 0, fmt.Errorf("publish check: %w", err)
	}

	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("await result: %w", err)
	}
	latency := time.Since(start)

	var resp CheckResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, latency, fmt.Errorf("unmarshal result: %w", err)
	}
	return &resp, latency, nil
}

// SubscribeAlerts delivers parent alerts for the given user to handler until
// the returned subscription is unsubscribed.
func (c *Checker) SubscribeAlerts(userID string, handler func(Alert)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(SubjectAlertBase+userID, func(msg *nats.Msg) {
		var alert Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			return
		}
		handler(alert)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe alerts: %w", err)
	}
	return sub, nil
}

// Close drains the NATS connection.
func (c *Checker) Close() {
	_ = c.nc.Drain()
}

// Feed is a WebSocket subscriber to the daemon's activity feed.
type Feed struct {
	conn      net.Conn
	closeOnce sync.Once
}

// DialFeed connects to the activity feed WebSocket at url.
func DialFeed(ctx context.Context, url string) (*Feed, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Feed{conn: conn}, nil
}

// Next reads one feed event, waiting at most timeout. A zero timeout blocks
// until an event arrives or the connection closes.
func (f *Feed) Next(timeout time.Duration) (*Event, error) {
	if timeout > 0 {
		if err := f.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	} else {
		if err := f.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, fmt.Errorf("clear deadline: %w", err)
		}
	}

	data, err := wsutil.ReadServerText(f.conn)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &ev, nil
}

// Close closes the feed connection. Safe to call multiple times.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.conn.Close()
	})
	return err
}
