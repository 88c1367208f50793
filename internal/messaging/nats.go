// Package messaging provides the NATS client the moderation service sits
// behind: check requests in, decisions and parent alerts out. It handles
// connection lifecycle, queue-group subscriptions for worker scaling, and
// the subject naming scheme.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the moderation service.
const (
	SubjectCheck  = "moderation.check"
	SubjectResult = "moderation.result" // + .<session_id>
	SubjectAlert  = "moderation.alert"  // + .<user_id>
)

// CheckQueueGroup is the queue group inbound checks are balanced across, so
// multiple service instances share the stream instead of duplicating work.
const CheckQueueGroup = "moderators"

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "guardian",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// QueueSubscribe registers a handler on a queue group, so each message is
// delivered to exactly one member of the group.
func (c *NATSClient) QueueSubscribe(subject, group string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, group, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s (%s): %w", subject, group, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeChecks subscribes to inbound moderation requests on the shared
// worker queue group.
func (c *NATSClient) SubscribeChecks(handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectCheck, CheckQueueGroup, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishCheck publishes a moderation check request.
func (c *NATSClient) PublishCheck(data []byte) error {
	return c.Publish(SubjectCheck, data)
}

// PublishResult publishes a decision for a specific session.
func (c *NATSClient) PublishResult(sessionID string, data []byte) error {
	return c.Publish(SubjectResult+"."+sessionID, data)
}

// SubscribeResults subscribes to decisions for a specific session.
func (c *NATSClient) SubscribeResults(sessionID string, handler func(data []byte)) error {
	subject := SubjectResult + "." + sessionID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeResults unsubscribes from a session's decisions.
func (c *NATSClient) UnsubscribeResults(sessionID string) error {
	return c.unsubscribe(SubjectResult + "." + sessionID)
}

// PublishAlert publishes a parent alert for a specific user.
func (c *NATSClient) PublishAlert(userID string, data []byte) error {
	return c.Publish(SubjectAlert+"."+userID, data)
}

// SubscribeAlerts subscribes to parent alerts for a specific user.
func (c *NATSClient) SubscribeAlerts(userID string, handler func(data []byte)) error {
	subject := SubjectAlert + "." + userID
	return c.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeAlerts unsubscribes from a user's parent alerts.
func (c *NATSClient) UnsubscribeAlerts(userID string) error {
	return c.unsubscribe(SubjectAlert + "." + userID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
