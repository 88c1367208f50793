package admin

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/kidsafe/guardian/internal/metrics"
	"github.com/kidsafe/guardian/internal/moderation"
)

// Event is one decision as broadcast on the activity feed.
type Event struct {
	RequestID  string                `json:"request_id"`
	UserID     string                `json:"user_id,omitempty"`
	SessionID  string                `json:"session_id,omitempty"`
	Allowed    bool                  `json:"allowed"`
	Severity   moderation.Severity   `json:"severity"`
	Categories []moderation.Category `json:"categories,omitempty"`
	CacheHit   bool                  `json:"cache_hit"`
	LatencyMS  int64                 `json:"latency_ms"`
	Timestamp  time.Time             `json:"timestamp"`
}

// pingInterval is how often subscribers receive a WebSocket ping frame.
// A subscriber whose ping cannot be written is dropped.
const pingInterval = 30 * time.Second

// feedClient is one WebSocket subscriber. The write mutex serializes frame
// writes; gobwas/ws does not allow concurrent writes on the same connection.
type feedClient struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *feedClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

// writePing sends a protocol-level ping frame (opcode 0x9). The write mutex
// keeps it from interleaving with a concurrent broadcast frame.
func (c *feedClient) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.conn, ws.NewPingFrame(nil))
}

// Feed broadcasts decision events to WebSocket subscribers. Subscribers are
// write-only from the server's point of view; anything a client sends is
// discarded. A subscriber whose write fails is dropped on the next broadcast,
// so a slow or dead consumer never blocks the rest.
type Feed struct {
	mu        sync.RWMutex
	clients   map[string]*feedClient
	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed creates an empty Feed and starts its heartbeat loop.
func NewFeed() *Feed {
	f := &Feed{
		clients: make(map[string]*feedClient),
		done:    make(chan struct{}),
	}
	go f.pingLoop()
	return f
}

// pingLoop pings every subscriber on a fixed interval so half-open
// connections surface as write errors instead of lingering in the client
// table between broadcasts. It exits when the feed is closed.
func (f *Feed) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.pingAll()
		}
	}
}

func (f *Feed) pingAll() {
	f.mu.RLock()
	clients := make([]*feedClient, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.RUnlock()

	for _, c := range clients {
		if err := c.writePing(); err != nil {
			f.remove(c.id)
		}
	}
}

// Count returns the number of connected subscribers.
func (f *Feed) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Subscribe upgrades the HTTP request to a WebSocket connection and registers
// it as a feed subscriber. It returns once the connection is registered; a
// background goroutine drains client frames until the peer disconnects.
func (f *Feed) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[admin] feed upgrade failed: %v", err)
		return
	}

	c := &feedClient{
		id:   uuid.New().String(),
		conn: conn,
	}

	f.mu.Lock()
	f.clients[c.id] = c
	total := len(f.clients)
	f.mu.Unlock()
	metrics.FeedClients.Inc()

	log.Printf("[admin] feed subscriber connected id=%s (total=%d)", c.id, total)

	// Drain inbound frames so control frames are answered and disconnects
	// are noticed. The feed never acts on client data.
	go func() {
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				f.remove(c.id)
				return
			}
		}
	}()
}

// PublishDecision broadcasts one completed check to all subscribers.
func (f *Feed) PublishDecision(req *moderation.Request, resp *moderation.Response) {
	ev := Event{
		RequestID:  resp.RequestID,
		Allowed:    resp.Allowed,
		Severity:   resp.Severity,
		Categories: resp.Categories,
		CacheHit:   resp.CacheHit,
		LatencyMS:  resp.ProcessingTimeMS,
		Timestamp:  resp.Timestamp,
	}
	if req != nil {
		ev.UserID = req.UserID
		ev.SessionID = req.SessionID
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[admin] feed marshal failed: %v", err)
		return
	}
	f.Broadcast(data)
}

// Broadcast sends data to every subscriber. The client list is snapshotted
// under the read lock and writes happen outside it, so one stalled client
// cannot hold up registration. Clients whose write fails are dropped.
func (f *Feed) Broadcast(data []byte) {
	f.mu.RLock()
	clients := make([]*feedClient, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			f.remove(c.id)
		}
	}
}

// Close stops the heartbeat loop and disconnects all subscribers. Used
// during shutdown.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })

	f.mu.Lock()
	for id, c := range f.clients {
		_ = c.conn.Close()
		delete(f.clients, id)
		metrics.FeedClients.Dec()
	}
	f.mu.Unlock()
}

func (f *Feed) remove(id string) {
	f.mu.Lock()
	c, ok := f.clients[id]
	if ok {
		delete(f.clients, id)
	}
	total := len(f.clients)
	f.mu.Unlock()

	if !ok {
		return
	}
	_ = c.conn.Close()
	metrics.FeedClients.Dec()
	log.Printf("[admin] feed subscriber disconnected id=%s (total=%d)", id, total)
}
