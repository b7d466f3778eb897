package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/auth"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// client is one live WebSocket connection. The read loop is the only
// writer of subs; sendCh decouples room fan-out from the socket so a
// slow reader never blocks a room.
type client struct {
	conn     *websocket.Conn
	identity *auth.Identity

	mu      sync.Mutex
	subs    map[string]func() // deployment id -> loghub cancel
	dropped map[string]bool   // deployment id -> sentinel pending

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	lastSeen atomic.Int64 // unix nano
}

func newClient(conn *websocket.Conn, identity *auth.Identity, queueSize int) *client {
	c := &client{
		conn:     conn,
		identity: identity,
		subs:     make(map[string]func()),
		dropped:  make(map[string]bool),
		sendCh:   make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
	c.touch()
	return c
}

func (c *client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *client) lastActivity() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// writeLoop is the single writer of the underlying connection.
func (c *client) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// send marshals and enqueues a frame, dropping it if the queue is full.
func (c *client) send(f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// enqueue offers a pre-marshaled frame to the send queue without
// blocking. Reports whether the frame was accepted.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

// enqueueLog delivers one log entry, preserving per-deployment order.
// When the queue saturates, log frames are dropped and a single
// log:dropped sentinel precedes the next delivered entry.
func (c *client) enqueueLog(deploymentID string, entry wireLogEntry) {
	c.mu.Lock()
	pending := c.dropped[deploymentID]
	c.mu.Unlock()

	if pending {
		sentinel, _ := json.Marshal(serverFrame{Type: frameLogDropped, DeploymentID: deploymentID})
		if !c.enqueue(sentinel) {
			metrics.WSFramesDropped.Inc()
			return
		}
		c.mu.Lock()
		delete(c.dropped, deploymentID)
		c.mu.Unlock()
	}

	now := time.Now()
	data, err := json.Marshal(serverFrame{
		Type:         frameLog,
		DeploymentID: deploymentID,
		Payload:      entry,
		Timestamp:    &now,
	})
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		metrics.WSFramesDropped.Inc()
		c.mu.Lock()
		c.dropped[deploymentID] = true
		c.mu.Unlock()
	}
}

// writeDirect writes synchronously, bypassing the queue. Used only
// before the write loop starts.
func (c *client) writeDirect(f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// addSubscription registers cancel under the deployment id. Reports
// false if a subscription already exists (the new cancel is unused).
func (c *client) addSubscription(deploymentID string, cancel func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[deploymentID]; ok {
		return false
	}
	c.subs[deploymentID] = cancel
	return true
}

func (c *client) removeSubscription(deploymentID string) {
	c.mu.Lock()
	cancel, ok := c.subs[deploymentID]
	delete(c.subs, deploymentID)
	delete(c.dropped, deploymentID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// clearSubscriptions cancels every stream and returns the deployment
// ids that were subscribed.
func (c *client) clearSubscriptions() []string {
	c.mu.Lock()
	deps := make([]string, 0, len(c.subs))
	cancels := make([]func(), 0, len(c.subs))
	for dep, cancel := range c.subs {
		deps = append(deps, dep)
		cancels = append(cancels, cancel)
	}
	c.subs = make(map[string]func())
	c.dropped = make(map[string]bool)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return deps
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
