package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/auth"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/loghub"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Gateway serves authenticated WebSocket connections and bridges
// LogHub streams and deployment status changes to subscribed clients.
// It owns room membership exclusively.
type Gateway struct {
	cfg   config.GatewayConfig
	auth  auth.Authenticator
	store storage.Store
	hub   *loghub.Hub

	mu    sync.RWMutex
	conns map[*client]struct{}
	rooms map[string]map[*client]struct{}

	upgrader websocket.Upgrader
	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// New creates a gateway over the given collaborators.
func New(cfg config.GatewayConfig, authn auth.Authenticator, store storage.Store, hub *loghub.Hub) *Gateway {
	return &Gateway{
		cfg:   cfg,
		auth:  authn,
		store: store,
		hub:   hub,
		conns: make(map[*client]struct{}),
		rooms: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		stopCh: make(chan struct{}),
		logger: log.WithComponent("gateway"),
	}
}

// Start begins the idle connection sweep.
func (g *Gateway) Start() {
	g.wg.Add(1)
	go g.run()
	g.logger.Info().
		Int("max_connections", g.cfg.MaxConnections).
		Int("max_subscriptions", g.cfg.MaxSubscriptions).
		Msg("WebSocket gateway started")
}

// Stop closes every connection and halts the sweep loop.
func (g *Gateway) Stop() {
	close(g.stopCh)

	g.mu.Lock()
	clients := make([]*client, 0, len(g.conns))
	for c := range g.conns {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		g.closeClient(c)
	}
	g.wg.Wait()
}

// ConnectionCount reports live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// RoomSize reports subscribers of one deployment's room.
func (g *Gateway) RoomSize(deploymentID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[deploymentID])
}

// ServeHTTP upgrades the request to a WebSocket connection. The bearer
// token comes from ?token= or the Authorization header; verification
// failure rejects the handshake before upgrade.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	identity, err := g.auth.Verify(token)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(string(types.ErrAccessDenied), "gateway").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(conn, identity, g.cfg.SendQueueSize)

	g.mu.Lock()
	if len(g.conns) >= g.cfg.MaxConnections {
		g.mu.Unlock()
		c.writeDirect(serverFrame{Type: frameError, Code: CodeConnectionLimit, Message: "connection limit exceeded"})
		conn.Close()
		return
	}
	g.conns[c] = struct{}{}
	g.mu.Unlock()

	metrics.WSConnections.Inc()
	userLogger := log.WithUserID(identity.UserID)
	userLogger.Debug().Msg("WebSocket connected")

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer g.wg.Done()
		g.readLoop(c)
	}()
}

// BroadcastStatus fans a status change out to the deployment's room.
func (g *Gateway) BroadcastStatus(deploymentID string, status, previous types.DeploymentStatus) {
	now := time.Now()
	g.broadcast(deploymentID, serverFrame{
		Type:         frameStatus,
		DeploymentID: deploymentID,
		Payload: statusPayload{
			Status:         string(status),
			PreviousStatus: string(previous),
			Timestamp:      now,
		},
	})
}

// BroadcastBudgetAlert fans a budget threshold crossing out to the
// deployment's room.
func (g *Gateway) BroadcastBudgetAlert(deploymentID string, payload any) {
	g.broadcast(deploymentID, serverFrame{
		Type:         frameBudgetAlert,
		DeploymentID: deploymentID,
		Payload:      payload,
	})
}

func (g *Gateway) broadcast(deploymentID string, f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}

	g.mu.RLock()
	members := make([]*client, 0, len(g.rooms[deploymentID]))
	for c := range g.rooms[deploymentID] {
		members = append(members, c)
	}
	g.mu.RUnlock()

	for _, c := range members {
		c.enqueue(data)
	}
}

func (g *Gateway) readLoop(c *client) {
	defer g.closeClient(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.send(serverFrame{Type: frameError, Code: CodeInvalidMessage, Message: "malformed frame"})
			continue
		}

		switch f.Type {
		case frameSubscribe:
			g.subscribe(c, f.DeploymentID, f.Options)
		case frameUnsubscribe:
			g.unsubscribe(c, f.DeploymentID)
		case framePing:
			now := time.Now()
			c.send(serverFrame{Type: framePong, Timestamp: &now})
		default:
			c.send(serverFrame{Type: frameError, Code: CodeInvalidMessage, Message: "unknown frame type " + f.Type})
		}
	}
}

// subscribe checks the per-connection cap and deployment ownership,
// then places the connection into the room and streams future entries.
func (g *Gateway) subscribe(c *client, deploymentID string, opts *SubscribeOptions) {
	if deploymentID == "" {
		c.send(serverFrame{Type: frameSubError, Code: CodeInvalidMessage, Error: "deployment_id required"})
		return
	}
	if c.subscriptionCount() >= g.cfg.MaxSubscriptions {
		c.send(serverFrame{Type: frameSubError, DeploymentID: deploymentID, Code: CodeSubscriptionLimit, Error: "subscription limit reached"})
		return
	}

	if err := g.authorize(c.identity.UserID, deploymentID); err != nil {
		code := CodeAccessDenied
		if types.IsNotFound(err) {
			code = CodeNotFound
		}
		metrics.ErrorsTotal.WithLabelValues(string(types.CategoryOf(err)), "gateway").Inc()
		g.logger.Debug().
			Str("user_id", c.identity.UserID).
			Str("deployment_id", deploymentID).
			Str("code", code).
			Msg("Subscription rejected")
		c.send(serverFrame{Type: frameSubError, DeploymentID: deploymentID, Code: code, Error: err.Error()})
		return
	}

	// Snapshot and subscription happen in one hub step so nothing
	// appended in between is lost to the client.
	initial, cancel := g.hub.Attach(deploymentID, opts.filter(), func(e types.LogEntry) {
		c.enqueueLog(e.DeploymentID, toWireLog(e))
	})
	wire := make([]wireLogEntry, len(initial))
	for i, e := range initial {
		wire[i] = toWireLog(e)
	}

	if !c.addSubscription(deploymentID, cancel) {
		// Duplicate subscribe; keep the existing stream.
		cancel()
		c.send(serverFrame{Type: frameSubSuccess, DeploymentID: deploymentID, InitialLogs: wire})
		return
	}

	g.mu.Lock()
	if g.rooms[deploymentID] == nil {
		g.rooms[deploymentID] = make(map[*client]struct{})
	}
	g.rooms[deploymentID][c] = struct{}{}
	g.mu.Unlock()

	c.send(serverFrame{Type: frameSubSuccess, DeploymentID: deploymentID, InitialLogs: wire})
}

func (g *Gateway) unsubscribe(c *client, deploymentID string) {
	c.removeSubscription(deploymentID)
	g.leaveRoom(c, deploymentID)
}

// authorize verifies that userID owns the project owning deploymentID.
func (g *Gateway) authorize(userID, deploymentID string) error {
	d, err := g.store.GetDeployment(deploymentID)
	if err != nil {
		return err
	}
	p, err := g.store.GetProject(d.ProjectID)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return types.AccessDeniedf("deployment %s is not owned by user %s", deploymentID, userID)
	}
	return nil
}

func (g *Gateway) leaveRoom(c *client, deploymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[deploymentID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(g.rooms, deploymentID)
		}
	}
}

func (g *Gateway) closeClient(c *client) {
	g.mu.Lock()
	if _, ok := g.conns[c]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.conns, c)
	g.mu.Unlock()

	for _, dep := range c.clearSubscriptions() {
		g.leaveRoom(c, dep)
	}
	c.close()
	metrics.WSConnections.Dec()
	g.logger.Debug().Str("user_id", c.identity.UserID).Msg("WebSocket disconnected")
}

func (g *Gateway) run() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweepIdle()
		case <-g.stopCh:
			return
		}
	}
}

// sweepIdle closes connections with no activity inside the timeout.
func (g *Gateway) sweepIdle() {
	cutoff := time.Now().Add(-g.cfg.ConnectionTimeout)

	g.mu.RLock()
	var idle []*client
	for c := range g.conns {
		if c.lastActivity().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range idle {
		g.logger.Debug().Str("user_id", c.identity.UserID).Msg("Closing idle connection")
		g.closeClient(c)
	}
}
