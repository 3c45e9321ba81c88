package push

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowcollab/internal/adapter/metrics"
	"github.com/pscheid92/flowcollab/internal/domain"
)

const (
	commandTimeout      = 5 * time.Second
	stopTimeout         = 10 * time.Second
	DefaultPingInterval = 60 * time.Second
)

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	connection   *connection
	errorChannel chan error
}

type unregisterCmd struct {
	baseHubCmd
	sessionID    string
	connectionID uuid.UUID
}

type sendCmd struct {
	baseHubCmd
	msgType   domain.MessageType
	payload   []byte
	sessionID string
	userID    string
}

type touchCmd struct {
	baseHubCmd
	sessionID string
	userID    string
}

type pongCmd struct {
	baseHubCmd
	sessionID    string
	connectionID uuid.UUID
}

type countCmd struct {
	baseHubCmd
	replyChannel chan int
}

type userConnectedCmd struct {
	baseHubCmd
	userID       string
	replyChannel chan bool
}

type stopCmd struct {
	baseHubCmd
}

// HubConfig configures a Hub. Zero values fall back to defaults.
type HubConfig struct {
	PingInterval   time.Duration
	MaxConnections int
	Addressing     Addressing
	Metrics        *metrics.PushMetrics

	// OnConnect runs after a connection has been registered.
	OnConnect func(sessionID, userID string)
	// OnDisconnect runs when the last connection of a user goes away.
	OnDisconnect func(userID string)
}

// Hub owns every push connection. A single goroutine serialises
// registration, sends and the liveness sweep.
type Hub struct {
	cmdCh          chan hubCmd
	clock          clockwork.Clock
	registry       *Registry
	pingInterval   time.Duration
	maxConnections int
	addressing     Addressing
	metrics        *metrics.PushMetrics
	onConnect      func(sessionID, userID string)
	onDisconnect   func(userID string)
	done           chan struct{}
	stopTimeout    time.Duration
}

func NewHub(cfg HubConfig, clock clockwork.Clock) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Addressing == "" {
		cfg.Addressing = AddressNewest
	}

	h := &Hub{
		cmdCh:          make(chan hubCmd, 256),
		clock:          clock,
		registry:       NewRegistry(),
		pingInterval:   cfg.PingInterval,
		maxConnections: cfg.MaxConnections,
		addressing:     cfg.Addressing,
		metrics:        cfg.Metrics,
		onConnect:      cfg.OnConnect,
		onDisconnect:   cfg.OnDisconnect,
		done:           make(chan struct{}),
		stopTimeout:    stopTimeout,
	}
	go h.run()
	return h
}

// Register adds conn under sessionID and returns the id that identifies this
// particular connection in later Unregister and MarkAlive calls. An existing
// connection with the same session id is closed and replaced.
func (h *Hub) Register(sessionID, userID, backend string, conn Conn) (uuid.UUID, error) {
	c := &connection{
		id:        uuid.New(),
		sessionID: sessionID,
		userID:    userID,
		backend:   backend,
		conn:      conn,
		alive:     true,
	}

	errCh := make(chan error, 1)
	if !h.submit(registerCmd{connection: c, errorChannel: errCh}) {
		return uuid.Nil, domain.ErrHubStopped
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return c.id, err
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes the connection if it is still the one registered under sessionID.
func (h *Hub) Unregister(sessionID string, connectionID uuid.UUID) {
	h.submit(unregisterCmd{sessionID: sessionID, connectionID: connectionID})
}

// MarkAlive records a liveness probe answer for the connection.
func (h *Hub) MarkAlive(sessionID string, connectionID uuid.UUID) {
	h.submit(pongCmd{sessionID: sessionID, connectionID: connectionID})
}

// Touch records that userID was just seen on sessionID.
func (h *Hub) Touch(sessionID, userID string) {
	h.submit(touchCmd{sessionID: sessionID, userID: userID})
}

// Broadcast sends the message to every registered connection.
func (h *Hub) Broadcast(msgType domain.MessageType, data any) error {
	return h.send(sendCmd{msgType: msgType}, data)
}

// SendToSession sends the message to one session. Unknown sessions are dropped silently.
func (h *Hub) SendToSession(msgType domain.MessageType, data any, sessionID string) error {
	return h.send(sendCmd{msgType: msgType, sessionID: sessionID}, data)
}

// SendToUser sends the message to the user's sessions selected by the
// configured addressing policy.
func (h *Hub) SendToUser(msgType domain.MessageType, data any, userID string) error {
	return h.send(sendCmd{msgType: msgType, userID: userID}, data)
}

// ConnectionCount returns the number of registered connections, or -1 on timeout.
func (h *Hub) ConnectionCount() int {
	replyCh := make(chan int, 1)
	if !h.submit(countCmd{replyChannel: replyCh}) {
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ConnectionCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every connection with a close frame where supported and waits
// for the hub goroutine to exit.
func (h *Hub) Stop() {
	if !h.submit(stopCmd{}) {
		return
	}

	timeout := h.clock.NewTimer(h.stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("Push hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Push hub stop timeout exceeded", "timeout", h.stopTimeout)
	}
}

func (h *Hub) send(cmd sendCmd, data any) error {
	payload, err := json.Marshal(domain.Envelope{Type: cmd.msgType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", cmd.msgType, err)
	}
	cmd.payload = payload

	if !h.submit(cmd) {
		return domain.ErrHubStopped
	}
	return nil
}

// submit hands cmd to the actor unless it has already exited.
func (h *Hub) submit(cmd hubCmd) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.done)

	ticker := h.clock.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				h.handleRegister(c)
			case unregisterCmd:
				h.handleUnregister(c)
			case sendCmd:
				h.handleSend(c)
			case touchCmd:
				h.registry.Touch(c.userID, c.sessionID)
			case pongCmd:
				if conn, ok := h.registry.Get(c.sessionID); ok && conn.id == c.connectionID {
					conn.alive = true
				}
			case countCmd:
				c.replyChannel <- h.registry.Len()
			case userConnectedCmd:
				c.replyChannel <- h.registry.HasUser(c.userID)
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Push hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-ticker.Chan():
			h.handleLivenessSweep()
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	existing, displacing := h.registry.Get(c.connection.sessionID)
	if !displacing && h.maxConnections > 0 && h.registry.Len() >= h.maxConnections {
		slog.Warn("Rejecting push connection: max connections reached",
			"session_id", c.connection.sessionID,
			"max_connections", h.maxConnections,
		)
		if h.metrics != nil {
			h.metrics.RejectedConnections.WithLabelValues("max_connections").Inc()
		}
		c.errorChannel <- domain.ErrTooManyConnections
		return
	}

	c.connection.writer = newClientWriter(c.connection.conn)
	h.registry.Add(c.connection)

	if displacing {
		slog.Info("Push session reconnected, closing previous connection", "session_id", existing.sessionID)
		existing.writer.stopGraceful("session replaced")
		h.connectionGone(existing)
	}
	if h.metrics != nil {
		h.metrics.ActiveConnections.WithLabelValues(c.connection.backend).Inc()
	}

	if h.onConnect != nil {
		go h.onConnect(c.connection.sessionID, c.connection.userID)
	}

	slog.Debug("Push connection registered",
		"session_id", c.connection.sessionID,
		"user_id", c.connection.userID,
		"total_connections", h.registry.Len(),
	)
	c.errorChannel <- nil
}

func (h *Hub) handleUnregister(c unregisterCmd) {
	conn, ok := h.registry.Remove(c.sessionID, c.connectionID)
	if !ok {
		return
	}

	conn.writer.stop()
	h.connectionGone(conn)
	slog.Debug("Push connection unregistered", "session_id", c.sessionID, "remaining_connections", h.registry.Len())
}

// connectionGone updates bookkeeping for a connection that has left the registry.
func (h *Hub) connectionGone(conn *connection) {
	if h.metrics != nil {
		h.metrics.ActiveConnections.WithLabelValues(conn.backend).Dec()
	}
	if h.onDisconnect != nil && !h.registry.HasUser(conn.userID) {
		go h.notifyDisconnect(conn.userID)
	}
}

// notifyDisconnect runs the disconnect callback unless the user has
// reconnected by the time the actor answers.
func (h *Hub) notifyDisconnect(userID string) {
	replyCh := make(chan bool, 1)
	if !h.submit(userConnectedCmd{userID: userID, replyChannel: replyCh}) {
		return
	}

	select {
	case connected := <-replyCh:
		if connected {
			slog.Debug("User reconnected before disconnect cleanup", "user_id", userID)
			return
		}
	case <-h.done:
		return
	}
	h.onDisconnect(userID)
}

func (h *Hub) handleSend(c sendCmd) {
	var targets []*connection

	switch {
	case c.sessionID != "":
		conn, ok := h.registry.Get(c.sessionID)
		if !ok {
			h.dropUnknown(c, "session_id", c.sessionID)
			return
		}
		targets = append(targets, conn)
	case c.userID != "":
		for _, sessionID := range h.registry.SessionsFor(c.userID, h.addressing) {
			conn, _ := h.registry.Get(sessionID)
			targets = append(targets, conn)
		}
		if len(targets) == 0 {
			h.dropUnknown(c, "user_id", c.userID)
			return
		}
	default:
		h.registry.ForEach(func(conn *connection) {
			targets = append(targets, conn)
		})
	}

	var slow []*connection
	for _, conn := range targets {
		if !conn.writer.enqueue(c.payload) {
			slow = append(slow, conn)
			continue
		}
		if h.metrics != nil {
			h.metrics.MessagesSent.Inc()
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow push client", "session_id", conn.sessionID, "message_type", c.msgType)
		if h.metrics != nil {
			h.metrics.MessagesDropped.WithLabelValues(metrics.DropSlowClient).Inc()
			h.metrics.SlowClientEvictions.Inc()
		}
		h.handleUnregister(unregisterCmd{sessionID: conn.sessionID, connectionID: conn.id})
	}
}

func (h *Hub) dropUnknown(c sendCmd, key, value string) {
	slog.Debug("Dropping push message for unknown target", "message_type", c.msgType, key, value)
	if h.metrics != nil {
		h.metrics.MessagesDropped.WithLabelValues(metrics.DropUnknownSession).Inc()
	}
}

// handleLivenessSweep terminates every probe-capable connection that did not
// answer the previous probe, then probes the rest.
func (h *Hub) handleLivenessSweep() {
	var dead []*connection

	h.registry.ForEach(func(conn *connection) {
		prober, ok := conn.conn.(Prober)
		if !ok {
			return
		}
		if !conn.alive {
			dead = append(dead, conn)
			return
		}
		conn.alive = false
		if err := prober.Ping(); err != nil {
			slog.Debug("Push liveness probe failed", "session_id", conn.sessionID, "error", err)
		}
	})

	for _, conn := range dead {
		slog.Info("Terminating unresponsive push connection", "session_id", conn.sessionID, "user_id", conn.userID)
		if h.metrics != nil {
			h.metrics.LivenessEvictions.Inc()
		}
		h.handleUnregister(unregisterCmd{sessionID: conn.sessionID, connectionID: conn.id})
	}
}

func (h *Hub) handleStop() {
	slog.Info("Push hub shutting down", "connections", h.registry.Len())

	var closing []<-chan struct{}
	h.registry.ForEach(func(conn *connection) {
		closing = append(closing, conn.writer.stopGraceful("server shutting down"))
		if h.metrics != nil {
			h.metrics.ActiveConnections.WithLabelValues(conn.backend).Dec()
		}
	})
	h.registry = NewRegistry()

	for _, closed := range closing {
		<-closed
	}
}
