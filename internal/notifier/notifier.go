package notifier

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Naeem401/sport-server/internal/fetcher"
	"github.com/Naeem401/sport-server/internal/metrics"
	"github.com/Naeem401/sport-server/internal/model"
	"github.com/Naeem401/sport-server/internal/subscription"
)

// Activator is notified when a topic gains its first subscriber. The
// refresh scheduler implements it.
type Activator interface {
	TopicActivated(topic model.Topic)
}

// Config contains notifier configuration
type Config struct {
	// Maximum idle time before dropping a connection
	MaxIdleTime time.Duration

	// Interval between heartbeat messages
	HeartbeatInterval time.Duration

	// Per-client outbound buffer size
	SendBufferSize int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxIdleTime:       30 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		SendBufferSize:    100,
	}
}

// Client represents a connected subscriber
type Client struct {
	ID         string
	LastActive time.Time
	conn       io.Closer
	send       chan []byte
	topics     map[string]struct{}
	isSSE      bool
	mu         sync.Mutex
}

func (c *Client) subscribedTo(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) touch() {
	c.mu.Lock()
	c.LastActive = time.Now()
	c.mu.Unlock()
}

// Notifier is the transport layer: it owns subscriber connections, feeds
// their subscribe/unsubscribe/disconnect events into the registry and
// scheduler, and fans published updates out to interested clients.
type Notifier struct {
	config    Config
	registry  *subscription.Registry
	fetcher   *fetcher.Coordinator
	activator Activator
	clients   map[string]*Client
	mu        sync.RWMutex
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewNotifier creates a notifier. The activator is bound separately with
// SetActivator because the scheduler's refresh path ends back here.
func NewNotifier(config Config, registry *subscription.Registry, f *fetcher.Coordinator) *Notifier {
	defaults := DefaultConfig()
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = defaults.MaxIdleTime
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.SendBufferSize == 0 {
		config.SendBufferSize = defaults.SendBufferSize
	}

	return &Notifier{
		config:   config,
		registry: registry,
		fetcher:  f,
		clients:  make(map[string]*Client),
		logger:   log.With().Str("component", "notifier").Logger(),
		metrics:  metrics.GetMetrics(),
	}
}

// SetActivator binds the scheduler notified of first subscribers.
func (n *Notifier) SetActivator(a Activator) {
	n.activator = a
}

// Start begins the idle cleanup and heartbeat loops.
func (n *Notifier) Start(ctx context.Context) error {
	n.logger.Info().Msg("Starting notifier")

	go n.cleanupIdleClients(ctx)
	go n.sendHeartbeats(ctx)

	return nil
}

// PublishTopic fans one update out to every client subscribed to the
// topic. Implements the dispatcher's Transport.
func (n *Notifier) PublishTopic(topic string, update model.Update) {
	payload, err := json.Marshal(update)
	if err != nil {
		n.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal update")
		return
	}

	// Sends happen under the read lock. removeClient closes send channels
	// under the write lock, so a publish can never hit a closed channel.
	n.mu.RLock()
	for _, client := range n.clients {
		if !client.subscribedTo(topic) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			n.logger.Warn().
				Str("client_id", client.ID).
				Str("topic", topic).
				Msg("Client send buffer full, dropping update")
		}
	}
	n.mu.RUnlock()
}

// RegisterWebSocketHandler registers the WebSocket stream endpoint.
func (n *Notifier) RegisterWebSocketHandler(app *fiber.App) {
	app.Use("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/stream", websocket.New(func(c *websocket.Conn) {
		n.handleWebSocketClient(c, c.Query("topic", ""))
	}))
}

// RegisterSSEHandler registers the Server-Sent Events stream endpoint.
func (n *Notifier) RegisterSSEHandler(app *fiber.App) {
	app.Get("/stream-sse", func(c *fiber.Ctx) error {
		topic := c.Query("topic", "")
		if topic == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "topic is required",
			})
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		client := n.registerClient(nil, true)
		n.subscribeClient(client, topic)

		connMsg := fmt.Sprintf("event: connected\ndata: {\"client_id\":\"%s\"}\n\n", client.ID)
		_, _ = c.WriteString(connMsg)

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer n.removeClient(client.ID)
			for {
				select {
				case msg, ok := <-client.send:
					if !ok {
						return
					}
					fmt.Fprintf(w, "data: %s\n\n", msg)
					if err := w.Flush(); err != nil {
						return
					}
					client.touch()

				case <-c.Context().Done():
					return
				}
			}
		})

		return nil
	})
}

// handleWebSocketClient processes one WebSocket connection for its whole
// lifetime.
func (n *Notifier) handleWebSocketClient(conn *websocket.Conn, initialTopic string) {
	client := n.registerClient(conn, false)
	defer n.removeClient(client.ID)

	if initialTopic != "" {
		n.subscribeClient(client, initialTopic)
	}

	// writer: drains the send channel onto the socket
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				n.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket write error")
				return
			}
		}
	}()

	// reader: subscription control messages
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			n.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket read error")
			break
		}
		client.touch()
		if messageType == websocket.TextMessage {
			n.processClientMessage(client, message)
		}
	}

	conn.Close()
	<-done
}

// registerClient creates and tracks a new client. conn is nil for SSE
// clients, whose teardown runs through the stream writer instead.
func (n *Notifier) registerClient(conn io.Closer, isSSE bool) *Client {
	client := &Client{
		ID:         generateID(),
		LastActive: time.Now(),
		conn:       conn,
		send:       make(chan []byte, n.config.SendBufferSize),
		topics:     make(map[string]struct{}),
		isSSE:      isSSE,
	}

	n.mu.Lock()
	n.clients[client.ID] = client
	n.mu.Unlock()

	n.metrics.ConnectionsActive.Inc()
	n.logger.Debug().Str("client_id", client.ID).Bool("sse", isSSE).Msg("Client connected")
	return client
}

// subscribeClient adds a topic to the client, records it in the registry
// and replays the topic's canonical cached dataset so a new subscriber is
// not left waiting for the next refresh.
func (n *Notifier) subscribeClient(client *Client, topicName string) {
	topic := model.ParseTopic(topicName)

	client.mu.Lock()
	client.topics[topic.String()] = struct{}{}
	client.mu.Unlock()

	first := n.registry.Subscribe(topic, client.ID)
	if first && n.activator != nil {
		n.activator.TopicActivated(topic)
	}

	if entry, ok := n.fetcher.Snapshot(topic); ok {
		payload, err := json.Marshal(model.Update{
			Topic:     topic.String(),
			Records:   entry.Payload,
			UpdatedAt: entry.FetchedAt,
		})
		if err == nil {
			select {
			case client.send <- payload:
			default:
			}
		}
	}

	n.logger.Debug().
		Str("client_id", client.ID).
		Str("topic", topic.String()).
		Bool("first_subscriber", first).
		Msg("Client subscribed")
}

// unsubscribeClient removes a topic from the client and the registry.
func (n *Notifier) unsubscribeClient(client *Client, topicName string) {
	topic := model.ParseTopic(topicName)

	client.mu.Lock()
	delete(client.topics, topic.String())
	client.mu.Unlock()

	n.registry.Unsubscribe(topic, client.ID)
}

// processClientMessage handles control messages from clients.
func (n *Notifier) processClientMessage(client *Client, message []byte) {
	var request struct {
		Action string `json:"action"`
		Topic  string `json:"topic,omitempty"`
	}

	if err := json.Unmarshal(message, &request); err != nil {
		n.logger.Error().Err(err).Str("client_id", client.ID).Msg("Failed to parse client message")
		return
	}

	switch request.Action {
	case "subscribe":
		if request.Topic != "" {
			n.subscribeClient(client, request.Topic)
		}

	case "unsubscribe":
		if request.Topic != "" {
			n.unsubscribeClient(client, request.Topic)
		}

	case "ping":
		// keepalive only

	default:
		n.logger.Debug().
			Str("client_id", client.ID).
			Str("action", request.Action).
			Msg("Unknown client action")
	}
}

// removeClient drops a client and removes it from every topic it was
// subscribed to. In-flight fetches its subscriptions triggered still
// complete and land in the cache; they are just not delivered here.
func (n *Notifier) removeClient(clientID string) {
	n.mu.Lock()
	client, exists := n.clients[clientID]
	if exists {
		delete(n.clients, clientID)
		// under the write lock, so no publisher is mid-send on it
		close(client.send)
	}
	n.mu.Unlock()

	if !exists {
		return
	}

	if client.conn != nil {
		// unblocks the connection's reader loop
		client.conn.Close()
	}

	n.registry.OnDisconnect(clientID)
	n.metrics.ConnectionsActive.Dec()

	n.logger.Debug().Str("client_id", clientID).Msg("Client removed")
}

// cleanupIdleClients periodically removes idle clients.
func (n *Notifier) cleanupIdleClients(ctx context.Context) {
	ticker := time.NewTicker(n.config.MaxIdleTime / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.performClientCleanup()
		case <-ctx.Done():
			return
		}
	}
}

// performClientCleanup removes clients that have been idle for too long.
func (n *Notifier) performClientCleanup() {
	now := time.Now()
	var idle []string

	n.mu.RLock()
	for id, client := range n.clients {
		client.mu.Lock()
		lastActive := client.LastActive
		client.mu.Unlock()

		if now.Sub(lastActive) > n.config.MaxIdleTime {
			idle = append(idle, id)
		}
	}
	n.mu.RUnlock()

	for _, id := range idle {
		n.removeClient(id)
		n.logger.Debug().Str("client_id", id).Msg("Removed idle client")
	}
}

// sendHeartbeats periodically sends heartbeat messages so idle connections
// stay distinguishable from dead ones.
func (n *Notifier) sendHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(n.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			heartbeat := []byte(`{"type":"heartbeat","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`)

			n.mu.RLock()
			for _, client := range n.clients {
				select {
				case client.send <- heartbeat:
				default:
				}
			}
			n.mu.RUnlock()

		case <-ctx.Done():
			return
		}
	}
}

// Shutdown closes all client connections.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.logger.Info().Msg("Shutting down notifier")

	n.mu.Lock()
	clients := n.clients
	n.clients = make(map[string]*Client)
	for _, client := range clients {
		close(client.send)
	}
	n.mu.Unlock()

	for id, client := range clients {
		if client.conn != nil {
			client.conn.Close()
		}
		n.registry.OnDisconnect(id)
		n.metrics.ConnectionsActive.Dec()
	}

	n.logger.Info().Int("closed_clients", len(clients)).Msg("All client connections closed")
	return nil
}

// Variable for generating client IDs
// Can be replaced in tests for deterministic behavior
var generateID = func() string {
	return uuid.NewString()
}
