package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/almond-bridge/internal/infrastructure/config"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/almond-bridge/internal/platform"
)

// Frame types on the accessory feed.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameAck         = "ack"
	FrameError       = "error"
	FrameEvent       = "event"
	FrameSnapshot    = "snapshot"

	// feedQueueSize is the per-client outbound frame queue.
	feedQueueSize = 256
)

// feedChannels are the channels a client may subscribe to.
var feedChannels = map[string]bool{
	platform.ChannelState:     true,
	platform.ChannelLifecycle: true,
}

// Frame is one message on the accessory feed, in either direction.
//
// Clients send subscribe/unsubscribe with Channels, or ping. The server
// answers with ack, pong or error (echoing ID), and pushes event frames
// for subscribed channels. Subscribing to accessory.state is followed by
// a snapshot frame holding every accessory's current state.
type Frame struct {
	Type     string    `json:"type"`
	ID       string    `json:"id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Channels []string  `json:"channels,omitempty"`
	Time     time.Time `json:"time,omitzero"`
	Data     any       `json:"data,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Hub fans controller events out to connected feed clients.
// Slow clients lose frames rather than stall the controller.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// HubStats is a snapshot of feed counters.
type HubStats struct {
	Clients int    `json:"connected_clients"`
	Sent    uint64 `json:"frames_sent"`
	Dropped uint64 `json:"frames_dropped"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The feed is read-only; origin policy is left to the CORS middleware.
		return true
	},
}

// NewHub creates a feed hub. Run must be called to close clients on
// shutdown.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
// Connections arriving afterwards are refused.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Broadcast implements platform.Broadcaster.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Frame{
		Type:    FrameEvent,
		Channel: channel,
		Time:    time.Now().UTC(),
		Data:    payload,
	})
	if err != nil {
		h.logger.Error("encoding feed event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns feed counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients: h.ClientCount(),
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
	}
}

func (h *Hub) add(c *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("feed client disconnected", "clients", n)
}

// feedClient is one WebSocket connection. The queue is never closed; done
// signals shutdown to both pumps.
type feedClient struct {
	hub      *Hub
	conn     *websocket.Conn
	queue    chan []byte
	done     chan struct{}
	once     sync.Once
	snapshot func(channel string) any

	mu       sync.RWMutex
	channels map[string]bool
}

// handleWebSocket upgrades the request and attaches it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &feedClient{
		hub:      s.hub,
		conn:     conn,
		queue:    make(chan []byte, feedQueueSize),
		done:     make(chan struct{}),
		snapshot: s.feedSnapshot,
		channels: make(map[string]bool),
	}
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.logger.Debug("feed client connected", "remote", r.RemoteAddr, "clients", s.hub.ClientCount())

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// feedSnapshot returns the initial data sent after subscribing to channel.
func (s *Server) feedSnapshot(channel string) any {
	if channel != platform.ChannelState {
		return nil
	}
	return s.controller.Accessories()
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *feedClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// enqueue hands a frame to the writer without blocking.
func (c *feedClient) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.queue <- data:
		c.hub.sent.Add(1)
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *feedClient) reply(f Frame) {
	f.Time = time.Now().UTC()
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.logger.Error("encoding feed reply", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *feedClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if err := extend(); err != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("feed read failed", "error", err)
			}
			return
		}
		c.handle(data)
	}
}

func (c *feedClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case <-c.done:
			//nolint:errcheck // best effort goodbye
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case data := <-c.queue:
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *feedClient) handle(data []byte) {
	var in Frame
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply(Frame{Type: FrameError, Error: "invalid JSON frame"})
		return
	}

	switch in.Type {
	case FramePing:
		c.reply(Frame{Type: FramePong, ID: in.ID})
	case FrameSubscribe:
		c.subscribe(in)
	case FrameUnsubscribe:
		c.mu.Lock()
		for _, ch := range in.Channels {
			delete(c.channels, ch)
		}
		c.mu.Unlock()
		c.reply(Frame{Type: FrameAck, ID: in.ID, Channels: in.Channels})
	default:
		c.reply(Frame{Type: FrameError, ID: in.ID, Error: "unknown frame type: " + in.Type})
	}
}

// subscribe is all or nothing: one unknown channel rejects the frame.
func (c *feedClient) subscribe(in Frame) {
	if len(in.Channels) == 0 {
		c.reply(Frame{Type: FrameError, ID: in.ID, Error: "channels are required"})
		return
	}
	for _, ch := range in.Channels {
		if !feedChannels[ch] {
			c.reply(Frame{Type: FrameError, ID: in.ID, Error: "unknown channel: " + ch})
			return
		}
	}

	var added []string
	c.mu.Lock()
	for _, ch := range in.Channels {
		if !c.channels[ch] {
			c.channels[ch] = true
			added = append(added, ch)
		}
	}
	c.mu.Unlock()

	c.reply(Frame{Type: FrameAck, ID: in.ID, Channels: in.Channels})

	if c.snapshot == nil {
		return
	}
	for _, ch := range added {
		if data := c.snapshot(ch); data != nil {
			c.reply(Frame{Type: FrameSnapshot, Channel: ch, Data: data})
		}
	}
}
