package almond

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultRequestTimeout    = 5 * time.Second
	defaultReconnectInterval = time.Second
	defaultMaxReconnect      = 2 * time.Minute
	defaultPingInterval      = 30 * time.Second

	writeTimeout = 5 * time.Second

	// idleFactor times the ping interval without any frame drops the session.
	idleFactor = 3

	backoffFactor = 1.5

	eventQueueSize = 100

	maxMessageSize = 1 << 20
)

// Config holds hub connection settings. Zero durations take defaults.
type Config struct {
	// URL is the full websocket URL including credentials,
	// e.g. ws://10.10.10.254:7681/admin/secret.
	URL string

	ConnectTimeout       time.Duration
	RequestTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration

	// MaxReconnectAttempts bounds consecutive failed reconnects; 0 is unlimited.
	MaxReconnectAttempts int

	PingInterval time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to one Almond hub.
//
// All methods are safe for concurrent use. Events are delivered on a
// single goroutine in hub order; a full queue drops events and counts them.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool
	writeMu   sync.Mutex

	reconnecting atomic.Bool

	pendingMu sync.Mutex
	pending   map[string]chan []byte
	nextID    atomic.Uint64

	devicesMu sync.RWMutex
	devices   map[string]Device

	callbackMu sync.RWMutex
	onEvent    func(Event)
	events     chan Event

	loggerMu sync.RWMutex
	logger   Logger

	messagesTx    atomic.Uint64
	messagesRx    atomic.Uint64
	eventsDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	reconnects    atomic.Uint64
	lastActivity  atomic.Int64
}

// New creates a client. Nothing is dialled until Run.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnect
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}

	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		pending: make(map[string]chan []byte),
		devices: make(map[string]Device),
		events:  make(chan Event, eventQueueSize),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetOnEvent sets the event callback. Set it before Run so the first
// EventReady is not missed.
func (c *Client) SetOnEvent(fn func(Event)) {
	c.callbackMu.Lock()
	c.onEvent = fn
	c.callbackMu.Unlock()
}

// Run connects to the hub and keeps the session alive until ctx is
// cancelled, reconnecting with exponential backoff. It returns an error
// wrapping ErrConnectionFailed when the first dial fails, and
// ErrReconnectExhausted when MaxReconnectAttempts is reached. A cancelled
// context returns nil.
func (c *Client) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		c.dispatch(runCtx)
	}()
	defer func() {
		cancel()
		<-dispatchDone
	}()

	conn, err := c.dial(runCtx)
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.logInfo("connected to hub", "hub", redactURL(c.cfg.URL))

	for {
		err := c.session(runCtx, conn)
		c.setDisconnected()
		if runCtx.Err() != nil {
			return nil
		}
		c.logWarn("hub connection lost", "error", err)

		conn, err = c.reconnect(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// session serves one connection: it fetches the device list, then reads
// until the connection fails or ctx is cancelled.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	c.setConnected(conn)

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	refreshCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	err := c.Refresh(refreshCtx)
	cancel()
	if err != nil {
		conn.Close()
		<-readErr
		return fmt.Errorf("fetching device list: %w", err)
	}

	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeTimeout)
			_ = conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // best effort goodbye
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close()
			<-readErr
			return ctx.Err()
		case err := <-readErr:
			conn.Close()
			return err
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logWarn("hub ping failed", "error", err)
				conn.Close() // readLoop returns and the next iteration exits
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	idle := idleFactor * c.cfg.PingInterval
	conn.SetPongHandler(func(string) error {
		c.touch()
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.messagesRx.Add(1)
		c.touch()
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.errorsTotal.Add(1)
		c.logWarn("discarding malformed hub message", "error", err)
		return
	}

	if env.MobileInternalIndex != "" && c.deliver(env.MobileInternalIndex, data) {
		return
	}

	var msg devicesMessage
	switch env.CommandType {
	case cmdDynamicIndexUpdated, cmdDynamicDeviceAdded, cmdDynamicDeviceUpdated, cmdDynamicDeviceRemoved:
		if err := json.Unmarshal(data, &msg); err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("discarding malformed hub notification", "command", env.CommandType, "error", err)
			return
		}
	}

	switch env.CommandType {
	case cmdDynamicIndexUpdated:
		c.applyIndexUpdates(msg)
	case cmdDynamicDeviceAdded:
		c.applyDeviceChanges(msg, EventDeviceAdded)
	case cmdDynamicDeviceUpdated:
		c.applyDeviceChanges(msg, EventDeviceUpdated)
	case cmdDynamicDeviceRemoved:
		ids := make([]string, 0, len(msg.Devices))
		for id := range msg.Devices {
			ids = append(ids, id)
		}
		c.removeDevices(ids)
	case cmdDynamicAllDevicesRemoved:
		c.devicesMu.RLock()
		ids := make([]string, 0, len(c.devices))
		for id := range c.devices {
			ids = append(ids, id)
		}
		c.devicesMu.RUnlock()
		c.removeDevices(ids)
	default:
		c.logDebug("ignoring hub message", "command", env.CommandType)
	}
}

// applyIndexUpdates stores each changed value and emits one event per value.
func (c *Client) applyIndexUpdates(msg devicesMessage) {
	for _, id := range sortedKeys(msg.Devices) {
		wire := msg.Devices[id]

		c.devicesMu.Lock()
		dev, known := c.devices[id]
		if known {
			dev = dev.Clone()
			for idx, v := range wire.DeviceValues {
				name := v.Name
				if name == "" {
					name = dev.Values[idx].Name
				}
				dev.Values[idx] = Value{ID: idx, Name: name, Value: string(v.Value)}
			}
			c.devices[id] = dev
		}
		c.devicesMu.Unlock()

		if !known {
			c.logDebug("value update for unknown device", "device_id", id)
			continue
		}

		for _, idx := range sortedKeys(wire.DeviceValues) {
			c.emit(Event{
				Type:     EventValueUpdated,
				DeviceID: id,
				ValueID:  idx,
				Value:    string(wire.DeviceValues[idx].Value),
			})
		}
	}
}

// applyDeviceChanges merges added or updated devices into the cache.
func (c *Client) applyDeviceChanges(msg devicesMessage, typ EventType) {
	for _, id := range sortedKeys(msg.Devices) {
		incoming := msg.Devices[id].toDevice(id)

		c.devicesMu.Lock()
		merged := incoming
		if existing, ok := c.devices[incoming.ID]; ok {
			merged = existing.Clone()
			if msg.Devices[id].Data != nil {
				values := merged.Values
				merged = incoming
				merged.Values = values
			}
			for idx, v := range incoming.Values {
				merged.Values[idx] = v
			}
		}
		c.devices[merged.ID] = merged
		snapshot := merged.Clone()
		c.devicesMu.Unlock()

		c.emit(Event{Type: typ, DeviceID: snapshot.ID, Device: &snapshot})
	}
}

func (c *Client) removeDevices(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return lessIndex(ids[i], ids[j]) })
	for _, id := range ids {
		c.devicesMu.Lock()
		_, ok := c.devices[id]
		delete(c.devices, id)
		c.devicesMu.Unlock()

		if ok {
			c.emit(Event{Type: EventDeviceRemoved, DeviceID: id})
		}
	}
}

// Refresh fetches the full device list, replaces the cache and emits
// EventReady.
func (c *Client) Refresh(ctx context.Context) error {
	id := c.newRequestID()
	data, err := c.roundTrip(ctx, id, deviceListRequest{
		envelope: envelope{MobileInternalIndex: id, CommandType: cmdDeviceList},
	})
	if err != nil {
		return err
	}

	var msg devicesMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("decoding device list: %w", err)
	}

	devices := decodeDevices(msg)
	cache := make(map[string]Device, len(devices))
	snapshot := make([]Device, len(devices))
	for i, d := range devices {
		cache[d.ID] = d
		snapshot[i] = d.Clone()
	}

	c.devicesMu.Lock()
	c.devices = cache
	c.devicesMu.Unlock()

	c.logInfo("hub device list loaded", "devices", len(devices))
	c.emit(Event{Type: EventReady, Devices: snapshot})
	return nil
}

// SetValue writes one device value. The cache is not touched; the hub
// confirms the change with a DynamicIndexUpdated notification.
func (c *Client) SetValue(ctx context.Context, deviceID, valueID, value string) error {
	dev, ok := c.Device(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if _, ok := dev.Values[valueID]; !ok {
		return fmt.Errorf("%w: device %s index %s", ErrValueNotFound, deviceID, valueID)
	}

	id := c.newRequestID()
	data, err := c.roundTrip(ctx, id, updateIndexRequest{
		envelope: envelope{MobileInternalIndex: id, CommandType: cmdUpdateDeviceIndex},
		ID:       deviceID,
		Index:    valueID,
		Value:    value,
	})
	if err != nil {
		return err
	}

	var resp commandResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("decoding set response: %w", err)
	}
	if resp.Success != nil && !bool(*resp.Success) {
		return fmt.Errorf("%w: %s", ErrCommandRejected, resp.Reason)
	}

	c.logDebug("hub value set", "device_id", deviceID, "value_id", valueID, "value", value)
	return nil
}

// roundTrip sends msg and waits for the response carrying the same
// MobileInternalIndex.
func (c *Client) roundTrip(ctx context.Context, id string, msg any) ([]byte, error) {
	ch := make(chan []byte, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case data, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		return data, nil
	case <-timer.C:
		c.errorsTotal.Add(1)
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver hands a response to its waiting request.
func (c *Client) deliver(id string, data []byte) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	ch, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	ch <- data
	return true
}

// failPending wakes every waiting request with ErrNotConnected.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) write(msg any) error {
	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding hub request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("writing to hub: %w", err)
	}

	c.messagesTx.Add(1)
	c.touch()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redactURL(c.cfg.URL), err)
	}
	return conn, nil
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	c.reconnecting.Store(true)
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval
	for attempt := 1; ; attempt++ {
		if limit := c.cfg.MaxReconnectAttempts; limit > 0 && attempt > limit {
			return nil, ErrReconnectExhausted
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		c.logInfo("attempting hub reconnection", "attempt", attempt, "backoff", backoff.String())
		conn, err := c.dial(ctx)
		if err == nil {
			c.reconnects.Add(1)
			c.logInfo("hub reconnection successful", "total_reconnects", c.reconnects.Load())
			return conn, nil
		}

		c.errorsTotal.Add(1)
		c.logError("hub reconnect failed", "error", err)
		backoff = nextBackoff(backoff, c.cfg.MaxReconnectInterval)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > limit {
		return limit
	}
	return next
}

func (c *Client) setConnected(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.emit(Event{Type: EventConnection, Connected: true})
}

func (c *Client) setDisconnected() {
	c.connMu.Lock()
	was := c.connected
	c.conn = nil
	c.connected = false
	c.connMu.Unlock()

	c.failPending()
	if was {
		c.emit(Event{Type: EventConnection, Connected: false})
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logWarn("event queue full, dropping event", "type", string(ev.Type), "device_id", ev.DeviceID)
	}
}

func (c *Client) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.callbackMu.RLock()
			fn := c.onEvent
			c.callbackMu.RUnlock()
			if fn == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("event callback panic", "type", string(ev.Type), "panic", fmt.Sprint(r))
					}
				}()
				fn(ev)
			}()
		}
	}
}

// Devices returns a snapshot of every cached device ordered by id.
func (c *Client) Devices() []Device {
	c.devicesMu.RLock()
	devices := make([]Device, 0, len(c.devices))
	for _, d := range c.devices {
		devices = append(devices, d.Clone())
	}
	c.devicesMu.RUnlock()

	sortDevices(devices)
	return devices
}

// Device returns a snapshot of one cached device.
func (c *Client) Device(id string) (Device, bool) {
	c.devicesMu.RLock()
	defer c.devicesMu.RUnlock()
	d, ok := c.devices[id]
	if !ok {
		return Device{}, false
	}
	return d.Clone(), true
}

// Value returns the last value the hub reported for a device index.
func (c *Client) Value(deviceID, valueID string) (string, bool) {
	c.devicesMu.RLock()
	defer c.devicesMu.RUnlock()
	d, ok := c.devices[deviceID]
	if !ok {
		return "", false
	}
	v, ok := d.Values[valueID]
	return v.Value, ok
}

// IsConnected reports whether a hub session is open.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns operational statistics.
func (c *Client) Stats() Stats {
	c.devicesMu.RLock()
	devices := len(c.devices)
	c.devicesMu.RUnlock()

	var last time.Time
	if ts := c.lastActivity.Load(); ts > 0 {
		last = time.Unix(0, ts)
	}

	return Stats{
		MessagesTx:    c.messagesTx.Load(),
		MessagesRx:    c.messagesRx.Load(),
		EventsDropped: c.eventsDropped.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		Reconnects:    c.reconnects.Load(),
		Devices:       devices,
		LastActivity:  last,
		Connected:     c.IsConnected(),
		Reconnecting:  c.reconnecting.Load(),
	}
}

func (c *Client) newRequestID() string {
	return strconv.FormatUint(c.nextID.Add(1), 10)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, args ...any) { c.log().Debug(msg, args...) }
func (c *Client) logInfo(msg string, args ...any)  { c.log().Info(msg, args...) }
func (c *Client) logWarn(msg string, args ...any)  { c.log().Warn(msg, args...) }
func (c *Client) logError(msg string, args ...any) { c.log().Error(msg, args...) }

// redactURL drops the path, which carries the hub credentials.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessIndex(keys[i], keys[j]) })
	return keys
}
