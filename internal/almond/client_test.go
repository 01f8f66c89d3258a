package almond

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHub is an in-process Almond hub speaking the websocket API.
type fakeHub struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	conns       []*websocket.Conn
	connCount   int
	devices     string // raw Devices JSON object
	silent      bool   // never answer requests
	rejectSets  bool
	setRequests []map[string]string
}

const lampDevices = `{
	"12": {
		"Data": {"ID": "12", "Name": "Lamp", "Type": "1", "FriendlyDeviceType": "BinarySwitch",
			"Manufacturer": "GE", "Model": "ZW4101"},
		"DeviceValues": {"1": {"Name": "SWITCH BINARY", "Value": "false"}}
	},
	"30": {
		"Data": {"ID": "30", "Name": "Door", "Type": "12"},
		"DeviceValues": {"1": {"Name": "STATE", "Value": "true"}}
	}
}`

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{t: t, devices: lampDevices}
	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.connCount++
		h.mu.Unlock()
		h.serve(conn)
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHub) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/admin/secret"
}

func (h *fakeHub) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]string
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		h.mu.Lock()
		silent, reject, devices := h.silent, h.rejectSets, h.devices
		if req["CommandType"] == cmdUpdateDeviceIndex {
			h.setRequests = append(h.setRequests, req)
		}
		h.mu.Unlock()
		if silent {
			continue
		}

		switch req["CommandType"] {
		case cmdDeviceList:
			h.write(conn, `{"MobileInternalIndex":"`+req["MobileInternalIndex"]+`","CommandType":"DeviceList","Devices":`+devices+`}`)
		case cmdUpdateDeviceIndex:
			success := "true"
			if reject {
				success = "false"
			}
			h.write(conn, `{"MobileInternalIndex":"`+req["MobileInternalIndex"]+`","CommandType":"UpdateDeviceIndex","Success":"`+success+`","Reason":"busy"}`)
			if !reject {
				h.write(conn, `{"CommandType":"DynamicIndexUpdated","Devices":{"`+req["ID"]+`":{"DeviceValues":{"`+req["Index"]+`":{"Name":"SWITCH BINARY","Value":"`+req["Value"]+`"}}}}}`)
			}
		}
	}
}

func (h *fakeHub) write(conn *websocket.Conn, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// push sends an unsolicited message on the newest connection.
func (h *fakeHub) push(msg string) {
	h.mu.Lock()
	conn := h.conns[len(h.conns)-1]
	h.mu.Unlock()
	h.write(conn, msg)
}

// drop closes every server-side connection.
func (h *fakeHub) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		c.Close()
	}
	h.conns = nil
}

func (h *fakeHub) connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connCount
}

// eventRecorder collects events from the client callback.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan Event, 100)}
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- ev
}

func (r *eventRecorder) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.notify:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
			return Event{}
		}
	}
}

func startClient(t *testing.T, hub *fakeHub, cfg Config) (*Client, *eventRecorder, func()) {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = hub.url()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = time.Second
	}
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectInterval = 50 * time.Millisecond

	client := New(cfg)
	rec := newEventRecorder()
	client.SetOnEvent(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() returned %v after cancel, want nil", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	}
	return client, rec, stop
}

func TestClient_ReadyWithDeviceList(t *testing.T) {
	hub := newFakeHub(t)
	client, rec, stop := startClient(t, hub, Config{})
	defer stop()

	ev := rec.waitFor(t, EventReady)
	if len(ev.Devices) != 2 {
		t.Fatalf("ready devices = %d, want 2", len(ev.Devices))
	}
	if ev.Devices[0].ID != "12" || ev.Devices[0].Name != "Lamp" {
		t.Errorf("first device = %+v, want Lamp/12", ev.Devices[0])
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after ready")
	}

	if v, ok := client.Value("12", "1"); !ok || v != "false" {
		t.Errorf("Value(12,1) = %q,%v want false,true", v, ok)
	}
	if _, ok := client.Value("12", "9"); ok {
		t.Error("Value(12,9) should not exist")
	}
	if d, ok := client.Device("30"); !ok || d.Supported() {
		t.Errorf("Device(30) = %+v,%v, want unsupported door", d, ok)
	}
}

func TestClient_SetValueRoundTrip(t *testing.T) {
	hub := newFakeHub(t)
	client, rec, stop := startClient(t, hub, Config{})
	defer stop()
	rec.waitFor(t, EventReady)

	if err := client.SetValue(context.Background(), "12", "1", "true"); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	ev := rec.waitFor(t, EventValueUpdated)
	if ev.DeviceID != "12" || ev.ValueID != "1" || ev.Value != "true" {
		t.Errorf("value event = %+v", ev)
	}
	if v, _ := client.Value("12", "1"); v != "true" {
		t.Errorf("cached value = %q, want true", v)
	}

	hub.mu.Lock()
	got := hub.setRequests[0]
	hub.mu.Unlock()
	if got["ID"] != "12" || got["Index"] != "1" || got["Value"] != "true" {
		t.Errorf("hub received %v", got)
	}

	stats := client.Stats()
	if stats.MessagesTx < 2 || stats.MessagesRx < 3 {
		t.Errorf("stats = %+v, want traffic counted", stats)
	}
}

func TestClient_SetValueErrors(t *testing.T) {
	hub := newFakeHub(t)
	client, rec, stop := startClient(t, hub, Config{RequestTimeout: 100 * time.Millisecond})
	defer stop()
	rec.waitFor(t, EventReady)
	ctx := context.Background()

	if err := client.SetValue(ctx, "99", "1", "true"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
	if err := client.SetValue(ctx, "12", "7", "true"); !errors.Is(err, ErrValueNotFound) {
		t.Errorf("unknown value error = %v, want ErrValueNotFound", err)
	}

	hub.mu.Lock()
	hub.rejectSets = true
	hub.mu.Unlock()
	if err := client.SetValue(ctx, "12", "1", "true"); !errors.Is(err, ErrCommandRejected) {
		t.Errorf("rejected error = %v, want ErrCommandRejected", err)
	}

	hub.mu.Lock()
	hub.silent = true
	hub.mu.Unlock()
	if err := client.SetValue(ctx, "12", "1", "true"); !errors.Is(err, ErrTimeout) {
		t.Errorf("silent hub error = %v, want ErrTimeout", err)
	}
}

func TestClient_DynamicDeviceNotifications(t *testing.T) {
	hub := newFakeHub(t)
	client, rec, stop := startClient(t, hub, Config{})
	defer stop()
	rec.waitFor(t, EventReady)

	hub.push(`{"CommandType":"DynamicDeviceAdded","Devices":{"40":{"Data":{"ID":"40","Name":"Fan"},"DeviceValues":{"1":{"Name":"SWITCH_BINARY","Value":"true"}}}}}`)
	added := rec.waitFor(t, EventDeviceAdded)
	if added.DeviceID != "40" || added.Device == nil || added.Device.Name != "Fan" {
		t.Errorf("added event = %+v", added)
	}

	hub.push(`{"CommandType":"DynamicDeviceUpdated","Devices":{"40":{"Data":{"ID":"40","Name":"Ceiling Fan"}}}}`)
	updated := rec.waitFor(t, EventDeviceUpdated)
	if updated.Device.Name != "Ceiling Fan" {
		t.Errorf("updated name = %q", updated.Device.Name)
	}
	if v, ok := client.Value("40", "1"); !ok || v != "true" {
		t.Error("metadata update must keep existing values")
	}

	hub.push(`{"CommandType":"DynamicDeviceRemoved","Devices":{"40":{}}}`)
	removed := rec.waitFor(t, EventDeviceRemoved)
	if removed.DeviceID != "40" {
		t.Errorf("removed event = %+v", removed)
	}
	if _, ok := client.Device("40"); ok {
		t.Error("device 40 still cached after removal")
	}

	hub.push(`{"CommandType":"DynamicAllDevicesRemoved"}`)
	rec.waitFor(t, EventDeviceRemoved)
	rec.waitFor(t, EventDeviceRemoved)
	if n := len(client.Devices()); n != 0 {
		t.Errorf("Devices() = %d after all removed, want 0", n)
	}
}

func TestClient_ReconnectsAndRefreshes(t *testing.T) {
	hub := newFakeHub(t)
	client, rec, stop := startClient(t, hub, Config{})
	defer stop()
	rec.waitFor(t, EventReady)

	hub.drop()

	lost := rec.waitFor(t, EventConnection)
	for lost.Connected {
		lost = rec.waitFor(t, EventConnection)
	}
	rec.waitFor(t, EventReady)

	if hub.connections() < 2 {
		t.Errorf("connections = %d, want a reconnect", hub.connections())
	}
	if client.Stats().Reconnects < 1 {
		t.Error("Reconnects not counted")
	}
}

func TestClient_RunFailsWhenHubUnreachable(t *testing.T) {
	client := New(Config{URL: "ws://127.0.0.1:1/admin/secret", ConnectTimeout: 200 * time.Millisecond})
	err := client.Run(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Run() error = %v, want ErrConnectionFailed", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks credentials: %v", err)
	}
}

func TestClient_RequestWhileDisconnected(t *testing.T) {
	client := New(Config{URL: "ws://127.0.0.1:1/x/y"})
	if err := client.Refresh(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Refresh() error = %v, want ErrNotConnected", err)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		current, limit, want time.Duration
	}{
		{time.Second, time.Minute, 1500 * time.Millisecond},
		{time.Minute, time.Minute, time.Minute},
		{50 * time.Second, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.current, tt.limit); got != tt.want {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.current, tt.limit, got, tt.want)
		}
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("ws://10.0.0.1:7681/admin/hunter2"); got != "ws://10.0.0.1:7681" {
		t.Errorf("redactURL() = %q", got)
	}
}
