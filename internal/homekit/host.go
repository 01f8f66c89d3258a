package homekit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/hap"
	hapaccessory "github.com/brutella/hap/accessory"

	"github.com/nerrad567/almond-bridge/internal/accessory"
)

const defaultReloadDelay = 500 * time.Millisecond

// Logger is the logging interface used by the host.
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

// Config holds the bridge identity and server settings.
type Config struct {
	Name         string
	Pin          string
	Address      string // host:port, empty picks a random port
	StoragePath  string // pairing store directory
	Manufacturer string
	Model        string
	SerialNumber string
	Firmware     string
	ReloadDelay  time.Duration
}

// Stats is a snapshot of host state.
type Stats struct {
	Accessories int    `json:"accessories"`
	Restarts    uint64 `json:"restarts"`
	Serving     bool   `json:"serving"`
}

// Host serves the bridge and its accessories.
type Host struct {
	cfg    Config
	bridge *hapaccessory.Bridge
	store  hap.Store

	mu       sync.RWMutex
	switches map[string]*Switch
	ids      map[uint64]string

	changed  chan struct{}
	serving  atomic.Bool
	restarts atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

// NewHost creates the bridge accessory and opens the pairing store.
func NewHost(cfg Config) (*Host, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("%w: storage path is required", ErrInvalidConfig)
	}
	if len(cfg.Pin) != 8 {
		return nil, fmt.Errorf("%w: pin must be 8 digits", ErrInvalidConfig)
	}
	if cfg.Name == "" {
		cfg.Name = "Almond Bridge"
	}
	if cfg.ReloadDelay <= 0 {
		cfg.ReloadDelay = defaultReloadDelay
	}

	bridge := hapaccessory.NewBridge(hapaccessory.Info{
		Name:         cfg.Name,
		SerialNumber: cfg.SerialNumber,
		Manufacturer: cfg.Manufacturer,
		Model:        cfg.Model,
		Firmware:     cfg.Firmware,
	})
	bridge.A.Id = accessory.BridgeAID

	return &Host{
		cfg:      cfg,
		bridge:   bridge,
		store:    hap.NewFsStore(cfg.StoragePath),
		switches: make(map[string]*Switch),
		ids:      make(map[uint64]string),
		changed:  make(chan struct{}, 1),
		logger:   noopLogger{},
	}, nil
}

// SetLogger sets the logger.
func (h *Host) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Restore rebuilds the handle of a cached accessory.
func (h *Host) Restore(rec *accessory.Record) (*Switch, error) {
	s, err := h.add(rec)
	if err != nil {
		return nil, err
	}
	h.log().Debug("accessory restored", "uuid", rec.UUID, "name", rec.DisplayName, "aid", s.ID())
	return s, nil
}

// Register publishes a new accessory.
func (h *Host) Register(rec *accessory.Record) (*Switch, error) {
	s, err := h.add(rec)
	if err != nil {
		return nil, err
	}
	h.log().Info("accessory registered", "uuid", rec.UUID, "name", rec.DisplayName, "aid", s.ID())
	return s, nil
}

func (h *Host) add(rec *accessory.Record) (*Switch, error) {
	if rec == nil || rec.UUID == "" {
		return nil, fmt.Errorf("%w: accessory uuid is required", ErrInvalidConfig)
	}

	h.mu.Lock()
	if _, ok := h.switches[rec.UUID]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAccessoryExists, rec.UUID)
	}
	id := accessory.HAPID(rec.UUID)
	if other, ok := h.ids[id]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s and %s both map to %d", ErrIDCollision, rec.UUID, other, id)
	}

	s := newSwitch(rec, h.cfg.Firmware, h.markChanged)
	h.switches[rec.UUID] = s
	h.ids[id] = rec.UUID
	h.mu.Unlock()

	h.markChanged()
	return s, nil
}

// Unregister removes an accessory from the bridge.
func (h *Host) Unregister(uuid string) error {
	h.mu.Lock()
	s, ok := h.switches[uuid]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAccessoryNotFound, uuid)
	}
	delete(h.switches, uuid)
	delete(h.ids, s.ID())
	h.mu.Unlock()

	h.markChanged()
	h.log().Info("accessory unregistered", "uuid", uuid, "aid", s.ID())
	return nil
}

// Lookup returns the handle for uuid.
func (h *Host) Lookup(uuid string) (*Switch, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.switches[uuid]
	return s, ok
}

// Len returns the number of bridged accessories.
func (h *Host) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.switches)
}

// Stats returns a snapshot of host state.
func (h *Host) Stats() Stats {
	return Stats{
		Accessories: h.Len(),
		Restarts:    h.restarts.Load(),
		Serving:     h.serving.Load(),
	}
}

// Run serves HAP until ctx is cancelled, restarting the server when the
// accessory set changes.
func (h *Host) Run(ctx context.Context) error {
	defer h.serving.Store(false)

	for {
		// The server built below includes every change made so far.
		select {
		case <-h.changed:
		default:
		}

		server, err := h.newServer()
		if err != nil {
			return err
		}

		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- server.ListenAndServe(srvCtx) }()
		h.serving.Store(true)
		h.log().Info("homekit server started", "accessories", h.Len(), "address", h.cfg.Address)

		select {
		case <-ctx.Done():
			cancel()
			<-done
			h.log().Info("homekit server stopped")
			return nil

		case err := <-done:
			cancel()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("homekit server: %w", err)

		case <-h.changed:
			h.settle(ctx)
			cancel()
			<-done
			h.serving.Store(false)
			if ctx.Err() != nil {
				return nil
			}
			h.restarts.Add(1)
			h.log().Debug("accessory set changed, restarting homekit server")
		}
	}
}

// settle waits until no change has been signalled for ReloadDelay.
func (h *Host) settle(ctx context.Context) {
	timer := time.NewTimer(h.cfg.ReloadDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.changed:
			timer.Reset(h.cfg.ReloadDelay)
		case <-timer.C:
			return
		}
	}
}

func (h *Host) newServer() (*hap.Server, error) {
	server, err := hap.NewServer(h.store, h.bridge.A, h.accessories()...)
	if err != nil {
		return nil, fmt.Errorf("creating homekit server: %w", err)
	}
	server.Pin = h.cfg.Pin
	server.Addr = h.cfg.Address
	return server, nil
}

// accessories returns the bridged accessories ordered by id.
func (h *Host) accessories() []*hapaccessory.A {
	h.mu.RLock()
	defer h.mu.RUnlock()

	as := make([]*hapaccessory.A, 0, len(h.switches))
	for _, s := range h.switches {
		as = append(as, s.a)
	}
	sort.Slice(as, func(i, j int) bool { return as[i].Id < as[j].Id })
	return as
}

func (h *Host) markChanged() {
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

func (h *Host) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
