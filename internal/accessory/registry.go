package accessory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry caches accessory records in memory on top of a Repository.
//
// The cache is loaded by RefreshCache at startup and kept in sync by every
// write. Records handed out are deep copies. All methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Record
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Record),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every record from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading accessories: %w", err)
	}

	cache := make(map[string]*Record, len(records))
	for i := range records {
		cache[records[i].UUID] = records[i].DeepCopy()
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("accessory cache refreshed", "count", len(records))
	return nil
}

// Get returns the record for uuid or ErrAccessoryNotFound.
func (r *Registry) Get(uuid string) (*Record, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	rec, ok := r.cache[uuid]
	if !ok {
		return nil, ErrAccessoryNotFound
	}
	return rec.DeepCopy(), nil
}

// List returns every record ordered by display name.
func (r *Registry) List() []Record {
	r.cacheMu.RLock()
	records := make([]Record, 0, len(r.cache))
	for _, rec := range r.cache {
		records = append(records, *rec.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sortRecords(records)
	return records
}

// ListByDevice returns the records bound to one hub device.
func (r *Registry) ListByDevice(deviceID string) []Record {
	r.cacheMu.RLock()
	var records []Record
	for _, rec := range r.cache {
		if rec.DeviceID == deviceID {
			records = append(records, *rec.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sortRecords(records)
	return records
}

// Create validates and persists a new record.
func (r *Registry) Create(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, rec); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rec.UUID] = rec.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("accessory record created", "uuid", rec.UUID, "name", rec.DisplayName)
	return nil
}

// Update validates and persists changes to an existing record.
func (r *Registry) Update(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, rec); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[rec.UUID] = rec.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("accessory record updated", "uuid", rec.UUID)
	return nil
}

// Delete removes a record.
func (r *Registry) Delete(ctx context.Context, uuid string) error {
	if err := r.repo.Delete(ctx, uuid); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, uuid)
	r.cacheMu.Unlock()

	r.logger.Info("accessory record deleted", "uuid", uuid)
	return nil
}

// SetLastState records the last switch state the hub reported.
func (r *Registry) SetLastState(ctx context.Context, uuid string, on bool) error {
	if err := r.repo.UpdateState(ctx, uuid, on); err != nil {
		return err
	}
	r.mutate(uuid, func(rec *Record) { rec.LastState = &on })
	return nil
}

// SetReachable records accessory reachability.
func (r *Registry) SetReachable(ctx context.Context, uuid string, reachable bool) error {
	if err := r.repo.UpdateReachable(ctx, uuid, reachable); err != nil {
		return err
	}
	r.mutate(uuid, func(rec *Record) { rec.Reachable = reachable })
	return nil
}

// mutate replaces the cached record with a modified copy.
func (r *Registry) mutate(uuid string, fn func(*Record)) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if cached, ok := r.cache[uuid]; ok {
		updated := cached.DeepCopy()
		fn(updated)
		r.cache[uuid] = updated
	}
}

// Count returns the number of cached records.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats summarises the registry for monitoring.
type Stats struct {
	Total     int            `json:"total"`
	Reachable int            `json:"reachable"`
	On        int            `json:"on"`
	Devices   int            `json:"devices"`
	ByService map[string]int `json:"by_service"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		Total:     len(r.cache),
		ByService: make(map[string]int),
	}
	devices := make(map[string]struct{})
	for _, rec := range r.cache {
		devices[rec.DeviceID] = struct{}{}
		if rec.Reachable {
			stats.Reachable++
		}
		if rec.LastState != nil && *rec.LastState {
			stats.On++
		}
		for _, s := range rec.Services {
			stats.ByService[s]++
		}
	}
	stats.Devices = len(devices)
	return stats
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].DisplayName != records[j].DisplayName {
			return records[i].DisplayName < records[j].DisplayName
		}
		return records[i].UUID < records[j].UUID
	})
}
