package accessory

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockRepository is an in-memory Repository for registry tests.
type mockRepository struct {
	mu      sync.Mutex
	records map[string]Record
	listErr error
}

func newMockRepository(records ...*Record) *mockRepository {
	m := &mockRepository{records: make(map[string]Record)}
	for _, r := range records {
		m.records[r.UUID] = *r.DeepCopy()
	}
	return m
}

func (m *mockRepository) GetByUUID(_ context.Context, uuid string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[uuid]
	if !ok {
		return nil, ErrAccessoryNotFound
	}
	return r.DeepCopy(), nil
}

func (m *mockRepository) List(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r.DeepCopy())
	}
	return out, nil
}

func (m *mockRepository) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.UUID]; ok {
		return ErrAccessoryExists
	}
	m.records[rec.UUID] = *rec.DeepCopy()
	return nil
}

func (m *mockRepository) Update(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.UUID]; !ok {
		return ErrAccessoryNotFound
	}
	m.records[rec.UUID] = *rec.DeepCopy()
	return nil
}

func (m *mockRepository) Delete(_ context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[uuid]; !ok {
		return ErrAccessoryNotFound
	}
	delete(m.records, uuid)
	return nil
}

func (m *mockRepository) UpdateState(_ context.Context, uuid string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[uuid]
	if !ok {
		return ErrAccessoryNotFound
	}
	r.LastState = &on
	m.records[uuid] = r
	return nil
}

func (m *mockRepository) UpdateReachable(_ context.Context, uuid string, reachable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[uuid]
	if !ok {
		return ErrAccessoryNotFound
	}
	r.Reachable = reachable
	m.records[uuid] = r
	return nil
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := newMockRepository(testRecord("1", "1"), testRecord("2", "1"))
	reg := NewRegistry(repo)

	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", reg.Count())
	}

	repo.listErr = errors.New("disk on fire")
	if err := reg.RefreshCache(context.Background()); err == nil {
		t.Error("RefreshCache() expected error")
	}
	if reg.Count() != 2 {
		t.Error("failed refresh must keep the previous cache")
	}
}

func TestRegistry_CreateGetDelete(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	ctx := context.Background()
	rec := testRecord("12", "1")

	if err := reg.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := reg.Get(rec.UUID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.DisplayName = "mutated"
	again, _ := reg.Get(rec.UUID)
	if again.DisplayName == "mutated" {
		t.Error("Get() must return a copy")
	}

	if err := reg.Delete(ctx, rec.UUID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := reg.Get(rec.UUID); !errors.Is(err, ErrAccessoryNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrAccessoryNotFound", err)
	}
}

func TestRegistry_CreateInvalid(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing uuid", func(r *Record) { r.UUID = "" }},
		{"missing device", func(r *Record) { r.DeviceID = "" }},
		{"missing value", func(r *Record) { r.ValueID = "" }},
		{"missing name", func(r *Record) { r.DisplayName = "" }},
		{"long name", func(r *Record) {
			r.DisplayName = string(make([]byte, maxDisplayNameLength+1))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord("1", "1")
			tt.mutate(rec)
			if err := reg.Create(context.Background(), rec); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Create() error = %v, want ErrInvalidRecord", err)
			}
		})
	}
}

func TestRegistry_ListByDeviceAndStats(t *testing.T) {
	on := true
	r1 := testRecord("12", "1")
	r1.LastState = &on
	r2 := testRecord("12", "2")
	r2.Reachable = false
	r3 := testRecord("40", "1")
	r3.AddService(ServiceConsumption)

	reg := NewRegistry(newMockRepository(r1, r2, r3))
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	if got := reg.ListByDevice("12"); len(got) != 2 {
		t.Errorf("ListByDevice(12) len = %d, want 2", len(got))
	}
	if got := reg.ListByDevice("nope"); len(got) != 0 {
		t.Errorf("ListByDevice(nope) len = %d, want 0", len(got))
	}

	stats := reg.GetStats()
	if stats.Total != 3 || stats.Devices != 2 || stats.Reachable != 2 || stats.On != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
	if stats.ByService[ServiceSwitch] != 3 || stats.ByService[ServiceConsumption] != 1 {
		t.Errorf("ByService = %v", stats.ByService)
	}
}

func TestRegistry_SetLastStateAndReachable(t *testing.T) {
	rec := testRecord("12", "1")
	reg := NewRegistry(newMockRepository(rec))
	ctx := context.Background()
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	if err := reg.SetLastState(ctx, rec.UUID, true); err != nil {
		t.Fatalf("SetLastState() error = %v", err)
	}
	if err := reg.SetReachable(ctx, rec.UUID, false); err != nil {
		t.Fatalf("SetReachable() error = %v", err)
	}

	got, _ := reg.Get(rec.UUID)
	if got.LastState == nil || !*got.LastState {
		t.Error("LastState not cached")
	}
	if got.Reachable {
		t.Error("Reachable not cached")
	}

	if err := reg.SetLastState(ctx, "missing", true); !errors.Is(err, ErrAccessoryNotFound) {
		t.Errorf("SetLastState(missing) error = %v", err)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testRecord("dev", string(rune('a'+i)))
			if err := reg.Create(ctx, rec); err != nil {
				t.Errorf("Create() error = %v", err)
				return
			}
			_ = reg.SetLastState(ctx, rec.UUID, i%2 == 0)
			_ = reg.List()
			_ = reg.GetStats()
		}(i)
	}
	wg.Wait()

	if reg.Count() != 20 {
		t.Errorf("Count() = %d, want 20", reg.Count())
	}
}
