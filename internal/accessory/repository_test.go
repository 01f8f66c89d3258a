package accessory

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/almond-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/almond-bridge/migrations"
)

func setupTestDB(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func testRecord(deviceID, valueID string) *Record {
	return &Record{
		UUID:         UUIDFor(deviceID, valueID),
		DisplayName:  "Lamp (Switch " + valueID + ")",
		DeviceID:     deviceID,
		ValueID:      valueID,
		Services:     []string{ServiceSwitch},
		Manufacturer: "GE",
		Model:        "ZW4101",
		Reachable:    true,
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	rec := testRecord("12", "1")

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByUUID(ctx, rec.UUID)
	if err != nil {
		t.Fatalf("GetByUUID() error = %v", err)
	}
	if got.DisplayName != rec.DisplayName || got.DeviceID != "12" || got.ValueID != "1" {
		t.Errorf("GetByUUID() = %+v, want fields of %+v", got, rec)
	}
	if !got.HasService(ServiceSwitch) {
		t.Error("expected switch service to round trip")
	}
	if !got.Reachable {
		t.Error("expected reachable to round trip")
	}
	if got.LastState != nil {
		t.Errorf("LastState = %v, want nil", *got.LastState)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stored")
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testRecord("12", "1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, testRecord("12", "1"))
	if !errors.Is(err, ErrAccessoryExists) {
		t.Errorf("Create() duplicate error = %v, want ErrAccessoryExists", err)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"get", func() error { _, err := repo.GetByUUID(ctx, "missing"); return err }},
		{"update", func() error { return repo.Update(ctx, testRecord("99", "1")) }},
		{"delete", func() error { return repo.Delete(ctx, "missing") }},
		{"state", func() error { return repo.UpdateState(ctx, "missing", true) }},
		{"reachable", func() error { return repo.UpdateReachable(ctx, "missing", true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrAccessoryNotFound) {
				t.Errorf("error = %v, want ErrAccessoryNotFound", err)
			}
		})
	}
}

func TestSQLiteRepository_UpdateStateAndReachable(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	rec := testRecord("12", "1")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.UpdateState(ctx, rec.UUID, true); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	if err := repo.UpdateReachable(ctx, rec.UUID, false); err != nil {
		t.Fatalf("UpdateReachable() error = %v", err)
	}

	got, err := repo.GetByUUID(ctx, rec.UUID)
	if err != nil {
		t.Fatalf("GetByUUID() error = %v", err)
	}
	if got.LastState == nil || !*got.LastState {
		t.Error("LastState should be true")
	}
	if got.Reachable {
		t.Error("Reachable should be false")
	}
}

func TestSQLiteRepository_UpdateAndList(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	b := testRecord("20", "1")
	b.DisplayName = "B"
	a := testRecord("10", "1")
	a.DisplayName = "A"
	for _, rec := range []*Record{b, a} {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	a.AddService(ServiceConsumption)
	a.DisplayName = "A renamed"
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].DisplayName != "A renamed" {
		t.Errorf("first = %q, want ordering by display name", list[0].DisplayName)
	}
	if !list[0].HasService(ServiceConsumption) {
		t.Error("updated services not stored")
	}

	if err := repo.Delete(ctx, b.UUID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if list, _ = repo.List(ctx); len(list) != 1 {
		t.Errorf("List() after delete len = %d, want 1", len(list))
	}
}
