package accessory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines accessory record persistence.
type Repository interface {
	// GetByUUID returns ErrAccessoryNotFound when the UUID is unknown.
	GetByUUID(ctx context.Context, uuid string) (*Record, error)

	List(ctx context.Context) ([]Record, error)

	// Create returns ErrAccessoryExists on a duplicate UUID or device value.
	Create(ctx context.Context, rec *Record) error

	Update(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, uuid string) error

	// UpdateState stores the last switch state reported by the hub.
	UpdateState(ctx context.Context, uuid string, on bool) error

	UpdateReachable(ctx context.Context, uuid string, reachable bool) error
}

// SQLiteRepository implements Repository on the accessories table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT uuid, display_name, device_id, value_id, services, manufacturer,
		model, reachable, last_state, created_at, updated_at
	FROM accessories`

// GetByUUID retrieves one record.
func (r *SQLiteRepository) GetByUUID(ctx context.Context, uuid string) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectColumns+" WHERE uuid = ?", uuid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccessoryNotFound
		}
		return nil, fmt.Errorf("querying accessory: %w", err)
	}
	return rec, nil
}

// List retrieves all records ordered by display name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY display_name, uuid")
	if err != nil {
		return nil, fmt.Errorf("querying accessories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning accessory: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accessories: %w", err)
	}
	return records, nil
}

// Create inserts a new record and stamps its timestamps.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	services, err := json.Marshal(nonNil(rec.Services))
	if err != nil {
		return fmt.Errorf("marshalling services: %w", err)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accessories (uuid, display_name, device_id, value_id, services,
			manufacturer, model, reachable, last_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UUID, rec.DisplayName, rec.DeviceID, rec.ValueID, string(services),
		rec.Manufacturer, rec.Model, boolToInt(rec.Reachable), nullableBool(rec.LastState),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAccessoryExists
		}
		return fmt.Errorf("inserting accessory: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a record.
func (r *SQLiteRepository) Update(ctx context.Context, rec *Record) error {
	services, err := json.Marshal(nonNil(rec.Services))
	if err != nil {
		return fmt.Errorf("marshalling services: %w", err)
	}

	rec.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE accessories SET
			display_name = ?, services = ?, manufacturer = ?, model = ?,
			reachable = ?, last_state = ?, updated_at = ?
		WHERE uuid = ?`,
		rec.DisplayName, string(services), rec.Manufacturer, rec.Model,
		boolToInt(rec.Reachable), nullableBool(rec.LastState),
		rec.UpdatedAt.Format(time.RFC3339), rec.UUID,
	)
	if err != nil {
		return fmt.Errorf("updating accessory: %w", err)
	}
	return requireRow(result)
}

// Delete removes a record.
func (r *SQLiteRepository) Delete(ctx context.Context, uuid string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM accessories WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("deleting accessory: %w", err)
	}
	return requireRow(result)
}

// UpdateState stores the last known switch state.
func (r *SQLiteRepository) UpdateState(ctx context.Context, uuid string, on bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accessories SET last_state = ?, updated_at = ? WHERE uuid = ?",
		boolToInt(on), time.Now().UTC().Format(time.RFC3339), uuid,
	)
	if err != nil {
		return fmt.Errorf("updating accessory state: %w", err)
	}
	return requireRow(result)
}

// UpdateReachable stores the reachability flag.
func (r *SQLiteRepository) UpdateReachable(ctx context.Context, uuid string, reachable bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accessories SET reachable = ?, updated_at = ? WHERE uuid = ?",
		boolToInt(reachable), time.Now().UTC().Format(time.RFC3339), uuid,
	)
	if err != nil {
		return fmt.Errorf("updating accessory reachability: %w", err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var services, createdAt, updatedAt string
	var reachable int
	var lastState sql.NullInt64

	if err := row.Scan(&rec.UUID, &rec.DisplayName, &rec.DeviceID, &rec.ValueID, &services,
		&rec.Manufacturer, &rec.Model, &reachable, &lastState, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(services), &rec.Services); err != nil {
		return nil, fmt.Errorf("unmarshalling services: %w", err)
	}
	rec.Reachable = reachable != 0
	if lastState.Valid {
		on := lastState.Int64 != 0
		rec.LastState = &on
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rec, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccessoryNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

// isUniqueConstraintError matches go-sqlite3's constraint message without
// importing the driver's error type.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
