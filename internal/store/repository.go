package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for device records.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/UPDATE/DELETE
}

// NewRepository creates a new device Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Save inserts or replaces a record. created_at survives replacement.
func (r *Repository) Save(ctx context.Context, rec Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.Port == 0 {
		rec.Port = dunehd.DefaultPort
	}
	now := nowISO()

	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO devices (entity_id, name, host, port, username, password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
		  name = excluded.name,
		  host = excluded.host,
		  port = excluded.port,
		  username = excluded.username,
		  password = excluded.password,
		  updated_at = excluded.updated_at
	`, rec.EntityID, rec.Name, rec.Host, rec.Port, rec.Username, rec.Password, now, now)
	if err != nil {
		return nil, fmt.Errorf("save device %s: %w", rec.EntityID, err)
	}

	return r.getFrom(ctx, r.writer, rec.EntityID)
}

// Get retrieves a record by entity id.
// Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, entityID string) (*Record, error) {
	return r.getFrom(ctx, r.reader, entityID)
}

// getFrom lets Save read its own write through the writer connection.
func (r *Repository) getFrom(ctx context.Context, db *sql.DB, entityID string) (*Record, error) {
	row := db.QueryRowContext(ctx, `
		SELECT entity_id, name, host, port, username, password, created_at, updated_at
		FROM devices
		WHERE entity_id = ?
	`, entityID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// List returns every record ordered by entity id.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.reader.QueryContext(ctx, `
		SELECT entity_id, name, host, port, username, password, created_at, updated_at
		FROM devices
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Delete removes a record and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, entityID string) (bool, error) {
	result, err := r.writer.ExecContext(ctx, "DELETE FROM devices WHERE entity_id = ?", entityID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetConfig implements device.EndpointStore.
func (r *Repository) GetConfig(ctx context.Context, entityID string) (device.Config, error) {
	rec, err := r.Get(ctx, entityID)
	if err != nil {
		return device.Config{}, err
	}
	if rec == nil {
		return device.Config{}, device.ErrUnconfigured
	}
	return rec.Config(), nil
}

// ListConfigs implements device.EndpointStore.
func (r *Repository) ListConfigs(ctx context.Context) ([]device.Config, error) {
	records, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	configs := make([]device.Config, 0, len(records))
	for _, rec := range records {
		configs = append(configs, rec.Config())
	}
	return configs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var createdAt, updatedAt string
	if err := row.Scan(&rec.EntityID, &rec.Name, &rec.Host, &rec.Port, &rec.Username, &rec.Password, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		parsed, _ = time.Parse("2006-01-02 15:04:05", value)
	}
	return parsed
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
