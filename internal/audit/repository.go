package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the fixed-width stored form, so string comparison in
// SQL orders the same way as time.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// AuditEvent represents a single audit event.
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Level     EventLevel     `json:"level"`
	RequestID *string        `json:"request_id,omitempty"`
	EntityID  *string        `json:"entity_id,omitempty"`
	CmdID     *string        `json:"cmd_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for creating a new audit event.
type WriteEventInput struct {
	Type      string         `json:"type"`
	Level     *EventLevel    `json:"level,omitempty"`
	RequestID *string        `json:"request_id,omitempty"`
	EntityID  *string        `json:"entity_id,omitempty"`
	CmdID     *string        `json:"cmd_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type      *string     `json:"type,omitempty"`
	Level     *EventLevel `json:"level,omitempty"`
	StartDate *time.Time  `json:"start_date,omitempty"`
	EndDate   *time.Time  `json:"end_date,omitempty"`
	EntityID  *string     `json:"entity_id,omitempty"`
	CmdID     *string     `json:"cmd_id,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for audit events.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/UPDATE/DELETE
	now    func() time.Time
}

// NewRepository creates a new audit Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer(), now: time.Now}
}

// InsertEvent writes a new audit event to the database.
// Generates UUID, captures timestamp, defaults level to INFO.
func (r *Repository) InsertEvent(ctx context.Context, input WriteEventInput) (*AuditEvent, error) {
	eventID := uuid.New().String()
	timestamp := r.now().UTC().Format(TimestampLayout)

	level := EventLevelInfo
	if input.Level != nil {
		level = *input.Level
	}

	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	_, err = r.writer.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, timestamp, type, level, request_id, entity_id, cmd_id, message, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, timestamp, input.Type, string(level), input.RequestID, input.EntityID, input.CmdID, input.Message, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	return r.getFrom(ctx, r.writer, eventID)
}

// GetEvent retrieves a single event by ID.
// Returns nil, nil if not found.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	return r.getFrom(ctx, r.reader, eventID)
}

func (r *Repository) getFrom(ctx context.Context, db *sql.DB, eventID string) (*AuditEvent, error) {
	row := db.QueryRowContext(ctx, `
		SELECT event_id, timestamp, type, level, request_id, entity_id, cmd_id, message, payload
		FROM audit_events
		WHERE event_id = ?
	`, eventID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

// QueryEvents retrieves events matching filters with pagination.
// Orders by timestamp DESC (newest first).
// Returns events, total count, and error.
func (r *Repository) QueryEvents(ctx context.Context, filters EventQueryFilters) ([]AuditEvent, int, error) {
	whereClause, args := buildWhereClause(filters)

	var total int
	if err := r.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := `
		SELECT event_id, timestamp, type, level, request_id, entity_id, cmd_id, message, payload
		FROM audit_events
		` + whereClause + `
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`
	queryArgs := append(args, limit, filters.Offset)

	rows, err := r.reader.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// Prune deletes events older than the cutoff time.
// Returns number of rows deleted.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.writer.ExecContext(ctx, `
		DELETE FROM audit_events
		WHERE timestamp < ?
	`, cutoff.UTC().Format(TimestampLayout))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// buildWhereClause builds a dynamic WHERE clause based on provided filters.
func buildWhereClause(filters EventQueryFilters) (string, []any) {
	conditions := []string{}
	args := []any{}

	if filters.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *filters.Type)
	}
	if filters.Level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, string(*filters.Level))
	}
	if filters.EntityID != nil {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, *filters.EntityID)
	}
	if filters.CmdID != nil {
		conditions = append(conditions, "cmd_id = ?")
		args = append(args, *filters.CmdID)
	}
	if filters.StartDate != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filters.StartDate.UTC().Format(TimestampLayout))
	}
	if filters.EndDate != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filters.EndDate.UTC().Format(TimestampLayout))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*AuditEvent, error) {
	var event AuditEvent
	var timestamp, level, payloadJSON string
	var requestID, entityID, cmdID sql.NullString

	err := row.Scan(
		&event.EventID,
		&timestamp,
		&event.Type,
		&level,
		&requestID,
		&entityID,
		&cmdID,
		&event.Message,
		&payloadJSON,
	)
	if err != nil {
		return nil, err
	}

	event.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		event.Timestamp, _ = time.Parse("2006-01-02 15:04:05", timestamp)
	}
	event.Level = EventLevel(level)
	event.RequestID = nullable(requestID)
	event.EntityID = nullable(entityID)
	event.CmdID = nullable(cmdID)

	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, err
	}
	return &event, nil
}

func nullable(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
