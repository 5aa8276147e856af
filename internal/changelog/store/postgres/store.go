// Package postgres persists the change trail in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"changetrail/internal/changelog/models"
	"changetrail/pkg/platform/tx"
)

// Store implements record persistence, querying and retention deletes over
// the change_records table. Payloads and tags are stored as JSONB.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed record store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// exec returns the host's transaction when one is carried in the context, so
// an audit row commits or rolls back together with the mutation it records.
func (s *Store) exec(ctx context.Context) execer {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

const insertQuery = `
	INSERT INTO change_records (
		id, subject_type, subject_id, action, field_name,
		old_value, new_value, actor_id, ip_address, user_agent,
		http_method, endpoint_path, description, tags,
		occurred_date, created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

// Insert writes one record. It joins a transaction carried in the context;
// otherwise a single insert is its own unit of atomicity.
func (s *Store) Insert(ctx context.Context, rec *models.Record) error {
	oldValue, err := marshalPayload(rec.OldValue)
	if err != nil {
		return fmt.Errorf("marshal old value: %w", err)
	}
	newValue, err := marshalPayload(rec.NewValue)
	if err != nil {
		return fmt.Errorf("marshal new value: %w", err)
	}
	tags, err := marshalPayload(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.exec(ctx).ExecContext(ctx, insertQuery,
		rec.ID,
		rec.SubjectType,
		rec.SubjectID,
		string(rec.Action),
		nullString(rec.FieldName),
		oldValue,
		newValue,
		nullString(rec.ActorID),
		nullString(rec.IPAddress),
		nullString(rec.UserAgent),
		nullString(rec.HTTPMethod),
		nullString(rec.EndpointPath),
		nullString(rec.Description),
		tags,
		rec.OccurredDate,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

const selectColumns = `
	id, subject_type, subject_id, action, field_name,
	old_value, new_value, actor_id, ip_address, user_agent,
	http_method, endpoint_path, description, tags,
	occurred_date, created_at, updated_at
`

// Query returns matching records, newest first by creation time.
func (s *Store) Query(ctx context.Context, f models.Filter) ([]models.Record, error) {
	where, args := compileFilter(f)
	query := "SELECT " + selectColumns + " FROM change_records" + where +
		" ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Count returns the number of matching records.
func (s *Store) Count(ctx context.Context, f models.Filter) (int64, error) {
	where, args := compileFilter(f)
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM change_records"+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count change records: %w", err)
	}
	return n, nil
}

// CountByAction groups matching records by action.
func (s *Store) CountByAction(ctx context.Context, f models.Filter) (map[models.Action]int64, error) {
	where, args := compileFilter(f)
	query := "SELECT action, COUNT(*) FROM change_records" + where + " GROUP BY action"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by action: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Action]int64)
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan action count: %w", err)
		}
		out[models.Action(action)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action counts: %w", err)
	}
	return out, nil
}

// CountByActor groups matching records by actor; system-initiated records
// without an actor are excluded.
func (s *Store) CountByActor(ctx context.Context, f models.Filter) (map[string]int64, error) {
	where, args := compileFilter(f)
	if where == "" {
		where = " WHERE actor_id IS NOT NULL"
	} else {
		where += " AND actor_id IS NOT NULL"
	}
	query := "SELECT actor_id, COUNT(*) FROM change_records" + where + " GROUP BY actor_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by actor: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var actor string
		var n int64
		if err := rows.Scan(&actor, &n); err != nil {
			return nil, fmt.Errorf("scan actor count: %w", err)
		}
		out[actor] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actor counts: %w", err)
	}
	return out, nil
}

// DeleteBefore removes records occurring strictly before the cutoff date.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx).ExecContext(ctx,
		"DELETE FROM change_records WHERE occurred_date < $1", models.DateOnly(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete change records: %w", err)
	}
	return res.RowsAffected()
}

// DeleteRange removes records occurring within the inclusive date range.
func (s *Store) DeleteRange(ctx context.Context, start, end time.Time) (int64, error) {
	res, err := s.exec(ctx).ExecContext(ctx,
		"DELETE FROM change_records WHERE occurred_date BETWEEN $1 AND $2",
		models.DateOnly(start), models.DateOnly(end))
	if err != nil {
		return 0, fmt.Errorf("delete change records in range: %w", err)
	}
	return res.RowsAffected()
}

// compileFilter translates a Filter into a WHERE clause. The produced
// predicates mirror models.Filter.Matches exactly; the two must stay in sync
// so statistics and queries agree across stores.
func compileFilter(f models.Filter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.SubjectType != "" {
		add("subject_type = $%d", f.SubjectType)
		if f.SubjectID != "" {
			add("subject_id = $%d", f.SubjectID)
		}
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if !f.StartDate.IsZero() {
		add("occurred_date >= $%d", models.DateOnly(f.StartDate))
	}
	if !f.EndDate.IsZero() {
		add("occurred_date <= $%d", models.DateOnly(f.EndDate))
	}
	if f.Tag != "" {
		// JSONB containment; tags is a JSON array of strings.
		tag, _ := json.Marshal([]string{f.Tag})
		add("tags @> $%d", string(tag))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	var records []models.Record
	for rows.Next() {
		var (
			rec          models.Record
			action       string
			fieldName    sql.NullString
			oldValue     []byte
			newValue     []byte
			actorID      sql.NullString
			ipAddress    sql.NullString
			userAgent    sql.NullString
			httpMethod   sql.NullString
			endpointPath sql.NullString
			description  sql.NullString
			tags         []byte
		)
		err := rows.Scan(
			&rec.ID,
			&rec.SubjectType,
			&rec.SubjectID,
			&action,
			&fieldName,
			&oldValue,
			&newValue,
			&actorID,
			&ipAddress,
			&userAgent,
			&httpMethod,
			&endpointPath,
			&description,
			&tags,
			&rec.OccurredDate,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}

		rec.Action = models.Action(action)
		rec.FieldName = fieldName.String
		rec.ActorID = actorID.String
		rec.IPAddress = ipAddress.String
		rec.UserAgent = userAgent.String
		rec.HTTPMethod = httpMethod.String
		rec.EndpointPath = endpointPath.String
		rec.Description = description.String

		if err := unmarshalPayload(oldValue, &rec.OldValue); err != nil {
			return nil, fmt.Errorf("decode old value: %w", err)
		}
		if err := unmarshalPayload(newValue, &rec.NewValue); err != nil {
			return nil, fmt.Errorf("decode new value: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &rec.Tags); err != nil {
				return nil, fmt.Errorf("decode tags: %w", err)
			}
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change records: %w", err)
	}
	return records, nil
}

// marshalPayload renders a payload as JSONB input, mapping empty values to
// SQL NULL.
func marshalPayload(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func unmarshalPayload(data []byte, dst *any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
