// Package events is the append-only, per-user behavior log. Rows are never
// updated or deleted; corrections happen by appending a compensating event.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"focusflow/internal/domain"
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Record appends an event. The id and created_at are filled in when absent;
// the insertion sequence is assigned by the database and breaks timestamp ties.
func (s Store) Record(ctx context.Context, evt domain.TaskEvent) (domain.TaskEvent, error) {
	if evt.UserID == "" {
		return evt, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if !evt.Type.Valid() {
		return evt, fmt.Errorf("%w: unknown event type %q", domain.ErrValidation, evt.Type)
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CreatedAt == "" {
		evt.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}
	prev, err := marshalPayload(evt.Previous)
	if err != nil {
		return evt, fmt.Errorf("marshal previous snapshot: %w", err)
	}
	next, err := marshalPayload(evt.New)
	if err != nil {
		return evt, fmt.Errorf("marshal new snapshot: %w", err)
	}
	meta, err := marshalPayload(evt.Metadata)
	if err != nil {
		return evt, fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO events(id,user_id,task_id,type,hour_of_day,day_of_week,time_block,project_id,priority,energy_level,previous_json,new_json,metadata_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		evt.ID, evt.UserID, nullableStringPtr(evt.TaskID), string(evt.Type),
		evt.Context.HourOfDay, evt.Context.DayOfWeek,
		nullable(string(evt.Context.TimeBlock)), nullable(evt.Context.ProjectID),
		nullable(string(evt.Context.Priority)), nullable(string(evt.Context.EnergyLevel)),
		prev, next, meta, evt.CreatedAt)
	if err != nil {
		return evt, err
	}
	evt.Seq, _ = res.LastInsertId()
	return evt, nil
}

// Order selects the direction of a query window.
type Order string

const (
	OldestFirst Order = "asc"
	NewestFirst Order = "desc"
)

type Filter struct {
	Type   domain.EventType
	TaskID string
	Since  string // RFC3339, inclusive
	Until  string // RFC3339, exclusive
	Order  Order
	Limit  int
}

// Query returns a lazy sequence over the user's events in the filter window.
// Each range over the sequence re-runs the query, so the window is restartable;
// it is a snapshot read, not a live subscription.
func (s Store) Query(userID string, f Filter) iter.Seq2[domain.TaskEvent, error] {
	return func(yield func(domain.TaskEvent, error) bool) {
		query, args := buildQuery(userID, f)
		rows, err := s.DB.Query(query, args...)
		if err != nil {
			yield(domain.TaskEvent{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			evt, err := scanEvent(rows)
			if !yield(evt, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.TaskEvent{}, err)
		}
	}
}

// List materializes a query window.
func (s Store) List(ctx context.Context, userID string, f Filter) ([]domain.TaskEvent, error) {
	var res []domain.TaskEvent
	for evt, err := range s.Query(userID, f) {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, nil
}

func buildQuery(userID string, f Filter) (string, []any) {
	query := `SELECT seq,id,user_id,task_id,type,hour_of_day,day_of_week,time_block,project_id,priority,energy_level,previous_json,new_json,metadata_json,created_at FROM events WHERE user_id=?`
	args := []any{userID}
	if f.Type != "" {
		query += ` AND type=?`
		args = append(args, string(f.Type))
	}
	if f.TaskID != "" {
		query += ` AND task_id=?`
		args = append(args, f.TaskID)
	}
	if f.Since != "" {
		query += ` AND created_at >= ?`
		args = append(args, f.Since)
	}
	if f.Until != "" {
		query += ` AND created_at < ?`
		args = append(args, f.Until)
	}
	if f.Order == NewestFirst {
		query += ` ORDER BY created_at DESC, seq DESC`
	} else {
		query += ` ORDER BY created_at ASC, seq ASC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return query, args
}

func scanEvent(rows *sql.Rows) (domain.TaskEvent, error) {
	var evt domain.TaskEvent
	var taskID, timeBlock, projectID, priority, energy, prev, next, meta sql.NullString
	var evtType string
	err := rows.Scan(&evt.Seq, &evt.ID, &evt.UserID, &taskID, &evtType,
		&evt.Context.HourOfDay, &evt.Context.DayOfWeek, &timeBlock, &projectID,
		&priority, &energy, &prev, &next, &meta, &evt.CreatedAt)
	if err != nil {
		return evt, err
	}
	evt.Type = domain.EventType(evtType)
	if taskID.Valid {
		evt.TaskID = &taskID.String
	}
	evt.Context.TimeBlock = domain.TimeBlock(timeBlock.String)
	evt.Context.ProjectID = projectID.String
	evt.Context.Priority = domain.Priority(priority.String)
	evt.Context.EnergyLevel = domain.EnergyLevel(energy.String)
	if evt.Previous, err = unmarshalPayload(prev); err != nil {
		return evt, err
	}
	if evt.New, err = unmarshalPayload(next); err != nil {
		return evt, err
	}
	if evt.Metadata, err = unmarshalPayload(meta); err != nil {
		return evt, err
	}
	return evt, nil
}

func marshalPayload(in map[string]any) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalPayload(in sql.NullString) (map[string]any, error) {
	if !in.Valid || in.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(in.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
