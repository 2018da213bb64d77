package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"focusflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound aliases the shared sentinel so callers can keep matching on
// either package.
var ErrNotFound = domain.ErrNotFound

const taskColumns = `id,user_id,project_id,title,description,date,time_block,estimated_minutes,actual_minutes,priority,energy_level,status,subtasks_json,carried_over_from,created_at,updated_at,completed_at`

func (r Repo) UpsertTask(ctx context.Context, t domain.Task) error {
	return upsertTask(ctx, r.DB.ExecContext, t)
}

func (r Repo) UpsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	return upsertTask(ctx, tx.ExecContext, t)
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func upsertTask(ctx context.Context, exec execFunc, t domain.Task) error {
	subtasks, err := marshalSubtasks(t.Subtasks)
	if err != nil {
		return err
	}
	_, err = exec(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	project_id=excluded.project_id, title=excluded.title, description=excluded.description,
	date=excluded.date, time_block=excluded.time_block, estimated_minutes=excluded.estimated_minutes,
	actual_minutes=excluded.actual_minutes, priority=excluded.priority, energy_level=excluded.energy_level,
	status=excluded.status, subtasks_json=excluded.subtasks_json, carried_over_from=excluded.carried_over_from,
	updated_at=excluded.updated_at, completed_at=excluded.completed_at`,
		t.ID, t.UserID, nullable(t.ProjectID), t.Title, nullable(t.Description),
		nullableStringPtr(t.Date), string(t.TimeBlock), t.EstimatedMinutes, nullableIntPtr(t.ActualMinutes),
		string(t.Priority), string(t.EnergyLevel), string(t.Status), subtasks,
		nullableStringPtr(t.CarriedOverFrom), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var projectID, description, date, subtasks, carriedOver, completedAt sql.NullString
	var actualMinutes sql.NullInt64
	var timeBlock, priority, energy, status string
	err := scan(&t.ID, &t.UserID, &projectID, &t.Title, &description, &date, &timeBlock,
		&t.EstimatedMinutes, &actualMinutes, &priority, &energy, &status, &subtasks,
		&carriedOver, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.TimeBlock = domain.TimeBlock(timeBlock)
	t.Priority = domain.Priority(priority)
	t.EnergyLevel = domain.EnergyLevel(energy)
	t.Status = domain.TaskStatus(status)
	if projectID.Valid {
		t.ProjectID = projectID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if date.Valid {
		t.Date = &date.String
	}
	if actualMinutes.Valid {
		m := int(actualMinutes.Int64)
		t.ActualMinutes = &m
	}
	if subtasks.Valid && subtasks.String != "" {
		if err := json.Unmarshal([]byte(subtasks.String), &t.Subtasks); err != nil {
			return t, err
		}
	}
	if carriedOver.Valid {
		t.CarriedOverFrom = &carriedOver.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		return t, err
	}
	t.DependsOn, err = r.listDependencyIDs(ctx, t.ID)
	return t, err
}

// GetTaskRef returns the minimal projection used by dependency lookups.
func (r Repo) GetTaskRef(ctx context.Context, id string) (domain.TaskRef, error) {
	var ref domain.TaskRef
	var status string
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,status FROM tasks WHERE id=?`, id).
		Scan(&ref.ID, &ref.Title, &status)
	if err == sql.ErrNoRows {
		return ref, ErrNotFound
	}
	if err != nil {
		return ref, err
	}
	ref.Status = domain.TaskStatus(status)
	ref.Completed = ref.Status == domain.StatusCompleted
	return ref, nil
}

type TaskFilters struct {
	Status    domain.TaskStatus
	ProjectID string
	Date      string
}

func (r Repo) ListTasks(ctx context.Context, userID string, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"user_id=?"}
	args := []any{userID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Date != "" {
		clauses = append(clauses, "date=?")
		args = append(args, f.Date)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].DependsOn, err = r.listDependencyIDs(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) listDependencyIDs(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_id FROM task_dependencies WHERE task_id=? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalSubtasks(in []domain.Subtask) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
