package repo

import (
	"context"
	"database/sql"
	"strings"

	"focusflow/internal/domain"
)

const suggestionColumns = `id,user_id,task_id,type,title,description,action_json,reasoning,confidence,source,status,responded_at,expires_at,created_at`

// DedupKey identifies the pending-uniqueness scope of a suggestion. Task-bound
// suggestions dedup on (user, task, type); unbound ones carry their own scope
// suffix (e.g. the overloaded date/block pair).
func DedupKey(userID string, taskID *string, t domain.SuggestionType, scope string) string {
	task := ""
	if taskID != nil {
		task = *taskID
	}
	return userID + "|" + task + "|" + string(t) + "|" + scope
}

func scanSuggestion(scan func(dest ...any) error) (domain.Suggestion, error) {
	var s domain.Suggestion
	var taskID, description, reasoning, respondedAt sql.NullString
	var sType, action, source, status string
	err := scan(&s.ID, &s.UserID, &taskID, &sType, &s.Title, &description, &action,
		&reasoning, &s.Confidence, &source, &status, &respondedAt, &s.ExpiresAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Type = domain.SuggestionType(sType)
	s.Source = domain.SuggestionSource(source)
	s.Status = domain.SuggestionStatus(status)
	if taskID.Valid {
		s.TaskID = &taskID.String
	}
	if description.Valid {
		s.Description = description.String
	}
	if reasoning.Valid {
		s.Reasoning = reasoning.String
	}
	if respondedAt.Valid {
		s.RespondedAt = &respondedAt.String
	}
	s.Action, err = domain.UnmarshalAction([]byte(action))
	return s, err
}

// InsertSuggestion appends a suggestion. The partial unique index on pending
// dedup keys makes concurrent generation idempotent: a second insert for the
// same pending pair is dropped, and inserted=false is returned.
func (r Repo) InsertSuggestion(ctx context.Context, s domain.Suggestion, dedupKey string) (bool, error) {
	action, err := domain.MarshalAction(s.Action)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO suggestions(id,user_id,task_id,type,dedup_key,title,description,action_json,reasoning,confidence,source,status,responded_at,expires_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(dedup_key) WHERE status='pending' DO NOTHING`,
		s.ID, s.UserID, nullableStringPtr(s.TaskID), string(s.Type), dedupKey, s.Title,
		nullable(s.Description), string(action), nullable(s.Reasoning), s.Confidence,
		string(s.Source), string(s.Status), nullableStringPtr(s.RespondedAt), s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id=?`, id)
	return scanSuggestion(row.Scan)
}

func (r Repo) GetSuggestionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Suggestion, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id=?`, id)
	return scanSuggestion(row.Scan)
}

func (r Repo) ListSuggestions(ctx context.Context, userID string, status domain.SuggestionStatus) ([]domain.Suggestion, error) {
	clauses := []string{"user_id=?"}
	args := []any{userID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(status))
	}
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY confidence DESC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// PendingDedupKeys returns the dedup keys of the user's still-pending
// suggestions, used to skip regeneration.
func (r Repo) PendingDedupKeys(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dedup_key FROM suggestions WHERE user_id=? AND status='pending'`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := map[string]bool{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

func (r Repo) SetSuggestionStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.SuggestionStatus, respondedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE suggestions SET status=?, responded_at=? WHERE id=?`,
		string(status), nullableStringPtr(respondedAt), id)
	return err
}

// ExpirePendingSuggestions transitions pending suggestions past their
// expires_at to expired. No responded_at is stamped; a timeout is not a
// user decision.
func (r Repo) ExpirePendingSuggestions(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE suggestions SET status='expired' WHERE status='pending' AND expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
