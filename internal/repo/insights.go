package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"focusflow/internal/domain"
)

const insightColumns = `id,user_id,type,category,pattern_json,confidence,sample_size,active,last_updated,expires_at`

func scanInsight(scan func(dest ...any) error) (domain.Insight, error) {
	var in domain.Insight
	var category, expiresAt sql.NullString
	var pattern, insightType string
	var active int
	err := scan(&in.ID, &in.UserID, &insightType, &category, &pattern,
		&in.Confidence, &in.SampleSize, &active, &in.LastUpdated, &expiresAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.Type = domain.InsightType(insightType)
	in.Active = active == 1
	if category.Valid {
		in.Category = category.String
	}
	if expiresAt.Valid {
		in.ExpiresAt = &expiresAt.String
	}
	if err := json.Unmarshal([]byte(pattern), &in.Pattern); err != nil {
		return in, err
	}
	return in, nil
}

// UpsertInsightTx supersedes the active insight for (user, type, scope) with
// the given one. The old row is deactivated, not deleted, so history survives.
func (r Repo) UpsertInsightTx(ctx context.Context, tx *sql.Tx, in domain.Insight) error {
	pattern, err := json.Marshal(in.Pattern)
	if err != nil {
		return err
	}
	scope := in.Pattern.ScopeKey()
	if _, err := tx.ExecContext(ctx,
		`UPDATE insights SET active=0 WHERE user_id=? AND type=? AND scope_key=? AND active=1`,
		in.UserID, string(in.Type), scope); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO insights(id,user_id,type,category,scope_key,pattern_json,confidence,sample_size,active,last_updated,expires_at)
VALUES (?,?,?,?,?,?,?,?,1,?,?)`,
		in.ID, in.UserID, string(in.Type), nullable(in.Category), scope, string(pattern),
		in.Confidence, in.SampleSize, in.LastUpdated, nullableStringPtr(in.ExpiresAt))
	return err
}

// GetActiveInsight returns the active insight for (user, type, scope).
func (r Repo) GetActiveInsight(ctx context.Context, userID string, t domain.InsightType, scopeKey string) (domain.Insight, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE user_id=? AND type=? AND scope_key=? AND active=1`,
		userID, string(t), scopeKey)
	return scanInsight(row.Scan)
}

func (r Repo) ListInsights(ctx context.Context, userID string, activeOnly bool) ([]domain.Insight, error) {
	query := `SELECT ` + insightColumns + ` FROM insights WHERE user_id=?`
	if activeOnly {
		query += ` AND active=1`
	}
	query += ` ORDER BY type ASC, last_updated DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Insight
	for rows.Next() {
		in, err := scanInsight(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// DeactivateExpiredInsights flips active insights whose expires_at has passed.
func (r Repo) DeactivateExpiredInsights(ctx context.Context, userID, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE insights SET active=0 WHERE user_id=? AND active=1 AND expires_at IS NOT NULL AND expires_at < ?`,
		userID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) GetLastAnalysis(ctx context.Context, userID string) (string, error) {
	var ts string
	err := r.DB.QueryRowContext(ctx, `SELECT last_run_at FROM analysis_runs WHERE user_id=?`, userID).Scan(&ts)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return ts, err
}

func (r Repo) SetLastAnalysis(ctx context.Context, userID, ts string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO analysis_runs(user_id,last_run_at) VALUES (?,?)
ON CONFLICT(user_id) DO UPDATE SET last_run_at=excluded.last_run_at`, userID, ts)
	return err
}
