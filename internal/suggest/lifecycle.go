package suggest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"focusflow/internal/domain"
	"focusflow/internal/repo"
)

// Lifecycle applies user responses to suggestions. States: pending is
// initial; accepted, dismissed and expired are terminal.
type Lifecycle struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func NewLifecycle(db *sql.DB) Lifecycle {
	return Lifecycle{DB: db, Repo: repo.Repo{DB: db}, Now: time.Now}
}

func (l Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Respond records an accept or dismiss. Responding to anything but a pending
// suggestion fails with ErrInvalidState rather than being silently ignored,
// so callers can detect races. Applying the action payload stays the caller's
// job; the response itself is kept on the row for later pattern learning.
func (l Lifecycle) Respond(ctx context.Context, suggestionID string, accepted bool) (domain.Suggestion, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()

	s, err := l.Repo.GetSuggestionTx(ctx, tx, suggestionID)
	if err != nil {
		return s, err
	}
	if s.Status != domain.SuggestionPending {
		return s, fmt.Errorf("%w: suggestion %s is %s", domain.ErrInvalidState, suggestionID, s.Status)
	}
	status := domain.SuggestionDismissed
	if accepted {
		status = domain.SuggestionAccepted
	}
	respondedAt := l.now().UTC().Format(time.RFC3339)
	if err := l.Repo.SetSuggestionStatusTx(ctx, tx, suggestionID, status, &respondedAt); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = status
	s.RespondedAt = &respondedAt
	return s, nil
}

// ExpirePending sweeps pending suggestions past their deadline into expired.
// No responded_at is stamped: a timeout is not a user decision.
func (l Lifecycle) ExpirePending(ctx context.Context) (int64, error) {
	return l.Repo.ExpirePendingSuggestions(ctx, l.now().UTC().Format(time.RFC3339))
}
