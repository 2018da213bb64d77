// Package analyzer mines the behavior event log into statistically weighted
// insights.
package analyzer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"focusflow/internal/config"
	"focusflow/internal/domain"
	"focusflow/internal/events"
	"focusflow/internal/repo"
)

type Analyzer struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Store
	Config *config.Config
	Now    func() time.Time
	Log    *logrus.Logger
}

func New(db *sql.DB, cfg *config.Config, log *logrus.Logger) Analyzer {
	if log == nil {
		log = logrus.New()
	}
	return Analyzer{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Store{DB: db},
		Config: cfg,
		Now:    time.Now,
		Log:    log,
	}
}

func (a Analyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Report is the outcome of one analysis pass. A failed or skipped insight
// type never aborts the others.
type Report struct {
	Insights []domain.Insight
	// Retained lists types whose sample fell below the minimum; the previous
	// insight is kept untouched rather than regressing on sparse data.
	Retained []domain.InsightType
	Failed   map[domain.InsightType]error
}

// candidate is one computed pattern before thresholding and persistence.
type candidate struct {
	Category   string
	Pattern    domain.Pattern
	SampleSize int
}

type computeFunc func(evts []domain.TaskEvent) ([]candidate, error)

// insightOrder fixes the pass order so deadline-truncated runs drop the same
// tail each time.
var insightOrder = []domain.InsightType{
	domain.InsightTimePreference,
	domain.InsightProductivityWindow,
	domain.InsightCompletionVelocity,
	domain.InsightEstimationAccuracy,
	domain.InsightEnergyPattern,
	domain.InsightProjectTiming,
	domain.InsightRolloverPattern,
	domain.InsightPriorityBehavior,
}

// Analyze refreshes all insight types for one user from the full event
// history. Failures are isolated per insight type; a context deadline abandons
// the remaining types and returns what was computed.
func (a Analyzer) Analyze(ctx context.Context, userID string) (Report, error) {
	report := Report{Failed: map[domain.InsightType]error{}}
	if userID == "" {
		return report, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	now := a.now().UTC()
	nowStr := now.Format(time.RFC3339)

	if _, err := a.Repo.DeactivateExpiredInsights(ctx, userID, nowStr); err != nil {
		return report, fmt.Errorf("deactivate expired insights: %w", err)
	}

	// One snapshot read for the whole pass; a concurrent append lands in the
	// next pass.
	evts, err := a.Events.List(ctx, userID, events.Filter{Order: events.OldestFirst})
	if err != nil {
		return report, fmt.Errorf("load events: %w", err)
	}

	computers := map[domain.InsightType]computeFunc{
		domain.InsightTimePreference:     a.timePreference,
		domain.InsightProductivityWindow: a.productivityWindow,
		domain.InsightCompletionVelocity: a.completionVelocity,
		domain.InsightEstimationAccuracy: a.estimationAccuracy,
		domain.InsightEnergyPattern:      a.energyPattern,
		domain.InsightProjectTiming:      a.projectTiming,
		domain.InsightRolloverPattern:    a.rolloverPattern,
		domain.InsightPriorityBehavior:   a.priorityBehavior,
	}

	for _, t := range insightOrder {
		if err := ctx.Err(); err != nil {
			report.Failed[t] = err
			continue
		}
		cands, err := computers[t](evts)
		if err != nil {
			a.Log.WithFields(logrus.Fields{"user_id": userID, "insight_type": t}).
				WithError(err).Warn("insight computation failed")
			report.Failed[t] = err
			continue
		}
		for _, c := range cands {
			if c.SampleSize < a.Config.Analyzer.MinSampleSize {
				report.Retained = append(report.Retained, t)
				continue
			}
			in, err := a.upsert(ctx, userID, t, c, nowStr)
			if err != nil {
				report.Failed[t] = err
				continue
			}
			report.Insights = append(report.Insights, in)
		}
	}

	if err := a.Repo.SetLastAnalysis(ctx, userID, nowStr); err != nil {
		return report, err
	}
	a.Log.WithFields(logrus.Fields{
		"user_id":  userID,
		"insights": len(report.Insights),
		"retained": len(report.Retained),
		"failed":   len(report.Failed),
	}).Debug("analysis pass complete")
	return report, nil
}

func (a Analyzer) upsert(ctx context.Context, userID string, t domain.InsightType, c candidate, nowStr string) (domain.Insight, error) {
	expires := a.now().UTC().Add(a.Config.Analyzer.InsightTTL.Std()).Format(time.RFC3339)
	in := domain.Insight{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        t,
		Category:    c.Category,
		Pattern:     c.Pattern,
		Confidence:  a.confidence(c.SampleSize),
		SampleSize:  c.SampleSize,
		Active:      true,
		LastUpdated: nowStr,
		ExpiresAt:   &expires,
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return in, err
	}
	defer tx.Rollback()
	if err := a.Repo.UpsertInsightTx(ctx, tx, in); err != nil {
		return in, err
	}
	return in, tx.Commit()
}

// confidence grows monotonically with sample size and saturates below 1.0,
// leaving room for revision.
func (a Analyzer) confidence(sampleSize int) float64 {
	if sampleSize <= 0 {
		return 0
	}
	c := 1 - 1/float64(sampleSize)
	if c < 0 {
		return 0
	}
	if c > a.Config.Analyzer.ConfidenceCap {
		return a.Config.Analyzer.ConfidenceCap
	}
	return c
}
