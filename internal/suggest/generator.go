// Package suggest turns insights, the live task set, and dependency readiness
// into ranked, typed suggestions, and owns their lifecycle.
package suggest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"focusflow/internal/config"
	"focusflow/internal/domain"
	"focusflow/internal/graph"
	"focusflow/internal/repo"
)

type Generator struct {
	DB     *sql.DB
	Repo   repo.Repo
	Graph  *graph.Manager
	Config *config.Config
	Now    func() time.Time
	Log    *logrus.Logger
}

func NewGenerator(db *sql.DB, g *graph.Manager, cfg *config.Config, log *logrus.Logger) Generator {
	if log == nil {
		log = logrus.New()
	}
	return Generator{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Graph:  g,
		Config: cfg,
		Now:    time.Now,
		Log:    log,
	}
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Report lists the checks that failed during one generation pass. A failing
// check is skipped, never fatal to the pass.
type Report struct {
	Failed map[domain.SuggestionType]error
}

// draft is a suggestion before dedup and persistence.
type draft struct {
	Type        domain.SuggestionType
	TaskID      *string
	Scope       string // extra dedup scope for task-unbound suggestions
	Title       string
	Description string
	Action      domain.Action
	Reasoning   string
	Confidence  float64
	Source      domain.SuggestionSource
}

// typeRank orders equal-confidence suggestions so the most actionable surface
// first.
var typeRank = map[domain.SuggestionType]int{
	domain.SuggestOverloadWarning: 0,
	domain.SuggestDependencyReady: 1,
	domain.SuggestStaleTask:       2,
	domain.SuggestReschedule:      3,
	domain.SuggestDailyPlan:       4,
	domain.SuggestBreakdown:       5,
	domain.SuggestTimeBlock:       6,
	domain.SuggestEnergyMatch:     7,
	domain.SuggestPriority:        8,
	domain.SuggestFocus:           9,
}

// Generate runs every rule and pattern check over the caller-supplied task set
// and persists the new suggestions. Pairs already covered by a pending
// suggestion are skipped, so re-running with no intervening changes is a
// no-op.
func (g Generator) Generate(ctx context.Context, userID string, tasks []domain.Task) ([]domain.Suggestion, Report, error) {
	report := Report{Failed: map[domain.SuggestionType]error{}}
	if userID == "" {
		return nil, report, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	insights, err := g.Repo.ListInsights(ctx, userID, true)
	if err != nil {
		return nil, report, fmt.Errorf("load insights: %w", err)
	}
	pending, err := g.Repo.PendingDedupKeys(ctx, userID)
	if err != nil {
		return nil, report, fmt.Errorf("load pending suggestions: %w", err)
	}

	env := genEnv{
		tasks:    tasks,
		insights: indexInsights(insights),
		today:    g.now().UTC().Format("2006-01-02"),
	}

	checks := []struct {
		t  domain.SuggestionType
		fn func(context.Context, genEnv) ([]draft, error)
	}{
		{domain.SuggestOverloadWarning, g.overloadWarnings},
		{domain.SuggestDependencyReady, g.dependencyReady},
		{domain.SuggestStaleTask, g.staleTasks},
		{domain.SuggestReschedule, g.reschedules},
		{domain.SuggestDailyPlan, g.dailyPlan},
		{domain.SuggestBreakdown, g.breakdowns},
		{domain.SuggestTimeBlock, g.timeBlockMismatches},
		{domain.SuggestEnergyMatch, g.energyMismatches},
		{domain.SuggestPriority, g.priorityEscalations},
		{domain.SuggestFocus, g.focusRecommendations},
	}

	var drafts []draft
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			report.Failed[check.t] = err
			continue
		}
		ds, err := check.fn(ctx, env)
		if err != nil {
			g.Log.WithFields(logrus.Fields{"user_id": userID, "suggestion_type": check.t}).
				WithError(err).Warn("suggestion check failed")
			report.Failed[check.t] = err
			continue
		}
		drafts = append(drafts, ds...)
	}

	nowStr := g.now().UTC().Format(time.RFC3339)
	expires := g.now().UTC().Add(g.Config.Suggestions.TTL.Std()).Format(time.RFC3339)
	var created []domain.Suggestion
	for _, d := range drafts {
		key := repo.DedupKey(userID, d.TaskID, d.Type, d.Scope)
		if pending[key] {
			continue
		}
		s := domain.Suggestion{
			ID:          uuid.New().String(),
			UserID:      userID,
			TaskID:      d.TaskID,
			Type:        d.Type,
			Title:       d.Title,
			Description: d.Description,
			Action:      d.Action,
			Reasoning:   d.Reasoning,
			Confidence:  d.Confidence,
			Source:      d.Source,
			Status:      domain.SuggestionPending,
			ExpiresAt:   expires,
			CreatedAt:   nowStr,
		}
		inserted, err := g.Repo.InsertSuggestion(ctx, s, key)
		if err != nil {
			report.Failed[d.Type] = err
			continue
		}
		if inserted {
			created = append(created, s)
		}
	}

	sort.SliceStable(created, func(i, j int) bool {
		if created[i].Confidence != created[j].Confidence {
			return created[i].Confidence > created[j].Confidence
		}
		return typeRank[created[i].Type] < typeRank[created[j].Type]
	})
	return created, report, nil
}

// genEnv is the shared read-only input to every check.
type genEnv struct {
	tasks    []domain.Task
	insights insightIndex
	today    string
}

func (e genEnv) pending() []domain.Task {
	var out []domain.Task
	for _, t := range e.tasks {
		if t.Status == domain.StatusPending || t.Status == domain.StatusCarriedOver {
			out = append(out, t)
		}
	}
	return out
}

type insightIndex struct {
	unscoped map[domain.InsightType]domain.Insight
	byEnergy map[domain.EnergyLevel]domain.Insight
}

func indexInsights(insights []domain.Insight) insightIndex {
	idx := insightIndex{
		unscoped: map[domain.InsightType]domain.Insight{},
		byEnergy: map[domain.EnergyLevel]domain.Insight{},
	}
	for _, in := range insights {
		switch in.Type {
		case domain.InsightEnergyPattern:
			idx.byEnergy[in.Pattern.EnergyLevel] = in
		case domain.InsightProjectTiming:
			// project scoping is not consumed by any current check
		default:
			idx.unscoped[in.Type] = in
		}
	}
	return idx
}

var priorityRank = map[domain.Priority]int{
	domain.PriorityUrgent: 3,
	domain.PriorityHigh:   2,
	domain.PriorityMedium: 1,
	domain.PriorityLow:    0,
}
