// Package engine is the facade over the intelligence core: it wires the event
// store, dependency graph, analyzer, and suggestion pipeline, and exposes the
// operations the surrounding CRUD/API layer calls.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"focusflow/internal/analyzer"
	"focusflow/internal/config"
	"focusflow/internal/domain"
	"focusflow/internal/events"
	"focusflow/internal/graph"
	"focusflow/internal/repo"
	"focusflow/internal/suggest"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Store
	Graph     *graph.Manager
	Analyzer  analyzer.Analyzer
	Generator suggest.Generator
	Lifecycle suggest.Lifecycle
	Config    *config.Config
	Now       func() time.Time
	Log       *logrus.Logger
}

func New(db *sql.DB, cfg *config.Config, log *logrus.Logger) Engine {
	if log == nil {
		log = logrus.New()
	}
	g := graph.New(db)
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Store{DB: db},
		Graph:     g,
		Analyzer:  analyzer.New(db, cfg, log),
		Generator: suggest.NewGenerator(db, g, cfg, log),
		Lifecycle: suggest.NewLifecycle(db),
		Config:    cfg,
		Now:       time.Now,
		Log:       log,
	}
}

// WithClock pins every component's clock, for tests and replays.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Graph.Now = now
	e.Analyzer.Now = now
	e.Generator.Now = now
	e.Lifecycle.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RecordEvent appends a behavior event and, at most once per configured
// interval per user, refreshes that user's insights inline. An analysis
// failure is logged, never surfaced to the event producer.
func (e Engine) RecordEvent(ctx context.Context, evt domain.TaskEvent) (domain.TaskEvent, error) {
	recorded, err := e.Events.Record(ctx, evt)
	if err != nil {
		return recorded, err
	}
	e.maybeAnalyze(ctx, recorded.UserID)
	return recorded, nil
}

func (e Engine) maybeAnalyze(ctx context.Context, userID string) {
	last, err := e.Repo.GetLastAnalysis(ctx, userID)
	if err == nil {
		lastRun, parseErr := time.Parse(time.RFC3339, last)
		if parseErr == nil && e.now().UTC().Sub(lastRun) < e.Config.Analyzer.RunEvery.Std() {
			return
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		e.Log.WithError(err).Warn("read last analysis time")
		return
	}
	if _, err := e.Analyze(ctx, userID); err != nil {
		e.Log.WithField("user_id", userID).WithError(err).Warn("inline analysis failed")
	}
}

// Analyze refreshes the user's insights under the configured time budget.
func (e Engine) Analyze(ctx context.Context, userID string) (analyzer.Report, error) {
	if budget := e.Config.Analyzer.Budget.Std(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	return e.Analyzer.Analyze(ctx, userID)
}

// Generate runs a suggestion pass over the user's current task set.
func (e Engine) Generate(ctx context.Context, userID string) ([]domain.Suggestion, suggest.Report, error) {
	tasks, err := e.Repo.ListTasks(ctx, userID, repo.TaskFilters{})
	if err != nil {
		return nil, suggest.Report{}, fmt.Errorf("load tasks: %w", err)
	}
	if budget := e.Config.Suggestions.Budget.Std(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	return e.Generator.Generate(ctx, userID, tasks)
}

func (e Engine) ListInsights(ctx context.Context, userID string) ([]domain.Insight, error) {
	return e.Repo.ListInsights(ctx, userID, true)
}

func (e Engine) ListSuggestions(ctx context.Context, userID string, status domain.SuggestionStatus) ([]domain.Suggestion, error) {
	return e.Repo.ListSuggestions(ctx, userID, status)
}

func (e Engine) RespondToSuggestion(ctx context.Context, suggestionID string, accepted bool) (domain.Suggestion, error) {
	return e.Lifecycle.Respond(ctx, suggestionID, accepted)
}

// ExpireSuggestions is the periodic sweep moving overdue pending suggestions
// to expired.
func (e Engine) ExpireSuggestions(ctx context.Context) (int64, error) {
	return e.Lifecycle.ExpirePending(ctx)
}

func (e Engine) AddDependency(ctx context.Context, userID, taskID, dependsOnID string) (domain.DependencyEdge, error) {
	return e.Graph.AddEdge(ctx, userID, taskID, dependsOnID)
}

func (e Engine) RemoveDependency(ctx context.Context, userID, taskID, edgeID string) error {
	return e.Graph.RemoveEdge(ctx, userID, taskID, edgeID)
}

func (e Engine) ListDependencies(ctx context.Context, taskID string) ([]domain.DependencyRef, error) {
	return e.Graph.ListDependencies(ctx, taskID)
}

func (e Engine) ListBlocking(ctx context.Context, taskID string) ([]domain.DependencyRef, error) {
	return e.Graph.ListBlocking(ctx, taskID)
}
