package analyzer_test

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"focusflow/internal/analyzer"
	"focusflow/internal/config"
	"focusflow/internal/db"
	"focusflow/internal/domain"
	"focusflow/internal/events"
	"focusflow/internal/migrate"
	"focusflow/internal/repo"
)

type testEnv struct {
	DB       *sql.DB
	Analyzer analyzer.Analyzer
	Events   events.Store
	Repo     repo.Repo
	Config   *config.Config
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	a := analyzer.New(conn, cfg, nil)
	now := func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	a.Now = now
	return testEnv{
		DB:       conn,
		Analyzer: a,
		Events:   events.Store{DB: conn, Now: now},
		Repo:     repo.Repo{DB: conn},
		Config:   cfg,
		Ctx:      context.Background(),
	}
}

func (env testEnv) completion(t *testing.T, day, hour int, block domain.TimeBlock, meta map[string]any) {
	t.Helper()
	_, err := env.Events.Record(env.Ctx, domain.TaskEvent{
		UserID: "u-1",
		Type:   domain.EventTaskCompleted,
		Context: domain.EventContext{
			HourOfDay: hour,
			DayOfWeek: day % 7,
			TimeBlock: block,
		},
		Metadata:  meta,
		CreatedAt: time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("seed completion: %v", err)
	}
}

func findInsight(items []domain.Insight, t domain.InsightType) (domain.Insight, bool) {
	for _, in := range items {
		if in.Type == t {
			return in, true
		}
	}
	return domain.Insight{}, false
}

func TestTimePreferenceFromMorningCompletions(t *testing.T) {
	env := newTestEnv(t)
	for day := 1; day <= 6; day++ {
		env.completion(t, day, 9, domain.BlockMorning, nil)
	}
	rep, err := env.Analyzer.Analyze(env.Ctx, "u-1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	in, ok := findInsight(rep.Insights, domain.InsightTimePreference)
	if !ok {
		t.Fatalf("no time_preference insight in %+v", rep.Insights)
	}
	if in.Pattern.PreferredTimeBlock != domain.BlockMorning {
		t.Fatalf("preferred block = %q, want morning", in.Pattern.PreferredTimeBlock)
	}
	if in.SampleSize != 6 {
		t.Fatalf("sample size = %d, want 6", in.SampleSize)
	}
	want := 1 - 1.0/6
	if math.Abs(in.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", in.Confidence, want)
	}
}

func TestConfidenceIsCapped(t *testing.T) {
	env := newTestEnv(t)
	for day := 1; day <= 25; day++ {
		env.completion(t, day, 9, domain.BlockMorning, nil)
	}
	rep, err := env.Analyzer.Analyze(env.Ctx, "u-1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	in, ok := findInsight(rep.Insights, domain.InsightTimePreference)
	if !ok {
		t.Fatal("no time_preference insight")
	}
	// 1 - 1/25 = 0.96 exceeds the cap
	if in.Confidence != env.Config.Analyzer.ConfidenceCap {
		t.Fatalf("confidence = %v, want cap %v", in.Confidence, env.Config.Analyzer.ConfidenceCap)
	}
}

func TestSparseSampleRetainsPreviousInsight(t *testing.T) {
	env := newTestEnv(t)
	for day := 1; day <= 6; day++ {
		env.completion(t, day, 9, domain.BlockMorning, nil)
	}
	if _, err := env.Analyzer.Analyze(env.Ctx, "u-1"); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	first, err := env.Repo.GetActiveInsight(env.Ctx, "u-1", domain.InsightTimePreference, "||")
	if err != nil {
		t.Fatalf("get first insight: %v", err)
	}

	// A second user with only 3 completions stays below the minimum.
	env2 := env
	env2.Events = events.Store{DB: env.DB, Now: env.Analyzer.Now}
	for day := 1; day <= 3; day++ {
		_, err := env2.Events.Record(env.Ctx, domain.TaskEvent{
			UserID:    "u-2",
			Type:      domain.EventTaskCompleted,
			Context:   domain.EventContext{HourOfDay: 20, TimeBlock: domain.BlockEvening},
			CreatedAt: time.Date(2024, 1, day, 20, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	rep, err := env.Analyzer.Analyze(env.Ctx, "u-2")
	if err != nil {
		t.Fatalf("analyze sparse user: %v", err)
	}
	if len(rep.Insights) != 0 {
		t.Fatalf("sparse user produced insights: %+v", rep.Insights)
	}
	if len(rep.Retained) == 0 {
		t.Fatal("expected retained types for sparse sample")
	}

	// The first user's insight is untouched.
	again, err := env.Repo.GetActiveInsight(env.Ctx, "u-1", domain.InsightTimePreference, "||")
	if err != nil || again.ID != first.ID {
		t.Fatalf("first user's insight changed: %v %q vs %q", err, again.ID, first.ID)
	}
}

func TestReanalysisSupersedesActiveInsight(t *testing.T) {
	env := newTestEnv(t)
	for day := 1; day <= 6; day++ {
		env.completion(t, day, 9, domain.BlockMorning, nil)
	}
	if _, err := env.Analyzer.Analyze(env.Ctx, "u-1"); err != nil {
		t.Fatal(err)
	}
	// Eight evening completions now outweigh the six morning ones.
	for day := 11; day <= 18; day++ {
		env.completion(t, day, 20, domain.BlockEvening, nil)
	}
	if _, err := env.Analyzer.Analyze(env.Ctx, "u-1"); err != nil {
		t.Fatal(err)
	}
	active, err := env.Repo.ListInsights(env.Ctx, "u-1", true)
	if err != nil {
		t.Fatal(err)
	}
	seen := 0
	for _, in := range active {
		if in.Type == domain.InsightTimePreference {
			seen++
			if in.Pattern.PreferredTimeBlock != domain.BlockEvening {
				t.Fatalf("preferred block = %q, want evening after refresh", in.Pattern.PreferredTimeBlock)
			}
			if in.SampleSize != 14 {
				t.Fatalf("sample size = %d, want 14", in.SampleSize)
			}
		}
	}
	if seen != 1 {
		t.Fatalf("active time_preference count = %d, want exactly 1", seen)
	}
}

func TestEstimationAccuracy(t *testing.T) {
	env := newTestEnv(t)
	env.Config.Analyzer.MinSampleSize = 3
	actuals := []float64{90, 85, 95, 80}
	for i, actual := range actuals {
		env.completion(t, i+1, 10, domain.BlockMorning, map[string]any{
			"estimated_minutes": 60.0,
			"actual_minutes":    actual,
		})
	}
	rep, err := env.Analyzer.Analyze(env.Ctx, "u-1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	in, ok := findInsight(rep.Insights, domain.InsightEstimationAccuracy)
	if !ok {
		t.Fatal("no estimation_accuracy insight")
	}
	want := (90.0/60 + 85.0/60 + 95.0/60 + 80.0/60) / 4
	if math.Abs(in.Pattern.EstimationAccuracy-want) > 1e-9 {
		t.Fatalf("accuracy = %v, want %v", in.Pattern.EstimationAccuracy, want)
	}
	if in.SampleSize != 4 {
		t.Fatalf("sample size = %d, want 4", in.SampleSize)
	}
}

func TestEnergyPatternIsScopedPerLevel(t *testing.T) {
	env := newTestEnv(t)
	for day := 1; day <= 5; day++ {
		_, err := env.Events.Record(env.Ctx, domain.TaskEvent{
			UserID: "u-1",
			Type:   domain.EventTaskCompleted,
			Context: domain.EventContext{
				HourOfDay: 9, TimeBlock: domain.BlockMorning,
				EnergyLevel: domain.EnergyHigh,
			},
			CreatedAt: time.Date(2024, 1, day, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for day := 1; day <= 5; day++ {
		_, err := env.Events.Record(env.Ctx, domain.TaskEvent{
			UserID: "u-1",
			Type:   domain.EventTaskCompleted,
			Context: domain.EventContext{
				HourOfDay: 20, TimeBlock: domain.BlockEvening,
				EnergyLevel: domain.EnergyLow,
			},
			CreatedAt: time.Date(2024, 1, day, 20, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	rep, err := env.Analyzer.Analyze(env.Ctx, "u-1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var high, low *domain.Insight
	for i := range rep.Insights {
		in := rep.Insights[i]
		if in.Type != domain.InsightEnergyPattern {
			continue
		}
		switch in.Pattern.EnergyLevel {
		case domain.EnergyHigh:
			high = &rep.Insights[i]
		case domain.EnergyLow:
			low = &rep.Insights[i]
		}
	}
	if high == nil || low == nil {
		t.Fatalf("missing per-level insights: high=%v low=%v", high, low)
	}
	if high.Pattern.PreferredTimeBlock != domain.BlockMorning {
		t.Fatalf("high energy block = %q, want morning", high.Pattern.PreferredTimeBlock)
	}
	if low.Pattern.PreferredTimeBlock != domain.BlockEvening {
		t.Fatalf("low energy block = %q, want evening", low.Pattern.PreferredTimeBlock)
	}
}

func TestRolloverPattern(t *testing.T) {
	env := newTestEnv(t)
	taskA, taskB := "task-a", "task-b"
	// task-a moved 4 times, task-b moved twice: 6 moves over 2 tasks.
	for day := 1; day <= 4; day++ {
		_, err := env.Events.Record(env.Ctx, domain.TaskEvent{
			UserID: "u-1", TaskID: &taskA, Type: domain.EventTaskMoved,
			CreatedAt: time.Date(2024, 1, day, 8, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	for day := 5; day <= 6; day++ {
		_, err := env.Events.Record(env.Ctx, domain.TaskEvent{
			UserID: "u-1", TaskID: &taskB, Type: domain.EventTaskMoved,
			CreatedAt: time.Date(2024, 1, day, 8, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	rep, err := env.Analyzer.Analyze(env.Ctx, "u-1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	in, ok := findInsight(rep.Insights, domain.InsightRolloverPattern)
	if !ok {
		t.Fatal("no rollover_pattern insight")
	}
	if in.Pattern.AvgRolloverCount != 3 {
		t.Fatalf("avg rollover = %v, want 3", in.Pattern.AvgRolloverCount)
	}
}

func TestExpiredInsightsDeactivatedBeforePass(t *testing.T) {
	env := newTestEnv(t)
	past := "2024-01-01T00:00:00Z"
	stale := domain.Insight{
		ID: "old", UserID: "u-1", Type: domain.InsightTimePreference,
		Pattern: domain.Pattern{PreferredTimeBlock: domain.BlockMorning},
		Confidence: 0.8, SampleSize: 6, Active: true,
		LastUpdated: past, ExpiresAt: &past,
	}
	tx, err := env.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Repo.UpsertInsightTx(env.Ctx, tx, stale); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Analyzer.Analyze(env.Ctx, "u-1"); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	active, err := env.Repo.ListInsights(env.Ctx, "u-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("expired insight still active: %+v", active)
	}
}
