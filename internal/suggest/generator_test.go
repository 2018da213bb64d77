package suggest_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"focusflow/internal/config"
	"focusflow/internal/db"
	"focusflow/internal/domain"
	"focusflow/internal/graph"
	"focusflow/internal/migrate"
	"focusflow/internal/repo"
	"focusflow/internal/suggest"
)

var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	DB        *sql.DB
	Generator suggest.Generator
	Lifecycle suggest.Lifecycle
	Graph     *graph.Manager
	Repo      repo.Repo
	Config    *config.Config
	Ctx       context.Context
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
	g := graph.New(conn)
	gen := suggest.NewGenerator(conn, g, cfg, nil)
	now := func() time.Time { return testNow }
	gen.Now = now
	g.Now = now
	lc := suggest.NewLifecycle(conn)
	lc.Now = now
	return testEnv{
		DB:        conn,
		Generator: gen,
		Lifecycle: lc,
		Graph:     g,
		Repo:      repo.Repo{DB: conn},
		Config:    cfg,
		Ctx:       context.Background(),
	}
}

func (env testEnv) task(t *testing.T, id string, mut func(*domain.Task)) domain.Task {
	t.Helper()
	nowStr := testNow.Format(time.RFC3339)
	task := domain.Task{
		ID: id, UserID: "u-1", Title: id,
		TimeBlock: domain.BlockAnytime, EstimatedMinutes: 30,
		Priority: domain.PriorityMedium, EnergyLevel: domain.EnergyMedium,
		Status:    domain.StatusPending,
		CreatedAt: nowStr, UpdatedAt: nowStr,
	}
	if mut != nil {
		mut(&task)
	}
	if err := env.Repo.UpsertTask(env.Ctx, task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
	return task
}

func (env testEnv) generate(t *testing.T) []domain.Suggestion {
	t.Helper()
	tasks, err := env.Repo.ListTasks(env.Ctx, "u-1", repo.TaskFilters{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	created, rep, err := env.Generator.Generate(env.Ctx, "u-1", tasks)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for typ, ferr := range rep.Failed {
		t.Fatalf("check %s failed: %v", typ, ferr)
	}
	return created
}

func (env testEnv) seedInsight(t *testing.T, in domain.Insight) {
	t.Helper()
	in.UserID = "u-1"
	in.Active = true
	if in.ID == "" {
		in.ID = "in-" + string(in.Type)
	}
	if in.LastUpdated == "" {
		in.LastUpdated = testNow.Format(time.RFC3339)
	}
	tx, err := env.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Repo.UpsertInsightTx(env.Ctx, tx, in); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func countByType(items []domain.Suggestion, typ domain.SuggestionType) int {
	n := 0
	for _, s := range items {
		if s.Type == typ {
			n++
		}
	}
	return n
}

func TestOverloadWarningFiresOncePerSlot(t *testing.T) {
	env := newTestEnv(t)
	date := "2024-01-10"
	for i := 0; i < 5; i++ {
		env.task(t, "m"+string(rune('a'+i)), func(task *domain.Task) {
			task.Date = &date
			task.TimeBlock = domain.BlockMorning
		})
	}
	// a slot at the threshold stays quiet
	for i := 0; i < 4; i++ {
		env.task(t, "e"+string(rune('a'+i)), func(task *domain.Task) {
			task.Date = &date
			task.TimeBlock = domain.BlockEvening
		})
	}
	created := env.generate(t)
	if n := countByType(created, domain.SuggestOverloadWarning); n != 1 {
		t.Fatalf("overload warnings = %d, want 1", n)
	}
}

func TestGenerateIsIdempotentWhileUnanswered(t *testing.T) {
	env := newTestEnv(t)
	past := "2024-01-05"
	env.task(t, "late", func(task *domain.Task) { task.Date = &past })

	first := env.generate(t)
	if countByType(first, domain.SuggestReschedule) != 1 {
		t.Fatalf("first pass: %+v", first)
	}
	second := env.generate(t)
	if len(second) != 0 {
		t.Fatalf("second pass created %d suggestions, want 0", len(second))
	}

	// responding frees the pair for a future pass
	if _, err := env.Lifecycle.Respond(env.Ctx, first[0].ID, false); err != nil {
		t.Fatalf("respond: %v", err)
	}
	third := env.generate(t)
	if countByType(third, domain.SuggestReschedule) != 1 {
		t.Fatalf("third pass after dismiss: %+v", third)
	}
}

func TestRescheduleTargetsToday(t *testing.T) {
	env := newTestEnv(t)
	past := "2024-01-05"
	env.task(t, "late", func(task *domain.Task) { task.Date = &past })
	created := env.generate(t)
	var found *domain.Suggestion
	for i := range created {
		if created[i].Type == domain.SuggestReschedule {
			found = &created[i]
		}
	}
	if found == nil {
		t.Fatalf("no reschedule in %+v", created)
	}
	mv, ok := found.Action.(domain.MoveDateAction)
	if !ok || mv.TargetDate != "2024-01-10" {
		t.Fatalf("action = %#v, want move to 2024-01-10", found.Action)
	}
}

func TestBreakdownForLargeUnstructuredTask(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "big", func(task *domain.Task) { task.EstimatedMinutes = 120 })
	env.task(t, "structured", func(task *domain.Task) {
		task.EstimatedMinutes = 120
		task.Subtasks = []domain.Subtask{{ID: "s1", Title: "part"}}
	})
	env.task(t, "small", func(task *domain.Task) { task.EstimatedMinutes = 45 })

	created := env.generate(t)
	if n := countByType(created, domain.SuggestBreakdown); n != 1 {
		t.Fatalf("breakdowns = %d, want 1", n)
	}
	for _, s := range created {
		if s.Type != domain.SuggestBreakdown {
			continue
		}
		bd := s.Action.(domain.BreakdownAction)
		if len(bd.SuggestedSubtasks) != 3 {
			t.Fatalf("subtask drafts = %d, want 3", len(bd.SuggestedSubtasks))
		}
		total := 0
		for _, d := range bd.SuggestedSubtasks {
			total += d.EstimatedMinutes
		}
		if total != 120 {
			t.Fatalf("draft minutes sum = %d, want 120", total)
		}
	}
}

func TestDependencyReady(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "dep", func(task *domain.Task) { task.Status = domain.StatusCompleted })
	env.task(t, "blocked", nil)
	env.task(t, "open-dep", nil)
	env.task(t, "still-blocked", nil)
	if _, err := env.Graph.AddEdge(env.Ctx, "u-1", "blocked", "dep"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Graph.AddEdge(env.Ctx, "u-1", "still-blocked", "open-dep"); err != nil {
		t.Fatal(err)
	}
	created := env.generate(t)
	ready := 0
	for _, s := range created {
		if s.Type == domain.SuggestDependencyReady {
			ready++
			if s.TaskID == nil || *s.TaskID != "blocked" {
				t.Fatalf("ready suggestion targets %v, want blocked", s.TaskID)
			}
		}
	}
	if ready != 1 {
		t.Fatalf("dependency_ready = %d, want 1", ready)
	}
}

func TestDailyPlanPicksTopPriorities(t *testing.T) {
	env := newTestEnv(t)
	today := "2024-01-10"
	for _, spec := range []struct {
		id string
		pr domain.Priority
	}{
		{"low", domain.PriorityLow},
		{"med", domain.PriorityMedium},
		{"high", domain.PriorityHigh},
		{"urgent", domain.PriorityUrgent},
	} {
		env.task(t, spec.id, func(task *domain.Task) {
			task.Date = &today
			task.Priority = spec.pr
		})
	}
	created := env.generate(t)
	var plan *domain.Suggestion
	for i := range created {
		if created[i].Type == domain.SuggestDailyPlan {
			plan = &created[i]
		}
	}
	if plan == nil {
		t.Fatalf("no daily_plan in %+v", created)
	}
	focus := plan.Action.(domain.FocusAction)
	if len(focus.TaskIDs) != 3 {
		t.Fatalf("plan size = %d, want 3", len(focus.TaskIDs))
	}
	if focus.TaskIDs[0] != "urgent" {
		t.Fatalf("plan head = %q, want urgent", focus.TaskIDs[0])
	}
	for _, id := range focus.TaskIDs {
		if id == "low" {
			t.Fatal("lowest priority task made the cut")
		}
	}
}

func TestTimeBlockMismatchNeedsConfidentInsight(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "evening-task", func(task *domain.Task) { task.TimeBlock = domain.BlockEvening })

	// below the floor: silent
	env.seedInsight(t, domain.Insight{
		ID: "weak", Type: domain.InsightTimePreference,
		Pattern:    domain.Pattern{PreferredTimeBlock: domain.BlockMorning},
		Confidence: 0.5, SampleSize: 2,
	})
	created := env.generate(t)
	if countByType(created, domain.SuggestTimeBlock) != 0 {
		t.Fatalf("low-confidence insight produced suggestions: %+v", created)
	}

	env.seedInsight(t, domain.Insight{
		ID: "strong", Type: domain.InsightTimePreference,
		Pattern:    domain.Pattern{PreferredTimeBlock: domain.BlockMorning},
		Confidence: 0.85, SampleSize: 7,
	})
	created = env.generate(t)
	var tb *domain.Suggestion
	for i := range created {
		if created[i].Type == domain.SuggestTimeBlock {
			tb = &created[i]
		}
	}
	if tb == nil {
		t.Fatalf("no time_block suggestion in %+v", created)
	}
	if tb.Confidence != 0.85 || tb.Source != domain.SourcePattern {
		t.Fatalf("suggestion carries %v/%v, want insight confidence and pattern source", tb.Confidence, tb.Source)
	}
	mv := tb.Action.(domain.MoveTimeBlockAction)
	if mv.TargetTimeBlock != domain.BlockMorning {
		t.Fatalf("target block = %q, want morning", mv.TargetTimeBlock)
	}
}

func TestEnergyMatchFallbackMapping(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "deep-work", func(task *domain.Task) {
		task.TimeBlock = domain.BlockEvening
		task.EnergyLevel = domain.EnergyHigh
	})
	created := env.generate(t)
	var em *domain.Suggestion
	for i := range created {
		if created[i].Type == domain.SuggestEnergyMatch {
			em = &created[i]
		}
	}
	if em == nil {
		t.Fatalf("no energy_match in %+v", created)
	}
	if em.Source != domain.SourceRule {
		t.Fatalf("source = %v, want rule fallback", em.Source)
	}
	mv := em.Action.(domain.MoveTimeBlockAction)
	if mv.TargetTimeBlock != domain.BlockMorning {
		t.Fatalf("high energy maps to %q, want morning", mv.TargetTimeBlock)
	}
}

func TestRankingConfidenceThenType(t *testing.T) {
	env := newTestEnv(t)
	date := "2024-01-10"
	// five morning tasks trip the overload rule at confidence 0.9
	for i := 0; i < 5; i++ {
		env.task(t, "m"+string(rune('a'+i)), func(task *domain.Task) {
			task.Date = &date
			task.TimeBlock = domain.BlockMorning
		})
	}
	created := env.generate(t)
	if len(created) < 2 {
		t.Fatalf("want several suggestions, got %+v", created)
	}
	for i := 1; i < len(created); i++ {
		if created[i].Confidence > created[i-1].Confidence {
			t.Fatalf("ranking broken at %d: %v after %v", i, created[i].Confidence, created[i-1].Confidence)
		}
	}
	if created[0].Type != domain.SuggestOverloadWarning {
		t.Fatalf("head = %v, want overload warning first among equals", created[0].Type)
	}
}
