package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"focusflow/internal/config"
	"focusflow/internal/db"
	"focusflow/internal/domain"
	"focusflow/internal/engine"
	"focusflow/internal/events"
	"focusflow/internal/migrate"
)

var testNow = time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T) (engine.Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil).WithClock(func() time.Time { return testNow })
	return e, context.Background()
}

func eventTypes(t *testing.T, e engine.Engine, ctx context.Context, userID string) []domain.EventType {
	t.Helper()
	evts, err := e.Events.List(ctx, userID, events.Filter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := make([]domain.EventType, len(evts))
	for i, evt := range evts {
		types[i] = evt.Type
	}
	return types
}

func TestUpsertTaskFillsDefaultsAndEmitsCreated(t *testing.T) {
	e, ctx := newTestEnv(t)
	got, err := e.UpsertTask(ctx, domain.Task{UserID: "u-1", Title: "write report"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got.ID == "" {
		t.Fatal("no id assigned")
	}
	if got.TimeBlock != domain.BlockAnytime || got.Priority != domain.PriorityMedium ||
		got.EnergyLevel != domain.EnergyMedium || got.Status != domain.StatusPending {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.EstimatedMinutes != 30 {
		t.Fatalf("estimated_minutes = %d, want default 30", got.EstimatedMinutes)
	}

	types := eventTypes(t, e, ctx, "u-1")
	if len(types) != 1 || types[0] != domain.EventTaskCreated {
		t.Fatalf("events = %v, want [task_created]", types)
	}

	got.Title = "write the report"
	if _, err := e.UpsertTask(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	types = eventTypes(t, e, ctx, "u-1")
	if len(types) != 2 || types[1] != domain.EventTaskUpdated {
		t.Fatalf("events = %v, want created then updated", types)
	}
}

func TestUpsertTaskValidation(t *testing.T) {
	e, ctx := newTestEnv(t)
	if _, err := e.UpsertTask(ctx, domain.Task{Title: "no user"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing user err = %v", err)
	}
	if _, err := e.UpsertTask(ctx, domain.Task{UserID: "u-1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing title err = %v", err)
	}
}

func TestCompleteTaskEmitsEstimateActualPair(t *testing.T) {
	e, ctx := newTestEnv(t)
	task, err := e.UpsertTask(ctx, domain.Task{UserID: "u-1", Title: "deep work", EstimatedMinutes: 60})
	if err != nil {
		t.Fatal(err)
	}
	actual := 75
	done, err := e.CompleteTask(ctx, task.ID, &actual)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("not completed: %+v", done)
	}

	evts, err := e.Events.List(ctx, "u-1", events.Filter{Type: domain.EventTaskCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("completion events = %d, want 1", len(evts))
	}
	meta := evts[0].Metadata
	if meta["estimated_minutes"] != float64(60) || meta["actual_minutes"] != float64(75) {
		t.Fatalf("metadata = %v", meta)
	}

	if _, err := e.CompleteTask(ctx, task.ID, nil); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double complete err = %v, want ErrInvalidState", err)
	}
	if _, err := e.CompleteTask(ctx, "ghost", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown task err = %v, want ErrNotFound", err)
	}
}

func TestCarryOverSkipsFinishedTasks(t *testing.T) {
	e, ctx := newTestEnv(t)
	from, to := "2024-01-09", "2024-01-10"
	open, err := e.UpsertTask(ctx, domain.Task{UserID: "u-1", Title: "unfinished", Date: &from})
	if err != nil {
		t.Fatal(err)
	}
	done, err := e.UpsertTask(ctx, domain.Task{UserID: "u-1", Title: "finished", Date: &from})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CompleteTask(ctx, done.ID, nil); err != nil {
		t.Fatal(err)
	}

	carried, err := e.CarryOver(ctx, "u-1", from, to)
	if err != nil {
		t.Fatalf("carry over: %v", err)
	}
	if len(carried) != 1 || carried[0] != open.ID {
		t.Fatalf("carried = %v, want just %s", carried, open.ID)
	}

	moved, err := e.Repo.GetTask(ctx, open.ID)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Date == nil || *moved.Date != to {
		t.Fatalf("date = %v, want %s", moved.Date, to)
	}
	if moved.Status != domain.StatusCarriedOver {
		t.Fatalf("status = %s, want carried_over", moved.Status)
	}
	if moved.CarriedOverFrom == nil || *moved.CarriedOverFrom != from {
		t.Fatalf("carried_over_from = %v, want %s", moved.CarriedOverFrom, from)
	}

	evts, err := e.Events.List(ctx, "u-1", events.Filter{Type: domain.EventTaskMoved})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("move events = %d, want 1", len(evts))
	}
	if evts[0].Previous["date"] != from || evts[0].New["date"] != to {
		t.Fatalf("move payload = %v -> %v", evts[0].Previous, evts[0].New)
	}

	if _, err := e.CarryOver(ctx, "u-1", "", to); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing from err = %v", err)
	}
}

func TestDaySchedule(t *testing.T) {
	e, ctx := newTestEnv(t)
	date := "2024-01-10"
	morning, err := e.UpsertTask(ctx, domain.Task{
		UserID: "u-1", Title: "standup", Date: &date, TimeBlock: domain.BlockMorning,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpsertTask(ctx, domain.Task{
		UserID: "u-1", Title: "review", Date: &date, TimeBlock: domain.BlockAfternoon,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CompleteTask(ctx, morning.ID, nil); err != nil {
		t.Fatal(err)
	}

	s, err := e.DaySchedule(ctx, "u-1", date)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if s.Total != 2 || s.Completed != 1 || s.Progress != 0.5 {
		t.Fatalf("stats = %d/%d/%.2f", s.Completed, s.Total, s.Progress)
	}
	if len(s.Blocks[domain.BlockMorning]) != 1 || len(s.Blocks[domain.BlockAfternoon]) != 1 {
		t.Fatalf("blocks = %v", s.Blocks)
	}

	empty, err := e.DaySchedule(ctx, "u-1", "2024-02-01")
	if err != nil {
		t.Fatal(err)
	}
	if empty.Total != 0 || empty.Progress != 0 {
		t.Fatalf("empty day stats = %+v", empty)
	}
}

func TestRecordEventTriggersInlineAnalysis(t *testing.T) {
	e, ctx := newTestEnv(t)
	taskID := "t-1"
	if _, err := e.RecordEvent(ctx, domain.TaskEvent{
		UserID: "u-1",
		TaskID: &taskID,
		Type:   domain.EventTaskCompleted,
		Context: domain.EventContext{
			HourOfDay: 9, DayOfWeek: 3, TimeBlock: domain.BlockMorning,
		},
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	// the inline pass stamps its run even when samples are too sparse
	last, err := e.Repo.GetLastAnalysis(ctx, "u-1")
	if err != nil {
		t.Fatalf("last analysis: %v", err)
	}
	if last != testNow.Format(time.RFC3339) {
		t.Fatalf("last analysis = %s, want pinned clock", last)
	}
}

func TestDependencyPassthrough(t *testing.T) {
	e, ctx := newTestEnv(t)
	a, err := e.UpsertTask(ctx, domain.Task{UserID: "u-1", Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.UpsertTask(ctx, domain.Task{UserID: "u-1", Title: "b"})
	if err != nil {
		t.Fatal(err)
	}
	edge, err := e.AddDependency(ctx, "u-1", a.ID, b.ID)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	deps, err := e.ListDependencies(ctx, a.ID)
	if err != nil || len(deps) != 1 {
		t.Fatalf("deps = %v err = %v", deps, err)
	}
	blocking, err := e.ListBlocking(ctx, b.ID)
	if err != nil || len(blocking) != 1 {
		t.Fatalf("blocking = %v err = %v", blocking, err)
	}
	if _, err := e.AddDependency(ctx, "u-1", b.ID, a.ID); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("reverse edge err = %v, want ErrCycle", err)
	}
	if err := e.RemoveDependency(ctx, "u-1", a.ID, edge.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
