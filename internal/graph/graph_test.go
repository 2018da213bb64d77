package graph_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"focusflow/internal/db"
	"focusflow/internal/domain"
	"focusflow/internal/graph"
	"focusflow/internal/migrate"
	"focusflow/internal/repo"
)

type testEnv struct {
	DB      *sql.DB
	Manager *graph.Manager
	Repo    repo.Repo
	Ctx     context.Context
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
	m := graph.New(conn)
	m.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{DB: conn, Manager: m, Repo: repo.Repo{DB: conn}, Ctx: context.Background()}
}

func (env testEnv) seedTask(t *testing.T, userID, id string) {
	t.Helper()
	task := domain.Task{
		ID: id, UserID: userID, Title: id,
		TimeBlock: domain.BlockAnytime, EstimatedMinutes: 30,
		Priority: domain.PriorityMedium, EnergyLevel: domain.EnergyMedium,
		Status:    domain.StatusPending,
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}
	if err := env.Repo.UpsertTask(env.Ctx, task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
}

func (env testEnv) complete(t *testing.T, id string) {
	t.Helper()
	task, err := env.Repo.GetTask(env.Ctx, id)
	if err != nil {
		t.Fatalf("get task %s: %v", id, err)
	}
	task.Status = domain.StatusCompleted
	if err := env.Repo.UpsertTask(env.Ctx, task); err != nil {
		t.Fatalf("complete task %s: %v", id, err)
	}
}

func TestAddEdgeRejections(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "u-1", "a")
	env.seedTask(t, "u-1", "b")
	env.seedTask(t, "u-2", "theirs")

	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "a"); !errors.Is(err, domain.ErrSelfDependency) {
		t.Fatalf("self edge: err = %v, want ErrSelfDependency", err)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown task: err = %v, want ErrNotFound", err)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "theirs"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign task: err = %v, want ErrNotFound", err)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "b"); err != nil {
		t.Fatalf("valid edge: %v", err)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "b"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate edge: err = %v, want ErrConflict", err)
	}
}

func TestCycleDetection(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		env.seedTask(t, "u-1", id)
	}
	// a -> b -> c
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "b", "c"); err != nil {
		t.Fatal(err)
	}
	// c -> a would close the loop
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "c", "a"); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
	// the failed attempt must leave no edge behind
	refs, err := env.Manager.ListDependencies(env.Ctx, "c")
	if err != nil || len(refs) != 0 {
		t.Fatalf("rejected edge persisted: %v (%d)", err, len(refs))
	}
}

func TestRemoveEdge(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "u-1", "a")
	env.seedTask(t, "u-1", "b")
	edge, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Manager.RemoveEdge(env.Ctx, "u-1", "a", edge.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.Manager.RemoveEdge(env.Ctx, "u-1", "a", edge.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second remove: err = %v, want ErrNotFound", err)
	}
	// removal reopens the path for the reverse edge
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "b", "a"); err != nil {
		t.Fatalf("reverse edge after removal: %v", err)
	}
}

func TestListDirections(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		env.seedTask(t, "u-1", id)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "c", "b"); err != nil {
		t.Fatal(err)
	}
	deps, err := env.Manager.ListDependencies(env.Ctx, "a")
	if err != nil || len(deps) != 1 || deps[0].Task.ID != "b" {
		t.Fatalf("dependencies of a: %v %+v", err, deps)
	}
	blocking, err := env.Manager.ListBlocking(env.Ctx, "b")
	if err != nil || len(blocking) != 2 {
		t.Fatalf("blocking of b: %v (%d)", err, len(blocking))
	}
}

func TestIsReady(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "u-1", "a")
	env.seedTask(t, "u-1", "b")
	env.seedTask(t, "u-1", "c")
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", "a", "c"); err != nil {
		t.Fatal(err)
	}
	ready, err := env.Manager.IsReady(env.Ctx, "a")
	if err != nil || ready {
		t.Fatalf("open deps: ready=%v err=%v", ready, err)
	}
	env.complete(t, "b")
	ready, err = env.Manager.IsReady(env.Ctx, "a")
	if err != nil || ready {
		t.Fatalf("one dep open: ready=%v err=%v", ready, err)
	}
	env.complete(t, "c")
	ready, err = env.Manager.IsReady(env.Ctx, "a")
	if err != nil || !ready {
		t.Fatalf("all deps done: ready=%v err=%v", ready, err)
	}
	// no dependencies means ready
	env.seedTask(t, "u-1", "lone")
	ready, err = env.Manager.IsReady(env.Ctx, "lone")
	if err != nil || !ready {
		t.Fatalf("no deps: ready=%v err=%v", ready, err)
	}
}

// Two opposing edges raced concurrently must never both land: whichever
// commits second has to see the first and fail the cycle check.
func TestConcurrentOpposingEdges(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "u-1", "a")
	env.seedTask(t, "u-1", "b")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	pairs := [][2]string{{"a", "b"}, {"b", "a"}}
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, from, to string) {
			defer wg.Done()
			_, errs[i] = env.Manager.AddEdge(env.Ctx, "u-1", from, to)
		}(i, p[0], p[1])
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, domain.ErrCycle) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("got %d failures, want exactly 1 (errs: %v)", failures, errs)
	}

	var count int
	if err := env.DB.QueryRow(`SELECT COUNT(*) FROM task_dependencies`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("edge count = %d, want 1", count)
	}
}

func TestDeepChainStaysLinear(t *testing.T) {
	env := newTestEnv(t)
	const n = 50
	for i := 0; i < n; i++ {
		env.seedTask(t, "u-1", fmt.Sprintf("t%02d", i))
	}
	for i := 0; i < n-1; i++ {
		if _, err := env.Manager.AddEdge(env.Ctx, "u-1", fmt.Sprintf("t%02d", i), fmt.Sprintf("t%02d", i+1)); err != nil {
			t.Fatalf("edge %d: %v", i, err)
		}
	}
	// closing the long chain is still caught
	if _, err := env.Manager.AddEdge(env.Ctx, "u-1", fmt.Sprintf("t%02d", n-1), "t00"); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
}
