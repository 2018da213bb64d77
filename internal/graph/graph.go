// Package graph maintains the per-user directed dependency graph over tasks
// and keeps it acyclic.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"focusflow/internal/domain"
	"focusflow/internal/repo"
)

type Manager struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func New(db *sql.DB) *Manager {
	return &Manager{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Now:   time.Now,
		users: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing graph mutations for one user. The
// check-then-insert sequence in AddEdge must not race against itself, or two
// stale cycle checks could both pass and admit a cycle.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]*sync.Mutex)
	}
	l, ok := m.users[userID]
	if !ok {
		l = &sync.Mutex{}
		m.users[userID] = l
	}
	return l
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// AddEdge records "taskID depends on dependsOnID". It rejects self-edges,
// duplicate edges, edges referencing unknown or foreign tasks, and edges that
// would close a cycle.
func (m *Manager) AddEdge(ctx context.Context, userID, taskID, dependsOnID string) (domain.DependencyEdge, error) {
	var edge domain.DependencyEdge
	if taskID == dependsOnID {
		return edge, fmt.Errorf("%w: %s", domain.ErrSelfDependency, taskID)
	}
	for _, id := range []string{taskID, dependsOnID} {
		ref, err := m.taskOwner(ctx, id)
		if err != nil {
			return edge, err
		}
		if ref != userID {
			return edge, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
		}
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	adj, err := m.adjacency(ctx, userID)
	if err != nil {
		return edge, err
	}
	if containsEdge(adj, taskID, dependsOnID) {
		return edge, fmt.Errorf("%w: %s already depends on %s", domain.ErrConflict, taskID, dependsOnID)
	}
	// If taskID is reachable from dependsOnID along existing edges, adding
	// dependsOn->task would close a loop.
	if reachable(adj, dependsOnID, taskID) {
		return edge, fmt.Errorf("%w: %s -> %s", domain.ErrCycle, taskID, dependsOnID)
	}

	edge = domain.DependencyEdge{
		ID:          uuid.New().String(),
		UserID:      userID,
		TaskID:      taskID,
		DependsOnID: dependsOnID,
		CreatedAt:   m.now().UTC().Format(time.RFC3339),
	}
	_, err = m.DB.ExecContext(ctx, `INSERT INTO task_dependencies(id,user_id,task_id,depends_on_id,created_at) VALUES (?,?,?,?,?)`,
		edge.ID, edge.UserID, edge.TaskID, edge.DependsOnID, edge.CreatedAt)
	if err != nil {
		return domain.DependencyEdge{}, err
	}
	return edge, nil
}

// RemoveEdge deletes one edge belonging to taskID.
func (m *Manager) RemoveEdge(ctx context.Context, userID, taskID, edgeID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	res, err := m.DB.ExecContext(ctx,
		`DELETE FROM task_dependencies WHERE id=? AND task_id=? AND user_id=?`, edgeID, taskID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: edge %s on task %s", domain.ErrNotFound, edgeID, taskID)
	}
	return nil
}

// ListDependencies returns the outgoing edges of taskID, each resolved to the
// target task's minimal projection.
func (m *Manager) ListDependencies(ctx context.Context, taskID string) ([]domain.DependencyRef, error) {
	return m.listRefs(ctx, taskID, `SELECT d.id, t.id, t.title, t.status FROM task_dependencies d
JOIN tasks t ON t.id = d.depends_on_id WHERE d.task_id=? ORDER BY d.created_at ASC`)
}

// ListBlocking returns the incoming edges of taskID: the tasks taskID blocks.
func (m *Manager) ListBlocking(ctx context.Context, taskID string) ([]domain.DependencyRef, error) {
	return m.listRefs(ctx, taskID, `SELECT d.id, t.id, t.title, t.status FROM task_dependencies d
JOIN tasks t ON t.id = d.task_id WHERE d.depends_on_id=? ORDER BY d.created_at ASC`)
}

func (m *Manager) listRefs(ctx context.Context, taskID, query string) ([]domain.DependencyRef, error) {
	rows, err := m.DB.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DependencyRef
	for rows.Next() {
		var ref domain.DependencyRef
		var status string
		if err := rows.Scan(&ref.EdgeID, &ref.Task.ID, &ref.Task.Title, &status); err != nil {
			return nil, err
		}
		ref.Task.Status = domain.TaskStatus(status)
		ref.Task.Completed = ref.Task.Status == domain.StatusCompleted
		res = append(res, ref)
	}
	return res, rows.Err()
}

// IsReady reports whether every dependency of taskID is completed. A task with
// no dependencies is ready.
func (m *Manager) IsReady(ctx context.Context, taskID string) (bool, error) {
	deps, err := m.ListDependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, d := range deps {
		if !d.Task.Completed {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) taskOwner(ctx context.Context, taskID string) (string, error) {
	var owner string
	err := m.DB.QueryRowContext(ctx, `SELECT user_id FROM tasks WHERE id=?`, taskID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	return owner, err
}

// adjacency loads the user's full edge set as task -> depends-on ids. Graphs
// are scoped to one user's tasks, so loading them whole is fine.
func (m *Manager) adjacency(ctx context.Context, userID string) (map[string][]string, error) {
	rows, err := m.DB.QueryContext(ctx, `SELECT task_id, depends_on_id FROM task_dependencies WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	adj := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		adj[from] = append(adj[from], to)
	}
	return adj, rows.Err()
}

func containsEdge(adj map[string][]string, from, to string) bool {
	for _, id := range adj[from] {
		if id == to {
			return true
		}
	}
	return false
}

// reachable walks the graph iteratively with an explicit stack and visited
// set, so termination and memory stay bounded regardless of depth.
func reachable(adj map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
