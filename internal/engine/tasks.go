package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"focusflow/internal/domain"
	"focusflow/internal/repo"
)

// contextFor snapshots the situational fields for an event about a task.
func (e Engine) contextFor(t domain.Task) domain.EventContext {
	now := e.now().UTC()
	return domain.EventContext{
		HourOfDay:   now.Hour(),
		DayOfWeek:   int(now.Weekday()),
		TimeBlock:   t.TimeBlock,
		ProjectID:   t.ProjectID,
		Priority:    t.Priority,
		EnergyLevel: t.EnergyLevel,
	}
}

// UpsertTask mirrors a task written by the CRUD layer into the core's store
// and emits the corresponding behavior event.
func (e Engine) UpsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.UserID == "" {
		return t, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if t.Title == "" {
		return t, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	created := false
	if t.ID == "" {
		t.ID = uuid.New().String()
		created = true
	} else if _, err := e.Repo.GetTask(ctx, t.ID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return t, err
		}
		created = true
	}
	if t.TimeBlock == "" {
		t.TimeBlock = domain.BlockAnytime
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if t.EnergyLevel == "" {
		t.EnergyLevel = domain.EnergyMedium
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	if t.EstimatedMinutes == 0 {
		t.EstimatedMinutes = 30
	}
	if created || t.CreatedAt == "" {
		t.CreatedAt = nowStr
	}
	t.UpdatedAt = nowStr
	if err := e.Repo.UpsertTask(ctx, t); err != nil {
		return t, err
	}
	evtType := domain.EventTaskUpdated
	if created {
		evtType = domain.EventTaskCreated
	}
	_, err := e.RecordEvent(ctx, domain.TaskEvent{
		UserID:  t.UserID,
		TaskID:  &t.ID,
		Type:    evtType,
		Context: e.contextFor(t),
	})
	return t, err
}

// CompleteTask marks a task completed and emits the completion event carrying
// the estimate/actual pair the analyzer learns from.
func (e Engine) CompleteTask(ctx context.Context, taskID string, actualMinutes *int) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status == domain.StatusCompleted {
		return t, fmt.Errorf("%w: task %s is already completed", domain.ErrInvalidState, taskID)
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	t.Status = domain.StatusCompleted
	t.UpdatedAt = nowStr
	t.CompletedAt = &nowStr
	if actualMinutes != nil {
		t.ActualMinutes = actualMinutes
	}
	if err := e.Repo.UpsertTask(ctx, t); err != nil {
		return t, err
	}
	meta := map[string]any{}
	if t.EstimatedMinutes > 0 {
		meta["estimated_minutes"] = float64(t.EstimatedMinutes)
	}
	if t.ActualMinutes != nil {
		meta["actual_minutes"] = float64(*t.ActualMinutes)
	}
	_, err = e.RecordEvent(ctx, domain.TaskEvent{
		UserID:   t.UserID,
		TaskID:   &t.ID,
		Type:     domain.EventTaskCompleted,
		Context:  e.contextFor(t),
		Metadata: meta,
	})
	return t, err
}

// CarryOver moves one day's unfinished tasks to another date, marking them
// carried over. Each move is recorded as a task_moved event, which is what
// the rollover_pattern insight feeds on.
func (e Engine) CarryOver(ctx context.Context, userID, fromDate, toDate string) ([]string, error) {
	if fromDate == "" || toDate == "" {
		return nil, fmt.Errorf("%w: from and to dates are required", domain.ErrValidation)
	}
	tasks, err := e.Repo.ListTasks(ctx, userID, repo.TaskFilters{Date: fromDate})
	if err != nil {
		return nil, err
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	var carried []string
	for _, t := range tasks {
		if t.Status == domain.StatusCompleted || t.Status == domain.StatusSkipped {
			continue
		}
		from := fromDate
		to := toDate
		t.CarriedOverFrom = &from
		t.Date = &to
		t.Status = domain.StatusCarriedOver
		t.UpdatedAt = nowStr
		if err := e.Repo.UpsertTask(ctx, t); err != nil {
			return carried, err
		}
		if _, err := e.RecordEvent(ctx, domain.TaskEvent{
			UserID:   t.UserID,
			TaskID:   &t.ID,
			Type:     domain.EventTaskMoved,
			Context:  e.contextFor(t),
			Previous: map[string]any{"date": fromDate},
			New:      map[string]any{"date": toDate},
		}); err != nil {
			return carried, err
		}
		carried = append(carried, t.ID)
	}
	return carried, nil
}

// Schedule is one day's tasks grouped by time block, with completion stats.
type Schedule struct {
	Date      string                             `json:"date"`
	Blocks    map[domain.TimeBlock][]domain.Task `json:"blocks"`
	Total     int                                `json:"total"`
	Completed int                                `json:"completed"`
	Progress  float64                            `json:"progress"`
}

// DaySchedule groups one date's tasks by time block.
func (e Engine) DaySchedule(ctx context.Context, userID, date string) (Schedule, error) {
	s := Schedule{Date: date, Blocks: map[domain.TimeBlock][]domain.Task{}}
	tasks, err := e.Repo.ListTasks(ctx, userID, repo.TaskFilters{Date: date})
	if err != nil {
		return s, err
	}
	for _, t := range tasks {
		s.Blocks[t.TimeBlock] = append(s.Blocks[t.TimeBlock], t)
		s.Total++
		if t.Status == domain.StatusCompleted {
			s.Completed++
		}
	}
	if s.Total > 0 {
		s.Progress = float64(s.Completed) / float64(s.Total)
	}
	return s, nil
}
