package domain

import "errors"

// Error kinds surfaced across the intelligence core. Callers classify with
// errors.Is; the API layer decides status mapping.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrSelfDependency = errors.New("task cannot depend on itself")
	ErrCycle          = errors.New("dependency cycle detected")
	ErrConflict       = errors.New("already exists")
	ErrInvalidState   = errors.New("invalid state")
)

type TimeBlock string

const (
	BlockAnytime   TimeBlock = "anytime"
	BlockMorning   TimeBlock = "morning"
	BlockAfternoon TimeBlock = "afternoon"
	BlockEvening   TimeBlock = "evening"
)

type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusInProgress  TaskStatus = "in-progress"
	StatusCompleted   TaskStatus = "completed"
	StatusSkipped     TaskStatus = "skipped"
	StatusCarriedOver TaskStatus = "carried-over"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// EventType is the closed set of behavior event types. The store rejects
// anything outside it.
type EventType string

const (
	EventTaskCreated      EventType = "task_created"
	EventTaskUpdated      EventType = "task_updated"
	EventTaskCompleted    EventType = "task_completed"
	EventTaskStarted      EventType = "task_started"
	EventTaskPaused       EventType = "task_paused"
	EventTaskMoved        EventType = "task_moved"
	EventTaskDeleted      EventType = "task_deleted"
	EventTaskUncompleted  EventType = "task_uncompleted"
	EventSubtaskAdded     EventType = "subtask_added"
	EventSubtaskCompleted EventType = "subtask_completed"
	EventTimerStarted     EventType = "timer_started"
	EventTimerStopped     EventType = "timer_stopped"
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
)

var eventTypes = map[EventType]bool{
	EventTaskCreated: true, EventTaskUpdated: true, EventTaskCompleted: true,
	EventTaskStarted: true, EventTaskPaused: true, EventTaskMoved: true,
	EventTaskDeleted: true, EventTaskUncompleted: true, EventSubtaskAdded: true,
	EventSubtaskCompleted: true, EventTimerStarted: true, EventTimerStopped: true,
	EventSessionStart: true, EventSessionEnd: true,
}

func (t EventType) Valid() bool { return eventTypes[t] }

// EventContext is the situational snapshot captured alongside each event.
type EventContext struct {
	HourOfDay   int         `json:"hour_of_day"`
	DayOfWeek   int         `json:"day_of_week"`
	TimeBlock   TimeBlock   `json:"time_block,omitempty"`
	ProjectID   string      `json:"project_id,omitempty"`
	Priority    Priority    `json:"priority,omitempty"`
	EnergyLevel EnergyLevel `json:"energy_level,omitempty"`
}

// TaskEvent is an immutable behavior fact. Never updated or deleted;
// corrections are appended as compensating events.
type TaskEvent struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	UserID    string         `json:"user_id"`
	TaskID    *string        `json:"task_id,omitempty"`
	Type      EventType      `json:"type"`
	Context   EventContext   `json:"context"`
	Previous  map[string]any `json:"previous,omitempty"`
	New       map[string]any `json:"new,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type InsightType string

const (
	InsightTimePreference     InsightType = "time_preference"
	InsightEnergyPattern      InsightType = "energy_pattern"
	InsightProjectTiming      InsightType = "project_timing"
	InsightCompletionVelocity InsightType = "completion_velocity"
	InsightEstimationAccuracy InsightType = "estimation_accuracy"
	InsightProductivityWindow InsightType = "productivity_window"
	InsightRolloverPattern    InsightType = "rollover_pattern"
	InsightPriorityBehavior   InsightType = "priority_behavior"
)

var insightTypes = map[InsightType]bool{
	InsightTimePreference: true, InsightEnergyPattern: true,
	InsightProjectTiming: true, InsightCompletionVelocity: true,
	InsightEstimationAccuracy: true, InsightProductivityWindow: true,
	InsightRolloverPattern: true, InsightPriorityBehavior: true,
}

func (t InsightType) Valid() bool { return insightTypes[t] }

// Pattern is the statistic payload embedded in an Insight. Fields are grouped
// by family and mostly optional; the scoping fields narrow which tasks the
// pattern applies to.
type Pattern struct {
	PreferredTimeBlock TimeBlock `json:"preferred_time_block,omitempty"`
	PreferredHours     []int     `json:"preferred_hours,omitempty"`
	PreferredDays      []int     `json:"preferred_days,omitempty"`

	AvgTasksPerDay           float64 `json:"avg_tasks_per_day,omitempty"`
	AvgCompletionTimeMinutes float64 `json:"avg_completion_time_minutes,omitempty"`
	// EstimationAccuracy is mean(actual/estimated); 1.0 means estimates are spot on.
	EstimationAccuracy float64 `json:"estimation_accuracy,omitempty"`

	AvgRolloverCount float64 `json:"avg_rollover_count,omitempty"`
	CompletionRate   float64 `json:"completion_rate,omitempty"`

	ProjectID   string      `json:"project_id,omitempty"`
	EnergyLevel EnergyLevel `json:"energy_level,omitempty"`
	Priority    Priority    `json:"priority,omitempty"`
}

// ScopeKey identifies the scoping context for the one-active-insight rule.
func (p Pattern) ScopeKey() string {
	return p.ProjectID + "|" + string(p.EnergyLevel) + "|" + string(p.Priority)
}

// Insight is a confidence-scored behavior summary. At most one active insight
// exists per (user, type, scope); refreshes supersede rather than duplicate.
type Insight struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Type        InsightType `json:"type"`
	Category    string      `json:"category,omitempty"`
	Pattern     Pattern     `json:"pattern"`
	Confidence  float64     `json:"confidence"`
	SampleSize  int         `json:"sample_size"`
	Active      bool        `json:"active"`
	LastUpdated string      `json:"last_updated" format:"date-time"`
	ExpiresAt   *string     `json:"expires_at,omitempty" format:"date-time"`
}

type SuggestionType string

const (
	SuggestTimeBlock       SuggestionType = "time_block"
	SuggestReschedule      SuggestionType = "reschedule"
	SuggestPriority        SuggestionType = "priority"
	SuggestBreakdown       SuggestionType = "breakdown"
	SuggestEnergyMatch     SuggestionType = "energy_match"
	SuggestOverloadWarning SuggestionType = "overload_warning"
	SuggestStaleTask       SuggestionType = "stale_task"
	SuggestDependencyReady SuggestionType = "dependency_ready"
	SuggestFocus           SuggestionType = "focus_recommendation"
	SuggestDailyPlan       SuggestionType = "daily_plan"
)

type SuggestionSource string

const (
	SourceRule    SuggestionSource = "rule"
	SourcePattern SuggestionSource = "pattern"
	SourceAI      SuggestionSource = "ai"
)

type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionAccepted  SuggestionStatus = "accepted"
	SuggestionDismissed SuggestionStatus = "dismissed"
	SuggestionExpired   SuggestionStatus = "expired"
)

// Suggestion is an actionable, time-bounded recommendation. Status moves one
// way out of pending; the action variant is fixed at creation.
type Suggestion struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	TaskID      *string          `json:"task_id,omitempty"`
	Type        SuggestionType   `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Action      Action           `json:"action"`
	Reasoning   string           `json:"reasoning,omitempty"`
	Confidence  float64          `json:"confidence"`
	Source      SuggestionSource `json:"source"`
	Status      SuggestionStatus `json:"status"`
	RespondedAt *string          `json:"responded_at,omitempty" format:"date-time"`
	ExpiresAt   string           `json:"expires_at" format:"date-time"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
}

type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Task is the core's view of a parent task. Writes come from the surrounding
// CRUD layer; this package only needs the fields the engine reads.
type Task struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	ProjectID        string      `json:"project_id,omitempty"`
	Title            string      `json:"title"`
	Description      string      `json:"description,omitempty"`
	Date             *string     `json:"date,omitempty"` // YYYY-MM-DD; nil = inbox
	TimeBlock        TimeBlock   `json:"time_block"`
	EstimatedMinutes int         `json:"estimated_minutes"`
	ActualMinutes    *int        `json:"actual_minutes,omitempty"`
	Priority         Priority    `json:"priority"`
	EnergyLevel      EnergyLevel `json:"energy_level"`
	Status           TaskStatus  `json:"status"`
	Subtasks         []Subtask   `json:"subtasks,omitempty"`
	DependsOn        []string    `json:"depends_on,omitempty"`
	CarriedOverFrom  *string     `json:"carried_over_from,omitempty"`
	CreatedAt        string      `json:"created_at" format:"date-time"`
	UpdatedAt        string      `json:"updated_at" format:"date-time"`
	CompletedAt      *string     `json:"completed_at,omitempty" format:"date-time"`
}

// DependencyEdge is one "TaskID depends on DependsOnID" relation. Both tasks
// belong to the same user and the per-user graph stays acyclic.
type DependencyEdge struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// TaskRef is the minimal projection returned from dependency lookups.
type TaskRef struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Completed bool       `json:"completed"`
	Status    TaskStatus `json:"status"`
}

// DependencyRef pairs an edge with its resolved target task.
type DependencyRef struct {
	EdgeID string  `json:"edge_id"`
	Task   TaskRef `json:"task"`
}
