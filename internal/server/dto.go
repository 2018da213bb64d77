package server

import (
	"encoding/json"

	"focusflow/internal/domain"
)

// Request payloads

type RecordEventRequest struct {
	TaskID   *string             `json:"task_id,omitempty"`
	Type     domain.EventType    `json:"type" enum:"task_created,task_updated,task_completed,task_started,task_paused,task_moved,task_deleted,task_uncompleted,subtask_added,subtask_completed,timer_started,timer_stopped,session_start,session_end"`
	Context  domain.EventContext `json:"context"`
	Previous map[string]any      `json:"previous,omitempty"`
	New      map[string]any      `json:"new,omitempty"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

type UpsertTaskRequest struct {
	ID               *string            `json:"id,omitempty"`
	ProjectID        *string            `json:"project_id,omitempty"`
	Title            string             `json:"title"`
	Description      *string            `json:"description,omitempty"`
	Date             *string            `json:"date,omitempty"`
	TimeBlock        domain.TimeBlock   `json:"time_block,omitempty" enum:"anytime,morning,afternoon,evening"`
	EstimatedMinutes int                `json:"estimated_minutes,omitempty"`
	Priority         domain.Priority    `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	EnergyLevel      domain.EnergyLevel `json:"energy_level,omitempty" enum:"low,medium,high"`
}

type CompleteTaskRequest struct {
	ActualMinutes *int `json:"actual_minutes,omitempty"`
}

type CarryOverRequest struct {
	From string `json:"from" format:"date"`
	To   string `json:"to" format:"date"`
}

type AddDependencyRequest struct {
	DependsOnID string `json:"depends_on_id"`
}

type RespondRequest struct {
	Accepted bool `json:"accepted"`
}

// Response payloads

type EventResponse struct {
	ID        string              `json:"id"`
	Seq       int64               `json:"seq"`
	UserID    string              `json:"user_id"`
	TaskID    *string             `json:"task_id,omitempty"`
	Type      domain.EventType    `json:"type"`
	Context   domain.EventContext `json:"context"`
	Previous  map[string]any      `json:"previous,omitempty"`
	New       map[string]any      `json:"new,omitempty"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	CreatedAt string              `json:"created_at" format:"date-time"`
}

type SuggestionResponse struct {
	ID          string                  `json:"id"`
	TaskID      *string                 `json:"task_id,omitempty"`
	Type        domain.SuggestionType   `json:"type"`
	Title       string                  `json:"title"`
	Description string                  `json:"description,omitempty"`
	Action      map[string]any          `json:"action" jsonschema:"type=object,additionalProperties=true"`
	Reasoning   string                  `json:"reasoning,omitempty"`
	Confidence  float64                 `json:"confidence"`
	Source      domain.SuggestionSource `json:"source"`
	Status      domain.SuggestionStatus `json:"status"`
	RespondedAt *string                 `json:"responded_at,omitempty" format:"date-time"`
	ExpiresAt   string                  `json:"expires_at" format:"date-time"`
	CreatedAt   string                  `json:"created_at" format:"date-time"`
}

type AnalyzeResponse struct {
	Insights []domain.Insight  `json:"insights"`
	Retained []string          `json:"retained,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
}

type GenerateResponse struct {
	Created []SuggestionResponse `json:"created"`
	Failed  map[string]string    `json:"failed,omitempty"`
}

func eventResponse(e domain.TaskEvent) EventResponse {
	return EventResponse{
		ID:        e.ID,
		Seq:       e.Seq,
		UserID:    e.UserID,
		TaskID:    e.TaskID,
		Type:      e.Type,
		Context:   e.Context,
		Previous:  e.Previous,
		New:       e.New,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

func mapEvents(items []domain.TaskEvent) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func suggestionResponse(s domain.Suggestion) SuggestionResponse {
	var action map[string]any
	if s.Action != nil {
		if raw, err := domain.MarshalAction(s.Action); err == nil {
			_ = json.Unmarshal(raw, &action)
		}
	}
	return SuggestionResponse{
		ID:          s.ID,
		TaskID:      s.TaskID,
		Type:        s.Type,
		Title:       s.Title,
		Description: s.Description,
		Action:      action,
		Reasoning:   s.Reasoning,
		Confidence:  s.Confidence,
		Source:      s.Source,
		Status:      s.Status,
		RespondedAt: s.RespondedAt,
		ExpiresAt:   s.ExpiresAt,
		CreatedAt:   s.CreatedAt,
	}
}

func mapSuggestions(items []domain.Suggestion) []SuggestionResponse {
	out := make([]SuggestionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, suggestionResponse(s))
	}
	return out
}
