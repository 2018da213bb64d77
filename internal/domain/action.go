package domain

import (
	"encoding/json"
	"fmt"
)

// ActionKind discriminates the suggestion action variants on the wire.
type ActionKind string

const (
	ActionMoveTimeBlock  ActionKind = "move_time_block"
	ActionMoveDate       ActionKind = "move_date"
	ActionChangePriority ActionKind = "change_priority"
	ActionBreakdown      ActionKind = "breakdown"
	ActionArchive        ActionKind = "archive"
	ActionFocus          ActionKind = "focus"
	ActionDismiss        ActionKind = "dismiss"
)

// Action is the closed set of things a suggestion asks the caller to do.
// Applying one is the caller's job; the core only carries the payload.
type Action interface {
	Kind() ActionKind
}

type MoveTimeBlockAction struct {
	TargetTimeBlock TimeBlock `json:"target_time_block"`
}

func (MoveTimeBlockAction) Kind() ActionKind { return ActionMoveTimeBlock }

type MoveDateAction struct {
	TargetDate string `json:"target_date"` // YYYY-MM-DD
}

func (MoveDateAction) Kind() ActionKind { return ActionMoveDate }

type ChangePriorityAction struct {
	TargetPriority Priority `json:"target_priority"`
}

func (ChangePriorityAction) Kind() ActionKind { return ActionChangePriority }

type SubtaskDraft struct {
	Title            string      `json:"title"`
	EstimatedMinutes int         `json:"estimated_minutes,omitempty"`
	EnergyLevel      EnergyLevel `json:"energy_level,omitempty"`
}

type BreakdownAction struct {
	SuggestedSubtasks []SubtaskDraft `json:"suggested_subtasks,omitempty"`
}

func (BreakdownAction) Kind() ActionKind { return ActionBreakdown }

type ArchiveAction struct{}

func (ArchiveAction) Kind() ActionKind { return ActionArchive }

type FocusAction struct {
	TaskIDs []string `json:"task_ids"`
}

func (FocusAction) Kind() ActionKind { return ActionFocus }

type DismissAction struct{}

func (DismissAction) Kind() ActionKind { return ActionDismiss }

// MarshalAction encodes an action as a tagged object: the variant's payload
// fields plus a "type" discriminant.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: action is required", ErrValidation)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	kind, _ := json.Marshal(a.Kind())
	obj["type"] = kind
	return json.Marshal(obj)
}

// UnmarshalAction decodes a tagged action object back into its variant.
func UnmarshalAction(data []byte) (Action, error) {
	var tag struct {
		Type ActionKind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: malformed action: %v", ErrValidation, err)
	}
	var (
		a   Action
		err error
	)
	switch tag.Type {
	case ActionMoveTimeBlock:
		var v MoveTimeBlockAction
		err = json.Unmarshal(data, &v)
		a = v
	case ActionMoveDate:
		var v MoveDateAction
		err = json.Unmarshal(data, &v)
		a = v
	case ActionChangePriority:
		var v ChangePriorityAction
		err = json.Unmarshal(data, &v)
		a = v
	case ActionBreakdown:
		var v BreakdownAction
		err = json.Unmarshal(data, &v)
		a = v
	case ActionArchive:
		a = ArchiveAction{}
	case ActionFocus:
		var v FocusAction
		err = json.Unmarshal(data, &v)
		a = v
	case ActionDismiss:
		a = DismissAction{}
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrValidation, tag.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: action payload: %v", ErrValidation, err)
	}
	return a, nil
}

type suggestionJSON struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	TaskID      *string          `json:"task_id,omitempty"`
	Type        SuggestionType   `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Action      json.RawMessage  `json:"action"`
	Reasoning   string           `json:"reasoning,omitempty"`
	Confidence  float64          `json:"confidence"`
	Source      SuggestionSource `json:"source"`
	Status      SuggestionStatus `json:"status"`
	RespondedAt *string          `json:"responded_at,omitempty"`
	ExpiresAt   string           `json:"expires_at"`
	CreatedAt   string           `json:"created_at"`
}

func (s Suggestion) MarshalJSON() ([]byte, error) {
	action, err := MarshalAction(s.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(suggestionJSON{
		ID: s.ID, UserID: s.UserID, TaskID: s.TaskID, Type: s.Type,
		Title: s.Title, Description: s.Description, Action: action,
		Reasoning: s.Reasoning, Confidence: s.Confidence, Source: s.Source,
		Status: s.Status, RespondedAt: s.RespondedAt,
		ExpiresAt: s.ExpiresAt, CreatedAt: s.CreatedAt,
	})
}

func (s *Suggestion) UnmarshalJSON(data []byte) error {
	var raw suggestionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	action, err := UnmarshalAction(raw.Action)
	if err != nil {
		return err
	}
	*s = Suggestion{
		ID: raw.ID, UserID: raw.UserID, TaskID: raw.TaskID, Type: raw.Type,
		Title: raw.Title, Description: raw.Description, Action: action,
		Reasoning: raw.Reasoning, Confidence: raw.Confidence, Source: raw.Source,
		Status: raw.Status, RespondedAt: raw.RespondedAt,
		ExpiresAt: raw.ExpiresAt, CreatedAt: raw.CreatedAt,
	}
	return nil
}
