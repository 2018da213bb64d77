package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"focusflow/internal/domain"
	"focusflow/internal/engine"
	"focusflow/internal/events"
	"focusflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"suggestion not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the FocusFlow intelligence API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("FocusFlow Intelligence API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerEvents(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerDependencies(group, cfg.Engine)
	registerInsights(group, cfg.Engine)
	registerSuggestions(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound) || errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, domain.ErrSelfDependency):
		return newAPIError(http.StatusUnprocessableEntity, "self_dependency", err.Error(), nil)
	case errors.Is(err, domain.ErrCycle):
		return newAPIError(http.StatusUnprocessableEntity, "dependency_cycle", err.Error(), nil)
	case errors.Is(err, domain.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidState):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Record behavior event",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RecordEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.RecordEvent(ctx, domain.TaskEvent{
			UserID:   userID,
			TaskID:   input.Body.TaskID,
			Type:     input.Body.Type,
			Context:  input.Body.Context,
			Previous: input.Body.Previous,
			New:      input.Body.New,
			Metadata: input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List behavior events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		TaskID string `query:"task_id"`
		Since  string `query:"since"`
		Until  string `query:"until"`
		Order  string `query:"order" enum:"asc,desc" default:"asc"`
		Limit  int    `query:"limit" default:"100"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		order := events.OldestFirst
		if input.Order == string(events.NewestFirst) {
			order = events.NewestFirst
		}
		items, err := e.Events.List(ctx, userID, events.Filter{
			Type:   domain.EventType(input.Type),
			TaskID: input.TaskID,
			Since:  input.Since,
			Until:  input.Until,
			Order:  order,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upsert-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create or update task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body UpsertTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t := domain.Task{
			UserID:      userID,
			Title:       input.Body.Title,
			Date:        input.Body.Date,
			TimeBlock:   input.Body.TimeBlock,
			Priority:    input.Body.Priority,
			EnergyLevel: input.Body.EnergyLevel,
		}
		if input.Body.ID != nil {
			t.ID = *input.Body.ID
		}
		if input.Body.ProjectID != nil {
			t.ProjectID = *input.Body.ProjectID
		}
		if input.Body.Description != nil {
			t.Description = *input.Body.Description
		}
		if input.Body.EstimatedMinutes > 0 {
			t.EstimatedMinutes = input.Body.EstimatedMinutes
		}
		saved, err := e.UpsertTask(ctx, t)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: saved}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		ProjectID string `query:"project_id"`
		Date      string `query:"date"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.Repo.ListTasks(ctx, userID, repo.TaskFilters{
			Status:    domain.TaskStatus(input.Status),
			ProjectID: input.ProjectID,
			Date:      input.Date,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, input.ID, input.Body.ActualMinutes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "carry-over",
		Method:      http.MethodPost,
		Path:        "/tasks/carry-over",
		Summary:     "Carry unfinished tasks to another day",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CarryOverRequest `json:"body"`
	}) (*struct {
		Body struct {
			Carried []string `json:"carried"`
		} `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := e.CarryOver(ctx, userID, input.Body.From, input.Body.To)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Carried []string `json:"carried"`
			} `json:"body"`
		}{}
		if ids == nil {
			ids = []string{}
		}
		out.Body.Carried = ids
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "day-schedule",
		Method:      http.MethodGet,
		Path:        "/schedule/{date}",
		Summary:     "Day schedule grouped by time block",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Date string `path:"date"`
	}) (*struct {
		Body engine.Schedule `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.DaySchedule(ctx, userID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Schedule `json:"body"`
		}{Body: s}, nil
	})
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/dependencies",
		Summary:       "Add task dependency",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body AddDependencyRequest `json:"body"`
	}) (*struct {
		Body domain.DependencyEdge `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		edge, err := e.AddDependency(ctx, userID, input.ID, input.Body.DependsOnID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DependencyEdge `json:"body"`
		}{Body: edge}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-dependency",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}/dependencies/{edge_id}",
		Summary:     "Remove task dependency",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		EdgeID string `path:"edge_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveDependency(ctx, userID, input.ID, input.EdgeID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-dependencies",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/dependencies",
		Summary:     "Tasks this task depends on",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.DependencyRef `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		refs, err := e.ListDependencies(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if refs == nil {
			refs = []domain.DependencyRef{}
		}
		return &struct {
			Body []domain.DependencyRef `json:"body"`
		}{Body: refs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-blocking",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/blocking",
		Summary:     "Tasks blocked by this task",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.DependencyRef `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		refs, err := e.ListBlocking(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if refs == nil {
			refs = []domain.DependencyRef{}
		}
		return &struct {
			Body []domain.DependencyRef `json:"body"`
		}{Body: refs}, nil
	})
}

func registerInsights(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-insights",
		Method:      http.MethodGet,
		Path:        "/insights",
		Summary:     "List active insights",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Insight `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInsights(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Insight{}
		}
		return &struct {
			Body []domain.Insight `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze",
		Method:      http.MethodPost,
		Path:        "/insights/analyze",
		Summary:     "Run pattern analysis",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AnalyzeResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Analyze(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AnalyzeResponse{Insights: rep.Insights}
		if resp.Insights == nil {
			resp.Insights = []domain.Insight{}
		}
		for _, t := range rep.Retained {
			resp.Retained = append(resp.Retained, string(t))
		}
		if len(rep.Failed) > 0 {
			resp.Failed = map[string]string{}
			for t, ferr := range rep.Failed {
				resp.Failed[string(t)] = ferr.Error()
			}
		}
		return &struct {
			Body AnalyzeResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSuggestions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-suggestions",
		Method:      http.MethodGet,
		Path:        "/suggestions",
		Summary:     "List suggestions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,accepted,dismissed,expired" default:"pending"`
	}) (*struct {
		Body []SuggestionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSuggestions(ctx, userID, domain.SuggestionStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuggestionResponse `json:"body"`
		}{Body: mapSuggestions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-suggestions",
		Method:      http.MethodPost,
		Path:        "/suggestions/generate",
		Summary:     "Run suggestion generation",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GenerateResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		created, rep, err := e.Generate(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := GenerateResponse{Created: mapSuggestions(created)}
		if len(rep.Failed) > 0 {
			resp.Failed = map[string]string{}
			for t, ferr := range rep.Failed {
				resp.Failed[string(t)] = ferr.Error()
			}
		}
		return &struct {
			Body GenerateResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-suggestion",
		Method:      http.MethodPost,
		Path:        "/suggestions/{id}/respond",
		Summary:     "Accept or dismiss a suggestion",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body RespondRequest `json:"body"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.RespondToSuggestion(ctx, input.ID, input.Body.Accepted)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-suggestions",
		Method:      http.MethodPost,
		Path:        "/suggestions/sweep",
		Summary:     "Expire overdue pending suggestions",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Expired int64 `json:"expired"`
		} `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		n, err := e.ExpireSuggestions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Expired int64 `json:"expired"`
			} `json:"body"`
		}{}
		out.Body.Expired = n
		return out, nil
	})
}
