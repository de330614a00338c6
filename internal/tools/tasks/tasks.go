// Package tasks provides the task-management capability slice: create, list,
// and complete tasks on the platform's task board.
package tasks

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
	"github.com/emanuele-galle/fodi-assistant/internal/permission"
)

// Task statuses on the board.
const (
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// Task is a row on the task board.
type Task struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	DueDate    string    `json:"dueDate,omitempty"`
	AssigneeID string    `json:"assigneeId,omitempty"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Service owns task state. The platform's real task module lives behind a
// service boundary like this one; here it is an in-memory implementation.
type Service struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewService() *Service {
	return &Service{tasks: make(map[string]*Task)}
}

// Create adds a task in TODO status. assignee "me" resolves to the caller.
func (s *Service) Create(title, dueDate, assigneeID, createdBy string) *Task {
	if assigneeID == "me" {
		assigneeID = createdBy
	}
	task := &Task{
		ID:         uuid.NewString(),
		Title:      title,
		Status:     StatusTodo,
		DueDate:    dueDate,
		AssigneeID: assigneeID,
		CreatedBy:  createdBy,
		CreatedAt:  time.Now(),
	}
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()
	return task
}

// List returns tasks filtered by status and assignee, newest first.
func (s *Service) List(status, assigneeID string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, task := range s.tasks {
		if status != "" && task.Status != status {
			continue
		}
		if assigneeID != "" && task.AssigneeID != assigneeID {
			continue
		}
		dup := *task
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Complete moves a task to DONE. Returns false if the task does not exist.
func (s *Service) Complete(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	task.Status = StatusDone
	dup := *task
	return &dup, true
}

type createInput struct {
	Title      string `json:"title" jsonschema:"title=Title,description=Short task title"`
	DueDate    string `json:"dueDate,omitempty" jsonschema:"description=Due date in YYYY-MM-DD format"`
	AssigneeID string `json:"assigneeId,omitempty" jsonschema:"description=User id to assign the task to; 'me' assigns to the caller"`
}

type listInput struct {
	Status     string `json:"status,omitempty" jsonschema:"description=Filter by status: TODO IN_PROGRESS or DONE"`
	AssigneeID string `json:"assigneeId,omitempty" jsonschema:"description=Filter by assignee user id; 'me' means the caller"`
}

type completeInput struct {
	ID string `json:"id" jsonschema:"description=Id of the task to mark done"`
}

// Tools returns the task capability slice backed by svc.
func Tools(svc *Service) []catalog.Tool {
	return []catalog.Tool{
		&catalog.Definition{
			ToolName:        "create_task",
			ToolDescription: "Create a new task on the task board. Returns the created task with its id and status.",
			ToolModule:      "tasks",
			ToolPermission:  permission.PermWrite,
			InputSchema:     catalog.SchemaFor(&createInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in createInput
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input: %v", err), nil
				}
				if strings.TrimSpace(in.Title) == "" {
					return catalog.Fail("title is required"), nil
				}
				task := svc.Create(in.Title, in.DueDate, in.AssigneeID, tc.UserID)
				return catalog.Ok(map[string]any{
					"id":     task.ID,
					"title":  task.Title,
					"status": task.Status,
				}), nil
			},
		},
		&catalog.Definition{
			ToolName:        "list_tasks",
			ToolDescription: "List tasks, optionally filtered by status or assignee.",
			ToolModule:      "tasks",
			ToolPermission:  permission.PermRead,
			InputSchema:     catalog.SchemaFor(&listInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in listInput
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input: %v", err), nil
				}
				assignee := in.AssigneeID
				if assignee == "me" {
					assignee = tc.UserID
				}
				return catalog.Ok(svc.List(in.Status, assignee)), nil
			},
		},
		&catalog.Definition{
			ToolName:        "complete_task",
			ToolDescription: "Mark a task as done.",
			ToolModule:      "tasks",
			ToolPermission:  permission.PermWrite,
			InputSchema:     catalog.SchemaFor(&completeInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in completeInput
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input: %v", err), nil
				}
				task, ok := svc.Complete(in.ID)
				if !ok {
					return catalog.Fail("task %s not found", in.ID), nil
				}
				return catalog.Ok(task), nil
			},
		},
	}
}
