package tasks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
)

func findTool(t *testing.T, tools []catalog.Tool, name string) catalog.Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestCreateTask(t *testing.T) {
	svc := NewService()
	tool := findTool(t, Tools(svc), "create_task")
	tc := catalog.ToolContext{UserID: "user-1", Role: "member"}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"title":"X","dueDate":"2026-09-01","assigneeId":"me"}`), tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["title"] != "X" || data["status"] != StatusTodo {
		t.Errorf("data = %v", data)
	}
	if data["id"] == "" {
		t.Error("missing task id")
	}

	// "me" resolved to the caller.
	tasks := svc.List("", "user-1")
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
}

func TestCreateTaskMissingTitle(t *testing.T) {
	svc := NewService()
	tool := findTool(t, Tools(svc), "create_task")

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"title":"  "}`), catalog.ToolContext{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("blank title must fail")
	}
	if !strings.Contains(res.Error, "title") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestListTasksFilters(t *testing.T) {
	svc := NewService()
	svc.Create("a", "", "user-1", "user-1")
	done := svc.Create("b", "", "user-2", "user-1")
	svc.Complete(done.ID)

	tool := findTool(t, Tools(svc), "list_tasks")
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"status":"DONE"}`), catalog.ToolContext{UserID: "user-1"})
	if err != nil || !res.Success {
		t.Fatalf("Execute: %v %+v", err, res)
	}
	tasks := res.Data.([]*Task)
	if len(tasks) != 1 || tasks[0].Title != "b" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestCompleteTask(t *testing.T) {
	svc := NewService()
	task := svc.Create("finish report", "", "", "user-1")

	tool := findTool(t, Tools(svc), "complete_task")
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"id":"`+task.ID+`"}`), catalog.ToolContext{UserID: "user-1"})
	if err != nil || !res.Success {
		t.Fatalf("Execute: %v %+v", err, res)
	}
	if got := res.Data.(*Task).Status; got != StatusDone {
		t.Errorf("status = %q, want DONE", got)
	}

	res, _ = tool.Execute(context.Background(), json.RawMessage(`{"id":"missing"}`), catalog.ToolContext{})
	if res.Success {
		t.Error("unknown id must fail")
	}
}

func TestToolSchemas(t *testing.T) {
	for _, tool := range Tools(NewService()) {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Errorf("%s schema: %v", tool.Name(), err)
			continue
		}
		if schema["type"] != "object" {
			t.Errorf("%s schema type = %v", tool.Name(), schema["type"])
		}
	}
}
