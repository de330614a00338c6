package suggest

import (
	"reflect"
	"testing"
)

func TestForTools(t *testing.T) {
	tests := []struct {
		name  string
		tools []string
		want  []string
	}{
		{name: "empty input", tools: nil, want: nil},
		{name: "unmapped tool", tools: []string{"no_such_tool"}, want: nil},
		{
			name:  "single tool",
			tools: []string{"create_task"},
			want:  []string{"Show my open tasks", "Assign this task to a teammate"},
		},
		{
			name:  "dedup keeps first seen",
			tools: []string{"create_task", "complete_task"},
			want:  []string{"Show my open tasks", "Assign this task to a teammate", "What did I finish this week?"},
		},
		{
			name:  "capped at three",
			tools: []string{"create_task", "create_contact", "create_deal"},
			want:  []string{"Show my open tasks", "Assign this task to a teammate", "Create a deal for this contact"},
		},
		{
			name:  "repeated tool adds nothing",
			tools: []string{"list_events", "list_events"},
			want:  []string{"Schedule a new event"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ForTools(tt.tools)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ForTools(%v) = %v, want %v", tt.tools, got, tt.want)
			}
		})
	}
}
