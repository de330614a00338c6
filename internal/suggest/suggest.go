// Package suggest generates follow-up prompts keyed by which tools fired
// during a turn. Pure lookup, no state, no failure path.
package suggest

// followups maps tool names to candidate next-step prompts. Tools without
// an entry contribute nothing.
var followups = map[string][]string{
	"create_task": {
		"Show my open tasks",
		"Assign this task to a teammate",
	},
	"list_tasks": {
		"Create a new task",
		"Mark a task as done",
	},
	"complete_task": {
		"Show my open tasks",
		"What did I finish this week?",
	},
	"create_contact": {
		"Create a deal for this contact",
		"Show recent contacts",
	},
	"search_contacts": {
		"Create a new contact",
	},
	"create_deal": {
		"Show my open deals",
		"Schedule a follow-up call",
	},
	"create_event": {
		"Show my calendar for this week",
	},
	"list_events": {
		"Schedule a new event",
	},
}

// maxSuggestions caps how many follow-ups a turn may surface.
const maxSuggestions = 3

// ForTools returns up to three follow-up prompts for the tools used this
// turn, deduplicated in first-seen order. Empty input yields empty output.
func ForTools(toolNames []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range toolNames {
		for _, suggestion := range followups[name] {
			if seen[suggestion] {
				continue
			}
			seen[suggestion] = true
			out = append(out, suggestion)
			if len(out) == maxSuggestions {
				return out
			}
		}
	}
	return out
}
