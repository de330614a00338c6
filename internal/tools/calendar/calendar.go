// Package calendar provides the calendar capability slice: events.
package calendar

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

// Event is a calendar entry owned by the user who created it.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartsAt  string    `json:"startsAt"`
	EndsAt    string    `json:"endsAt,omitempty"`
	Location  string    `json:"location,omitempty"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service owns calendar state behind the tool handlers.
type Service struct {
	mu     sync.RWMutex
	events map[string]*Event
}

func NewService() *Service {
	return &Service{events: make(map[string]*Event)}
}

func (s *Service) Create(title, startsAt, endsAt, location, ownerID string) *Event {
	event := &Event{
		ID:        uuid.NewString(),
		Title:     title,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		Location:  location,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.events[event.ID] = event
	s.mu.Unlock()
	return event
}

// List returns the owner's events ordered by start time.
func (s *Service) List(ownerID string) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events {
		if ownerID != "" && e.OwnerID != ownerID {
			continue
		}
		dup := *e
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt < out[j].StartsAt })
	return out
}

type createEventInput struct {
	Title    string `json:"title" jsonschema:"description=Event title"`
	StartsAt string `json:"startsAt" jsonschema:"description=Start time in RFC 3339 format"`
	EndsAt   string `json:"endsAt,omitempty" jsonschema:"description=End time in RFC 3339 format"`
	Location string `json:"location,omitempty" jsonschema:"description=Where the event takes place"`
}

type listEventsInput struct{}

// Tools returns the calendar capability slice backed by svc.
func Tools(svc *Service) []catalog.Tool {
	return []catalog.Tool{
		&catalog.Definition{
			ToolName:        "create_event",
			ToolDescription: "Create a calendar event for the current user.",
			ToolModule:      "calendar",
			ToolPermission:  permission.PermWrite,
			InputSchema:     catalog.SchemaFor(&createEventInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in createEventInput
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input: %v", err), nil
				}
				if strings.TrimSpace(in.Title) == "" {
					return catalog.Fail("title is required"), nil
				}
				if strings.TrimSpace(in.StartsAt) == "" {
					return catalog.Fail("startsAt is required"), nil
				}
				return catalog.Ok(svc.Create(in.Title, in.StartsAt, in.EndsAt, in.Location, tc.UserID)), nil
			},
		},
		&catalog.Definition{
			ToolName:        "list_events",
			ToolDescription: "List the current user's calendar events.",
			ToolModule:      "calendar",
			ToolPermission:  permission.PermRead,
			InputSchema:     catalog.SchemaFor(&listEventsInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				return catalog.Ok(svc.List(tc.UserID)), nil
			},
		},
	}
}
