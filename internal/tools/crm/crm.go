// Package crm provides the CRM capability slice: contacts and deals.
package crm

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

// Contact is a CRM contact record.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Deal is a sales pipeline entry tied to a contact.
type Deal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ContactID string    `json:"contactId,omitempty"`
	Amount    float64   `json:"amount"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service owns CRM state behind the tool handlers.
type Service struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
	deals    map[string]*Deal
}

func NewService() *Service {
	return &Service{
		contacts: make(map[string]*Contact),
		deals:    make(map[string]*Deal),
	}
}

func (s *Service) CreateContact(name, email, phone, company string) *Contact {
	contact := &Contact{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Phone:     phone,
		Company:   company,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.contacts[contact.ID] = contact
	s.mu.Unlock()
	return contact
}

// SearchContacts matches the query case-insensitively against name, email,
// and company.
func (s *Service) SearchContacts(query string) []*Contact {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Contact
	for _, c := range s.contacts {
		if q == "" ||
			strings.Contains(strings.ToLower(c.Name), q) ||
			strings.Contains(strings.ToLower(c.Email), q) ||
			strings.Contains(strings.ToLower(c.Company), q) {
			dup := *c
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) CreateDeal(title, contactID string, amount float64) *Deal {
	deal := &Deal{
		ID:        uuid.NewString(),
		Title:     title,
		ContactID: contactID,
		Amount:    amount,
		Stage:     "NEW",
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.deals[deal.ID] = deal
	s.mu.Unlock()
	return deal
}

type createContactInput struct {
	Name    string `json:"name" jsonschema:"description=Full name of the contact"`
	Email   string `json:"email,omitempty" jsonschema:"description=Email address"`
	Phone   string `json:"phone,omitempty" jsonschema:"description=Phone number"`
	Company string `json:"company,omitempty" jsonschema:"description=Company the contact works for"`
}

type searchContactsInput struct {
	Query string `json:"query" jsonschema:"description=Free text matched against name email and company"`
}

type createDealInput struct {
	Title     string  `json:"title" jsonschema:"description=Deal title"`
	ContactID string  `json:"contactId,omitempty" jsonschema:"description=Id of the associated contact"`
	Amount    float64 `json:"amount,omitempty" jsonschema:"description=Deal value"`
}

// Tools returns the CRM capability slice backed by svc.
func Tools(svc *Service) []catalog.Tool {
	return []catalog.Tool{
		&catalog.Definition{
			ToolName:        "create_contact",
			ToolDescription: "Create a CRM contact.",
			ToolModule:      "crm",
			ToolPermission:  permission.PermWrite,
			InputSchema:     catalog.SchemaFor(&createContactInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in createContactInput
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input: %v", err), nil
				}
				if strings.TrimSpace(in.Name) == "" {
					return catalog.Fail("name is required"), nil
				}
				return catalog.Ok(svc.CreateContact(in.Name, in.Email, in.Phone, in.Company)), nil
			},
		},
		&catalog.Definition{
			ToolName:        "search_contacts",
			ToolDescription: "Search CRM contacts by name, email, or company.",
			ToolModule:      "crm",
			ToolPermission:  permission.PermRead,
			InputSchema:     catalog.SchemaFor(&searchContactsInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in searchContactsInput
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input: %v", err), nil
				}
				return catalog.Ok(svc.SearchContacts(in.Query)), nil
			},
		},
		&catalog.Definition{
			ToolName:        "create_deal",
			ToolDescription: "Create a deal in the sales pipeline, optionally linked to a contact.",
			ToolModule:      "crm",
			ToolPermission:  permission.PermWrite,
			InputSchema:     catalog.SchemaFor(&createDealInput{}),
			Handler: func(ctx context.Context, input json.RawMessage, tc catalog.ToolContext) (*catalog.Result, error) {
				var in createDealInput
				if err := json.Unmarshal(input, &in); err != nil {
					return catalog.Fail("invalid input: %v", err), nil
				}
				if strings.TrimSpace(in.Title) == "" {
					return catalog.Fail("title is required"), nil
				}
				return catalog.Ok(svc.CreateDeal(in.Title, in.ContactID, in.Amount)), nil
			},
		},
	}
}
