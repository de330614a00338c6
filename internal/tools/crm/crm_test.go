package crm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/emanuele-galle/fodi-assistant/internal/catalog"
)

func findTool(t *testing.T, name string, svc *Service) catalog.Tool {
	t.Helper()
	for _, tool := range Tools(svc) {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %s not found", name)
	return nil
}

func TestCreateContact(t *testing.T) {
	svc := NewService()
	tool := findTool(t, "create_contact", svc)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"name":"Ada Lovelace","email":"ada@example.com","company":"Analytical"}`), catalog.ToolContext{})
	if err != nil || !res.Success {
		t.Fatalf("Execute: %v %+v", err, res)
	}
	contact := res.Data.(*Contact)
	if contact.Name != "Ada Lovelace" || contact.ID == "" {
		t.Errorf("contact = %+v", contact)
	}

	res, _ = tool.Execute(context.Background(), json.RawMessage(`{"name":""}`), catalog.ToolContext{})
	if res.Success {
		t.Error("empty name must fail")
	}
}

func TestSearchContacts(t *testing.T) {
	svc := NewService()
	svc.CreateContact("Ada Lovelace", "ada@example.com", "", "Analytical")
	svc.CreateContact("Grace Hopper", "grace@example.com", "", "Navy")

	tool := findTool(t, "search_contacts", svc)
	tests := []struct {
		query string
		want  int
	}{
		{"ada", 1},
		{"example.com", 2},
		{"navy", 1},
		{"nobody", 0},
	}
	for _, tt := range tests {
		input, _ := json.Marshal(map[string]string{"query": tt.query})
		res, err := tool.Execute(context.Background(), input, catalog.ToolContext{})
		if err != nil || !res.Success {
			t.Fatalf("Execute(%q): %v %+v", tt.query, err, res)
		}
		if got := len(res.Data.([]*Contact)); got != tt.want {
			t.Errorf("search %q = %d contacts, want %d", tt.query, got, tt.want)
		}
	}
}

func TestCreateDeal(t *testing.T) {
	svc := NewService()
	contact := svc.CreateContact("Ada Lovelace", "", "", "")

	tool := findTool(t, "create_deal", svc)
	input, _ := json.Marshal(map[string]any{"title": "Engine contract", "contactId": contact.ID, "amount": 5000.0})
	res, err := tool.Execute(context.Background(), input, catalog.ToolContext{})
	if err != nil || !res.Success {
		t.Fatalf("Execute: %v %+v", err, res)
	}
	deal := res.Data.(*Deal)
	if deal.Stage != "NEW" || deal.ContactID != contact.ID || deal.Amount != 5000 {
		t.Errorf("deal = %+v", deal)
	}
}
