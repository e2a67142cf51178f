package unifi

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveDoorID(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		doors  []Door
		wantID string
	}{
		{
			name:   "case-insensitive exact name",
			query:  "gate",
			doors:  []Door{{ID: "1", Name: "Side Door"}, {ID: "2", Name: "Gate"}},
			wantID: "2",
		},
		{
			name:   "exact name beats substring",
			query:  "Gate",
			doors:  []Door{{ID: "1", Name: "Gate East"}, {ID: "2", Name: "gate"}},
			wantID: "2",
		},
		{
			name:   "exact full name beats substring",
			query:  "HQ - Front Gate",
			doors:  []Door{{ID: "1", Name: "Front", FullName: "HQ - Front Gate"}, {ID: "2", Name: "Back", FullName: "HQ - Front Gate Annex"}},
			wantID: "1",
		},
		{
			name:   "substring of full name",
			query:  "annex",
			doors:  []Door{{ID: "1", Name: "Front"}, {ID: "2", Name: "Back", FullName: "HQ - Front Gate Annex"}},
			wantID: "2",
		},
		{
			name:   "query trimmed",
			query:  "  side door ",
			doors:  []Door{{ID: "1", Name: "Side Door"}, {ID: "2", Name: "Gate"}},
			wantID: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDoorID(tt.query, tt.doors)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantID {
				t.Errorf("ResolveDoorID(%q) = %q, want %q", tt.query, got, tt.wantID)
			}
		})
	}
}

func TestResolveDoorID_Ambiguous(t *testing.T) {
	doors := []Door{{ID: "1", Name: "Gate East"}, {ID: "2", Name: "Gate West", FullName: "Yard - Gate West"}}

	_, err := ResolveDoorID("gate", doors)
	var amb *AmbiguousDoorError
	if !errors.As(err, &amb) {
		t.Fatalf("error = %v, want *AmbiguousDoorError", err)
	}
	if len(amb.Matches) != 2 || amb.Matches[0] != "Gate East" || amb.Matches[1] != "Yard - Gate West" {
		t.Errorf("Matches = %q", amb.Matches)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Gate East") || !strings.Contains(msg, "Yard - Gate West") {
		t.Errorf("message %q should name both doors", msg)
	}
}

func TestResolveDoorID_AmbiguousExactTier(t *testing.T) {
	doors := []Door{{ID: "1", Name: "Gate"}, {ID: "2", Name: "GATE"}, {ID: "3", Name: "Gatehouse"}}
	_, err := ResolveDoorID("gate", doors)
	var amb *AmbiguousDoorError
	if !errors.As(err, &amb) {
		t.Fatalf("error = %v, want *AmbiguousDoorError", err)
	}
	if len(amb.Matches) != 2 {
		t.Errorf("Matches = %q, want only the exact-name tier", amb.Matches)
	}
}

func TestResolveDoorID_NotFound(t *testing.T) {
	_, err := ResolveDoorID("gate", []Door{{ID: "1", Name: "Side Door"}})
	if !errors.Is(err, ErrDoorNotFound) {
		t.Fatalf("error = %v, want ErrDoorNotFound", err)
	}
	if !strings.Contains(err.Error(), "'gate'") {
		t.Errorf("message %q should quote the query", err.Error())
	}
}

func TestResolveDoorID_MissingID(t *testing.T) {
	_, err := ResolveDoorID("gate", []Door{{ID: " ", Name: "Gate"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Error() != "Matched door is missing a valid id" {
		t.Errorf("message = %q", apiErr.Error())
	}
}

func TestResolveDoorID_EmptyQuery(t *testing.T) {
	if _, err := ResolveDoorID(" ", []Door{{ID: "1", Name: "Gate"}}); !errors.Is(err, ErrDoorNameRequired) {
		t.Errorf("error = %v, want ErrDoorNameRequired", err)
	}
}
