package compose

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

var testBranding = Branding{
	ServerName: "Pine Valley",
	IconURL:    "https://example.test/icon.png",
	FooterText: "Pine Valley Applications",
}

func fieldByLabel(p Payload, label string) (Field, bool) {
	for _, f := range p.Fields {
		if f.Label == label {
			return f, true
		}
	}
	return Field{}, false
}

func TestComposeApproved(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 14, 15, 9, 0, 0, time.UTC)
	p := Compose(DecisionApproved, "great work", testBranding, now)

	if p.Color != ColorGreen {
		t.Fatalf("Color = %#x, want green", p.Color)
	}
	if p.Status != "Approved" {
		t.Fatalf("Status = %q", p.Status)
	}
	if !strings.Contains(p.Body, "approved") {
		t.Fatalf("Body = %q, want approval copy", p.Body)
	}
	if f, ok := fieldByLabel(p, "Staff Note"); !ok || f.Value != "great work" {
		t.Fatalf("Staff Note field = %+v, ok=%v", f, ok)
	}
	if _, ok := fieldByLabel(p, "What's Next"); !ok {
		t.Fatal("approved payload missing supplementary field")
	}
	if f, ok := fieldByLabel(p, "Decided"); !ok || !strings.Contains(f.Value, "2025") {
		t.Fatalf("Decided field = %+v, ok=%v", f, ok)
	}
}

func TestComposeDenied(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.March, 14, 15, 9, 0, 0, time.UTC)

	tests := []struct {
		name       string
		reason     string
		wantReason bool
	}{
		{name: "with reason", reason: "incomplete application", wantReason: true},
		{name: "without reason", reason: "", wantReason: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Compose(DecisionDenied, tt.reason, testBranding, now)
			if p.Color != ColorRed {
				t.Fatalf("Color = %#x, want red", p.Color)
			}
			if !strings.Contains(p.Body, "denied") {
				t.Fatalf("Body = %q, want denial copy", p.Body)
			}
			if _, ok := fieldByLabel(p, "Staff Note"); ok {
				t.Fatal("denied payload must not carry Staff Note")
			}
			if _, ok := fieldByLabel(p, "What's Next"); ok {
				t.Fatal("denied payload must not carry the approval field")
			}
			_, ok := fieldByLabel(p, "Reason")
			if ok != tt.wantReason {
				t.Fatalf("Reason field present=%v, want %v", ok, tt.wantReason)
			}
		})
	}
}

func TestComposeDeterministic(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC)
	a := Compose(DecisionApproved, "great work", testBranding, now)
	b := Compose(DecisionApproved, "great work", testBranding, now)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("compose not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestDecisionValid(t *testing.T) {
	t.Parallel()
	if !DecisionApproved.Valid() || !DecisionDenied.Valid() {
		t.Fatal("known decisions must be valid")
	}
	if Decision("maybe").Valid() {
		t.Fatal("unknown decision must be invalid")
	}
}
