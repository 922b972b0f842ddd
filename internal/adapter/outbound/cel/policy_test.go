package cel

import (
	"context"
	"testing"
)

func TestNewPolicyEvaluator_RejectsInvalidRule(t *testing.T) {
	_, err := NewPolicyEvaluator([]Rule{{Name: "broken", PathPrefix: "/api", Condition: `role ==`}})
	if err == nil {
		t.Fatal("NewPolicyEvaluator() accepted an invalid condition")
	}
}

func TestPolicyEvaluator_Check(t *testing.T) {
	pe, err := NewPolicyEvaluator([]Rule{
		{Name: "verified-email", PathPrefix: "/api/chat", Condition: `email_verified || role == "admin"`},
		{Name: "elevated-hints", PathPrefix: "/api/hint", Condition: `role in ["elevated", "admin"]`},
	})
	if err != nil {
		t.Fatalf("NewPolicyEvaluator() error: %v", err)
	}
	if pe.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", pe.Len())
	}

	tests := []struct {
		name     string
		req      Request
		allowed  bool
		deniedBy string
	}{
		{"unverified chat", Request{Role: "standard", Path: "/api/chat"}, false, "verified-email"},
		{"verified chat", Request{Role: "standard", EmailVerified: true, Path: "/api/chat"}, true, ""},
		{"admin bypass", Request{Role: "admin", Path: "/api/chat"}, true, ""},
		{"standard hint", Request{Role: "standard", EmailVerified: true, Path: "/api/hint"}, false, "elevated-hints"},
		{"unrelated path", Request{Role: "standard", Path: "/api/progress"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := pe.Check(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Check() error: %v", err)
			}
			if d.Allowed != tt.allowed || d.Rule != tt.deniedBy {
				t.Errorf("Check() = %+v, want allowed=%v rule=%q", d, tt.allowed, tt.deniedBy)
			}
		})
	}
}

func TestPolicyEvaluator_NoRules(t *testing.T) {
	pe, err := NewPolicyEvaluator(nil)
	if err != nil {
		t.Fatalf("NewPolicyEvaluator() error: %v", err)
	}
	d, err := pe.Check(context.Background(), Request{Path: "/api/chat"})
	if err != nil || !d.Allowed {
		t.Errorf("Check() = %+v, %v, want allowed", d, err)
	}
}
