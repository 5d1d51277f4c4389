package tools

import (
	"context"
	"testing"
)

func TestRegister_RejectsInvalidNames(t *testing.T) {
	r := NewRegistry()

	cases := []string{"", "1leading-digit", "has space", "toolongtoolongtoolongtoolongtoolongtoolongtoolongtoolongtoolong12345"}
	for _, name := range cases {
		if err := r.Register(Tool{Name: name}); err == nil {
			t.Errorf("expected error for name %q", name)
		}
	}
}

func TestRegister_LastWinsWithReplace(t *testing.T) {
	r := NewRegistry()

	first := Tool{Name: "lookup", Description: "first"}
	second := Tool{Name: "lookup", Description: "second"}

	if err := r.Register(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	got, ok := r.Lookup("lookup")
	if !ok {
		t.Fatal("expected tool to be registered")
	}
	if got.Description != "second" {
		t.Errorf("expected last registration to win, got %q", got.Description)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 tool, got %d", r.Count())
	}
}

func TestRegisterToolkit_AccumulatesInstructions(t *testing.T) {
	r := NewRegistry()

	tk := Toolkit{
		Instructions: "Use these weather tools when asked about forecasts.",
		Tools: []Tool{
			{Name: "get_weather", Invoke: func(ctx context.Context, args map[string]any) (any, error) { return "sunny", nil }},
		},
	}

	if err := r.RegisterToolkit(tk); err != nil {
		t.Fatalf("RegisterToolkit: %v", err)
	}

	if len(r.Instructions()) != 1 {
		t.Fatalf("expected 1 instruction string, got %d", len(r.Instructions()))
	}
	if _, ok := r.Lookup("get_weather"); !ok {
		t.Error("expected get_weather to be registered")
	}
}

func TestList_IsSortedByName(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Tool{Name: "zeta"})
	_ = r.Register(Tool{Name: "alpha"})

	names := r.List()
	if len(names) != 2 || names[0].Name != "alpha" || names[1].Name != "zeta" {
		t.Errorf("expected sorted [alpha, zeta], got %v", names)
	}
}
