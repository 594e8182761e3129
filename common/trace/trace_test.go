package trace

import (
	"context"
	"strings"
	"testing"
)

func TestNewID_Format(t *testing.T) {
	id := NewID()
	if !strings.HasPrefix(id, "t_") {
		t.Fatalf("expected t_ prefix, got %q", id)
	}
	if len(id) != 34 {
		t.Fatalf("expected 34 chars, got %d (%q)", len(id), id)
	}
	if strings.Trim(id[2:], "0123456789abcdef") != "" {
		t.Fatalf("expected lowercase hex after the prefix, got %q", id)
	}
	if NewID() == id {
		t.Fatal("expected distinct IDs")
	}
}

func TestEnsure_KeepsExisting(t *testing.T) {
	ctx := WithID(context.Background(), "t_fixed")
	if got := FromContext(Ensure(ctx)); got != "t_fixed" {
		t.Fatalf("expected existing ID to be kept, got %q", got)
	}
}

func TestEnsure_AddsMissing(t *testing.T) {
	if got := FromContext(context.Background()); got != "" {
		t.Fatalf("expected empty ID, got %q", got)
	}
	if got := FromContext(Ensure(context.Background())); got == "" {
		t.Fatal("expected Ensure to add an ID")
	}
}
