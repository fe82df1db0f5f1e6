package ids

import (
	"context"
	"testing"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := New()
	seen := map[string]struct{}{prev: {}}
	for i := 0; i < 1000; i++ {
		id := New()
		if !Valid(id) {
			t.Fatalf("invalid ulid %q", id)
		}
		if id <= prev {
			t.Fatalf("ids not monotonic: %s <= %s", id, prev)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("unexpected id %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(ctx, "  ")); got != "" {
		t.Fatalf("blank id should not be stored, got %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(ctx, "req-1")); got != "req-1" {
		t.Fatalf("unexpected id %q", got)
	}
}
