package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a, err := NewID("wg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(a, "wg.") {
		t.Fatalf("expected prefix wg., got %q", a)
	}
	if len(a) != len("wg.")+idLength {
		t.Fatalf("unexpected id length %d for %q", len(a), a)
	}
	if strings.ContainsAny(a, "-_") {
		t.Fatalf("id contains separator characters: %q", a)
	}

	b, err := NewID("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b) != idLength {
		t.Fatalf("expected bare id of length %d, got %q", idLength, b)
	}
	if a == b {
		t.Fatal("expected distinct ids")
	}
}
