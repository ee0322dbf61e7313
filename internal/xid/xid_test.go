package xid

import (
	"strings"
	"testing"
	"time"
)

func TestStockIDsAreDistinctAndLowercase(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		id := Stock()
		if id != strings.ToLower(id) {
			t.Fatalf("expected lowercase base36 id, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate stock id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestMillisIsStrictlyIncreasing(t *testing.T) {
	now := time.Now()
	first := Millis(now)
	second := Millis(now)
	if second <= first {
		t.Fatalf("expected %d > %d", second, first)
	}
}

func TestNewKeepsPrefix(t *testing.T) {
	if id := New("receipt"); !strings.HasPrefix(id, "receipt-") {
		t.Fatalf("expected receipt- prefix, got %q", id)
	}
}
