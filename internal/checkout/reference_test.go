package checkout

import (
	"regexp"
	"testing"
	"time"
)

func TestNewReference(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 30, 15, 0, time.FixedZone("IST", 5*3600+1800))
	pattern := regexp.MustCompile(`^ORD-20260504050015-[0-9A-F]{8}$`)

	ref := NewReference(now)
	if !pattern.MatchString(ref) {
		t.Errorf("unexpected reference format %s", ref)
	}

	seen := make(map[string]bool)
	for range 1000 {
		ref := NewReference(now)
		if seen[ref] {
			t.Fatalf("duplicate reference %s", ref)
		}
		seen[ref] = true
	}
}
