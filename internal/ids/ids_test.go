package ids

import (
	"testing"
	"time"
)

func TestNewIsValidAndSortable(t *testing.T) {
	first := NewAt(time.Unix(1_700_000_000, 0))
	second := NewAt(time.Unix(1_700_000_001, 0))
	if !Valid(first) || !Valid(second) {
		t.Fatalf("expected generated ids to be valid: %q %q", first, second)
	}
	if first >= second {
		t.Fatalf("expected %q < %q", first, second)
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "not-a-ulid-not-a-ulid-123", "0123456789ABCDEFGHJKMNPQRSZ"} {
		if Valid(in) {
			t.Fatalf("expected %q to be invalid", in)
		}
	}
}
