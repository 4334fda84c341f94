package idgen

import (
	"testing"
	"time"
)

func TestNewLength(t *testing.T) {
	id := New()
	if len(id) != timestampWidth+uuidWidth {
		t.Fatalf("expected length %d, got %d (%s)", timestampWidth+uuidWidth, len(id), id)
	}
}

func TestEncodeMonotonicallySortable(t *testing.T) {
	t1 := time.UnixMilli(1_700_000_000_000)
	t2 := time.UnixMilli(1_700_000_000_001)

	id1 := Encode(t1)
	id2 := Encode(t2)

	if !(id1[:timestampWidth] < id2[:timestampWidth]) {
		t.Fatalf("expected timestamp prefix of later time to sort after earlier: %s vs %s", id1, id2)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	original := time.UnixMilli(1_700_000_123_456)
	id := Encode(original)

	got, err := Timestamp(id)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if got.UnixMilli() != original.UnixMilli() {
		t.Fatalf("expected %d, got %d", original.UnixMilli(), got.UnixMilli())
	}
}

func TestTimestampRejectsShortID(t *testing.T) {
	if _, err := Timestamp("short"); err == nil {
		t.Fatal("expected error for short id")
	}
}

func TestEncodeUsesFullAlphabet(t *testing.T) {
	if len(alphabet) != 57 {
		t.Fatalf("expected 57-character alphabet, got %d", len(alphabet))
	}
}
