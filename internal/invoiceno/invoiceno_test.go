package invoiceno

import "testing"

func TestNextStartsAtOne(t *testing.T) {
	got, err := Next("SV", 2026, "")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != "SV-2026-0001" {
		t.Fatalf("expected SV-2026-0001, got %s", got)
	}
}

func TestNextIncrements(t *testing.T) {
	got, err := Next("SV", 2026, "SV-2026-0041")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != "SV-2026-0042" {
		t.Fatalf("expected SV-2026-0042, got %s", got)
	}
}

func TestNextBeyondPadding(t *testing.T) {
	// The zero padding is cosmetic; sequences past 9999 keep growing. The
	// previous number must be picked by numeric order (length before value in
	// the store scans), or the sequence would fold back onto 10000 forever.
	got, err := Next("SV", 2026, "SV-2026-9999")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != "SV-2026-10000" {
		t.Fatalf("expected SV-2026-10000, got %s", got)
	}

	got, err = Next("SV", 2026, "SV-2026-10000")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != "SV-2026-10001" {
		t.Fatalf("expected SV-2026-10001, got %s", got)
	}
}

func TestSequenceMalformed(t *testing.T) {
	for _, bad := range []string{"", "SV-2026-", "SV-2026-abc", "nodash"} {
		if _, err := Sequence(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestYearPrefix(t *testing.T) {
	if got := YearPrefix("SV", 2026); got != "SV-2026-" {
		t.Fatalf("expected SV-2026-, got %s", got)
	}
}
