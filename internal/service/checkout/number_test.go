package checkout

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-[0-9A-Z]+-[0-9A-Z]{8}$`)

func TestNewOrderNumber_Format(t *testing.T) {
	now := time.UnixMilli(1_735_689_600_000)

	number, err := NewOrderNumber(now)
	if err != nil {
		t.Fatalf("generate number: %v", err)
	}
	if !orderNumberPattern.MatchString(number) {
		t.Fatalf("unexpected number format: %s", number)
	}

	parts := strings.Split(number, "-")
	stamp, err := strconv.ParseInt(strings.ToLower(parts[1]), 36, 64)
	if err != nil {
		t.Fatalf("parse timestamp part: %v", err)
	}
	if stamp != now.UnixMilli() {
		t.Fatalf("timestamp part = %d, want %d", stamp, now.UnixMilli())
	}
}

func TestNewOrderNumber_Unique(t *testing.T) {
	const total = 10_000

	// Одна и та же миллисекунда: уникальность держится только на случайной части.
	now := time.Now()
	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		number, err := NewOrderNumber(now)
		if err != nil {
			t.Fatalf("generate number: %v", err)
		}
		if _, dup := seen[number]; dup {
			t.Fatalf("duplicate order number after %d iterations: %s", i, number)
		}
		seen[number] = struct{}{}
	}
}

func TestRandomBase36Alphabet(t *testing.T) {
	value, err := randomBase36(256)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if len(value) != 256 {
		t.Fatalf("length = %d, want 256", len(value))
	}
	for _, r := range value {
		if !strings.ContainsRune(numberAlphabet, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
}
