package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(16)
	if len(hex) != 16 {
		t.Errorf("expected length 16, got %d", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("unexpected character %q in hex string", c)
		}
	}

	if GenerateRandomHex(0) != "" {
		t.Error("expected empty string for zero length")
	}
	if GenerateRandomHex(-5) != "" {
		t.Error("expected empty string for negative length")
	}
}

func TestGenerateCampaignID(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	id := GenerateCampaignID(ts)
	if !strings.HasPrefix(id, "bulk_20250314_092653_") {
		t.Errorf("unexpected campaign ID prefix: %s", id)
	}
	if len(id) != len("bulk_20250314_092653_")+4 {
		t.Errorf("unexpected campaign ID length: %s", id)
	}
}

func TestJitter(t *testing.T) {
	min, max := 2*time.Second, 4*time.Second
	for i := 0; i < 100; i++ {
		d := Jitter(min, max)
		if d < min || d > max {
			t.Fatalf("jitter %v out of range [%v, %v]", d, min, max)
		}
	}

	if d := Jitter(max, min); d != max {
		t.Errorf("expected min returned when range inverted, got %v", d)
	}
}
