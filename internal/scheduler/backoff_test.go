package scheduler

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		base := time.Second << (attempt - 1)
		if base > 10*time.Second {
			base = 10 * time.Second
		}
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			if d < base {
				t.Fatalf("attempt %d: delay %v below base %v", attempt, d, base)
			}
			if d > 10*time.Second {
				t.Fatalf("attempt %d: delay %v above cap", attempt, d)
			}
		}
	}
}

func TestBackoffClampsBadInputs(t *testing.T) {
	b := NewBackoff(0, -1)
	if d := b.Delay(0); d < time.Second {
		t.Errorf("delay %v below defaulted base", d)
	}

	// max below base is raised to base
	b = NewBackoff(5*time.Second, time.Second)
	if d := b.Delay(3); d > 5*time.Second {
		t.Errorf("delay %v exceeds corrected cap", d)
	}
}
