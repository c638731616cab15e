package util

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManualClock(start)

	if got := Unix(c); got != 1_700_000_000 {
		t.Fatalf("Unix() = %d, want %d", got, 1_700_000_000)
	}

	c.Advance(8 * time.Hour)
	if got, want := c.Now(), start.Add(8*time.Hour); !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}

	fired := <-c.After(time.Minute)
	if want := start.Add(8*time.Hour + time.Minute); !fired.Equal(want) {
		t.Errorf("After() fired at %v, want %v", fired, want)
	}
}
