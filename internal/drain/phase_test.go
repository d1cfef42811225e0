package drain

import (
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0m 00s"},
		{999 * time.Millisecond, "0m 00s"},
		{5 * time.Second, "0m 05s"},
		{90 * time.Second, "1m 30s"},
		{61*time.Minute + 9*time.Second, "61m 09s"},
		{-time.Second, "0m 00s"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.d); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		total, queued, running int
		want                   float64
	}{
		{0, 0, 0, 0},
		{2, 2, 0, 0},
		{2, 0, 1, 0.5},
		{4, 1, 0, 0.75},
		{2, 0, 0, 1},
	}
	for _, tt := range tests {
		if got := Progress(tt.total, tt.queued, tt.running); got != tt.want {
			t.Errorf("Progress(%d, %d, %d) = %v, want %v", tt.total, tt.queued, tt.running, got, tt.want)
		}
	}
}
