package cache

import (
	"testing"
	"time"
)

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want string
	}{
		{name: "30 minutes", age: 30 * time.Minute, want: "30m"},
		{name: "2 hours 15 minutes", age: 2*time.Hour + 15*time.Minute, want: "2h 15m"},
		{name: "3 days 5 hours", age: 3*24*time.Hour + 5*time.Hour, want: "3d 5h"},
		{name: "2 days 5 hours", age: 2*24*time.Hour + 5*time.Hour, want: "2d 5h"},
		{name: "exactly 2 days", age: 2 * 24 * time.Hour, want: "2d"},
		{name: "exactly 1 hour", age: time.Hour, want: "1h"},
		{name: "zero", age: 0, want: "0m"},
		{name: "future timestamp clamps to zero", age: -time.Hour, want: "0m"},
		{name: "days and minutes without hours", age: 3*24*time.Hour + 10*time.Minute, want: "3d 10m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatAge(now.Add(-tt.age), now)
			if got != tt.want {
				t.Errorf("FormatAge(-%v) = %q, want %q", tt.age, got, tt.want)
			}
		})
	}
}
