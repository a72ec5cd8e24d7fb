package connection

import (
	"testing"
	"time"
)

func TestDelayForSchedule(t *testing.T) {
	schedule := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 5 * time.Second},
		{3, 5 * time.Second},  // 超出计划取封顶值
		{100, 5 * time.Second},
	}

	for _, c := range cases {
		if got := delayFor(schedule, c.attempt); got != c.want {
			t.Errorf("attempt %d: expected %s, got %s", c.attempt, c.want, got)
		}
	}
}

func TestDelayForEmptySchedule(t *testing.T) {
	if got := delayFor(nil, 0); got != time.Second {
		t.Errorf("expected 1s fallback, got %s", got)
	}
}

// 默认计划单调不减
func TestDefaultScheduleMonotonic(t *testing.T) {
	for i := 1; i < len(DefaultBackoffSchedule); i++ {
		if DefaultBackoffSchedule[i] < DefaultBackoffSchedule[i-1] {
			t.Errorf("schedule decreases at index %d: %s < %s",
				i, DefaultBackoffSchedule[i], DefaultBackoffSchedule[i-1])
		}
	}
}
