package clock

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock_NowIsUTC(t *testing.T) {
	clock := &RealClock{}

	before := time.Now()
	actual := clock.Now()
	after := time.Now()

	if actual.Location() != time.UTC {
		t.Errorf("RealClock.Now() location = %v, want UTC", actual.Location())
	}
	if actual.Before(before.Add(-time.Second)) || actual.After(after.Add(time.Second)) {
		t.Errorf("RealClock.Now() = %v, expected between %v and %v", actual, before, after)
	}
}

func TestFakeClock(t *testing.T) {
	initialTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("returns fixed time", func(t *testing.T) {
		clock := NewFakeClock(initialTime)
		if !clock.Now().Equal(initialTime) {
			t.Errorf("Now() = %v, want %v", clock.Now(), initialTime)
		}
	})

	t.Run("set and advance", func(t *testing.T) {
		clock := NewFakeClock(initialTime)
		newTime := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		clock.Set(newTime)
		clock.Advance(90 * time.Minute)

		want := newTime.Add(90 * time.Minute)
		if !clock.Now().Equal(want) {
			t.Errorf("Now() = %v, want %v", clock.Now(), want)
		}
	})

	t.Run("concurrent advances accumulate", func(t *testing.T) {
		clock := NewFakeClock(initialTime)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				clock.Advance(time.Second)
			}()
		}
		wg.Wait()

		want := initialTime.Add(50 * time.Second)
		if !clock.Now().Equal(want) {
			t.Errorf("Now() = %v, want %v", clock.Now(), want)
		}
	})
}
