package scheduler

import (
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("summaries", "*/5 * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("hourly", "@hourly", func() {}); err != nil {
		t.Errorf("Expected descriptor to parse, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Expected 2 jobs, got %d", s.Len())
	}
}

func TestSchedulerAddJob_Invalid(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	for _, expr := range []string{"", "not a cron", "* * * * * *"} {
		if err := s.AddJob("bad", expr, func() {}); err == nil {
			t.Errorf("Expected error for %q", expr)
		}
	}
	if s.Len() != 0 {
		t.Errorf("Expected no jobs, got %d", s.Len())
	}
}

func TestSchedulerStopReturns(t *testing.T) {
	s := NewScheduler()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
