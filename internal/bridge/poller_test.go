package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubPolled counts polls and optionally fails some of them.
type stubPolled struct {
	inst Instance

	mu      sync.Mutex
	polls   int
	failAll bool
}

func (s *stubPolled) Instance() Instance { return s.inst }

func (s *stubPolled) Poll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.failAll {
		return errors.New("device unreachable")
	}
	return nil
}

func (s *stubPolled) HandleCommand(_ context.Context, _, _ string, _ []byte) error {
	return nil
}

func (s *stubPolled) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func TestClampPollInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     time.Duration
	}{
		{"zero gets default", 0, DefaultPollInterval},
		{"negative gets default", -time.Second, DefaultPollInterval},
		{"below minimum", time.Second, MinPollInterval},
		{"at minimum", 5 * time.Second, 5 * time.Second},
		{"in range", 90 * time.Second, 90 * time.Second},
		{"at maximum", 5 * time.Minute, 5 * time.Minute},
		{"above maximum", time.Hour, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampPollInterval(tt.interval); got != tt.want {
				t.Errorf("ClampPollInterval(%v) = %v, want %v", tt.interval, got, tt.want)
			}
		})
	}
}

func TestPollRunnerImmediateFirstPoll(t *testing.T) {
	polled := &stubPolled{inst: Instance{ID: "peplink_10_0_0_1"}}
	runner := NewPollRunner(polled, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer runner.Stop()

	deadline := time.After(time.Second)
	for polled.pollCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first poll never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPollRunnerSurvivesFailures(t *testing.T) {
	polled := &stubPolled{inst: Instance{ID: "peplink_10_0_0_1"}, failAll: true}
	runner := NewPollRunner(polled, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.After(time.Second)
	for polled.pollCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("poll never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Stop returns cleanly even though every poll failed.
	runner.Stop()
}

func TestPollRunnerDoubleStart(t *testing.T) {
	polled := &stubPolled{inst: Instance{ID: "peplink_10_0_0_1"}}
	runner := NewPollRunner(polled, time.Minute, nil)

	ctx := context.Background()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer runner.Stop()

	if err := runner.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestPollRunnerStopBeforeStart(t *testing.T) {
	polled := &stubPolled{inst: Instance{ID: "peplink_10_0_0_1"}}
	runner := NewPollRunner(polled, time.Minute, nil)
	runner.Stop() // must not panic or block
}
