package bridge

import (
	"context"
	"sync"
	"time"
)

// Poll interval bounds. Tighter than 5s hammers device APIs for no
// benefit; looser than 5m leaves entities stale enough to mislead.
const (
	MinPollInterval     = 5 * time.Second
	MaxPollInterval     = 5 * time.Minute
	DefaultPollInterval = time.Minute
)

// ClampPollInterval bounds an interval to [MinPollInterval,
// MaxPollInterval]. A zero or negative interval gets the default.
func ClampPollInterval(interval time.Duration) time.Duration {
	switch {
	case interval <= 0:
		return DefaultPollInterval
	case interval < MinPollInterval:
		return MinPollInterval
	case interval > MaxPollInterval:
		return MaxPollInterval
	default:
		return interval
	}
}

// PollRunner adapts a PolledDriver to the Driver lifecycle by calling
// Poll on a fixed interval. The first poll runs immediately on Start.
// Poll failures are logged and retried on the next tick; they never
// stop the loop.
type PollRunner struct {
	driver   PolledDriver
	interval time.Duration
	logger   Logger

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPollRunner wraps a polled driver. The interval is clamped.
func NewPollRunner(driver PolledDriver, interval time.Duration, logger Logger) *PollRunner {
	if logger == nil {
		logger = noopLogger{}
	}
	return &PollRunner{
		driver:   driver,
		interval: ClampPollInterval(interval),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Instance returns the wrapped driver's instance.
func (p *PollRunner) Instance() Instance {
	return p.driver.Instance()
}

// Interval returns the clamped poll interval.
func (p *PollRunner) Interval() time.Duration {
	return p.interval
}

// Start launches the poll loop. Returns ErrAlreadyStarted on a second call.
func (p *PollRunner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx)
	return nil
}

// Stop cancels the poll loop and blocks until it has exited.
// Safe to call multiple times and before Start.
func (p *PollRunner) Stop() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return
	}

	p.stopOnce.Do(func() {
		p.cancel()
		<-p.done
	})
}

// HandleCommand forwards to the wrapped driver.
func (p *PollRunner) HandleCommand(ctx context.Context, deviceID, field string, payload []byte) error {
	return p.driver.HandleCommand(ctx, deviceID, field, payload)
}

func (p *PollRunner) run(ctx context.Context) {
	defer close(p.done)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *PollRunner) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := p.driver.Poll(ctx); err != nil {
		p.logger.Warn("poll failed",
			"instance", p.driver.Instance().ID,
			"error", err)
	}
}
