package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WatcherOptions configures an advertisement Watcher.
type WatcherOptions struct {
	// Adapter is the radio to scan with. Required.
	Adapter Adapter

	// Match selects the advertisements to deliver. Required.
	Match func(Advertisement) bool

	// Handle is invoked for every matching advertisement, from the
	// watcher goroutine. Required.
	Handle func(Advertisement)

	// RestartDelay is the pause before restarting a failed scan.
	// Defaults to 5s.
	RestartDelay time.Duration

	// Logger is optional; nil discards logs.
	Logger Logger
}

// Watcher delivers matching advertisements from a continuous scan.
// It never connects; passive sensors broadcast everything they know.
//
// If the scan fails or its channel closes, the watcher restarts it
// after RestartDelay until Stop is called.
type Watcher struct {
	adapter      Adapter
	match        func(Advertisement) bool
	handle       func(Advertisement)
	restartDelay time.Duration
	log          Logger

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatcher validates options and creates a stopped Watcher.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("%w: adapter is required", ErrInvalidOptions)
	}
	if opts.Match == nil {
		return nil, fmt.Errorf("%w: match is required", ErrInvalidOptions)
	}
	if opts.Handle == nil {
		return nil, fmt.Errorf("%w: handle is required", ErrInvalidOptions)
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 5 * time.Second
	}

	return &Watcher{
		adapter:      opts.Adapter,
		match:        opts.Match,
		handle:       opts.Handle,
		restartDelay: opts.RestartDelay,
		log:          opts.Logger,
		done:         make(chan struct{}),
	}, nil
}

// Start launches the scan loop. Returns ErrAlreadyStarted on a second call.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	go w.run(runCtx)
	return nil
}

// Stop cancels the scan loop and blocks until it has exited.
// Safe to call multiple times and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}

	w.stopOnce.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := w.adapter.Scan(ctx)
		if err != nil {
			if w.log != nil {
				w.log.Warn("scan failed, restarting", "error", err)
			}
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		w.consume(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		if !w.sleep(ctx) {
			return
		}
	}
}

// consume delivers matching advertisements until the channel closes or
// ctx is cancelled.
func (w *Watcher) consume(ctx context.Context, ch <-chan Advertisement) {
	for {
		select {
		case <-ctx.Done():
			return
		case adv, open := <-ch:
			if !open {
				return
			}
			if w.match(adv) {
				w.handle(adv)
			}
		}
	}
}

// sleep waits out the restart delay. Returns false if ctx was cancelled.
func (w *Watcher) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.restartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
