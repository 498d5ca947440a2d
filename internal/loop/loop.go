// Package loop runs callbacks one at a time on a single goroutine.
//
// Game sessions and room membership are only touched from inside the loop, so they need no
// locking. Timers fire on clock goroutines and post their callback back onto the loop.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultQueueSize = 4096

type Config struct {
	Clock     clockwork.Clock
	QueueSize int
}

type Loop struct {
	clock clockwork.Clock
	tasks chan func()
	done  chan struct{}
}

func New(c Config) *Loop {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	return &Loop{
		clock: c.Clock,
		tasks: make(chan func(), c.QueueSize),
		done:  make(chan struct{}),
	}
}

// Run executes posted callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	slog.InfoContext(ctx, "loop: started")
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "loop: stopped")
			return
		case fn := <-l.tasks:
			l.exec(ctx, fn)
		}
	}
}

func (l *Loop) exec(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "loop: task panic",
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	fn()
}

// Post queues fn to run on the loop. It reports false when the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return fmt.Errorf("loop: stopped")
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return fmt.Errorf("loop: stopped")
	}
}

// Timer is a pending callback created by AfterFunc.
type Timer interface {
	// Stop cancels the timer and reports whether the callback was prevented from running.
	// It must be called from the loop.
	Stop() bool
}

type timer struct {
	t       clockwork.Timer
	stopped bool
}

// Stop also drops a callback that the clock already fired but the loop has not run yet.
func (t *timer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}

// AfterFunc schedules fn to run on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &timer{}
	t.t = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}
