package timer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Loop is a wall-clock Scheduler. Expired timers are queued on an inbox and
// executed one at a time by Run, so callbacks never overlap.
type Loop struct {
	Inbox chan func()

	quit     chan struct{}
	quitOnce sync.Once

	mu     sync.Mutex
	timers map[Handle]*time.Timer
	next   atomic.Uint64
	fired  atomic.Uint64
}

func NewLoop() *Loop {
	return &Loop{
		Inbox:  make(chan func(), 256),
		quit:   make(chan struct{}),
		timers: make(map[Handle]*time.Timer),
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) Schedule(d time.Duration, fn func()) Handle {
	h := Handle(l.next.Inc())

	l.mu.Lock()
	defer l.mu.Unlock()

	l.timers[h] = time.AfterFunc(d, func() {
		l.Post(func() { l.fire(h, fn) })
	})
	return h
}

// fire runs on the loop goroutine. A handle cancelled after its timer
// expired but before this point is skipped.
func (l *Loop) fire(h Handle, fn func()) {
	l.mu.Lock()
	_, live := l.timers[h]
	delete(l.timers, h)
	l.mu.Unlock()

	if !live {
		return
	}
	l.fired.Inc()
	fn()
}

func (l *Loop) Cancel(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.timers[h]
	if !ok {
		return false
	}
	t.Stop()
	delete(l.timers, h)
	return true
}

// Post queues fn to run on the loop goroutine. After Run returns, posted
// work is discarded.
func (l *Loop) Post(fn func()) {
	select {
	case l.Inbox <- fn:
	case <-l.quit:
	}
}

// Pending is the number of scheduled callbacks that have not run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Fired counts callbacks executed since the loop was created.
func (l *Loop) Fired() uint64 {
	return l.fired.Load()
}

// Run executes queued callbacks until ctx is done, then stops every timer.
func (l *Loop) Run(ctx context.Context) {
	defer l.stopAll()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.Inbox:
			fn()
		}
	}
}

func (l *Loop) stopAll() {
	l.quitOnce.Do(func() { close(l.quit) })

	l.mu.Lock()
	defer l.mu.Unlock()
	for h, t := range l.timers {
		t.Stop()
		delete(l.timers, h)
	}
}
