package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPeriod = time.Second
	MinPeriod     = 100 * time.Millisecond
	MaxPeriod     = 10 * time.Second
)

var ErrPeriodOutOfRange = errors.New("capture period out of range")

// TickFunc is called on the ticker goroutine, in tick order, and must not
// block. seq increases by one per tick across the whole lifetime of the
// loop, including restarts.
type TickFunc func(seq uint64)

// Handle identifies one armed ticker. It exists only while the loop is armed.
type Handle struct {
	ID       string
	ArmedAt  time.Time
	ticker   *clock.Ticker
	done     chan struct{}
	finished chan struct{}
}

// Loop is a cancellable periodic timer. Callers hand the real work off to
// another goroutine, so a slow cycle never delays the next tick.
type Loop struct {
	clock  clock.Clock
	period time.Duration
	onTick TickFunc
	newID  func(time.Time) (string, error)
	log    *logrus.Entry

	mu     sync.Mutex
	handle *Handle
	seq    atomic.Uint64
	active atomic.Int32
}

type Option func(*Loop)

func WithClock(c clock.Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

func WithIDGenerator(fn func(time.Time) (string, error)) Option {
	return func(l *Loop) {
		l.newID = fn
	}
}

func NewLoop(period time.Duration, onTick TickFunc, log *logrus.Entry, opts ...Option) (*Loop, error) {
	if period == 0 {
		period = DefaultPeriod
	}
	if period < MinPeriod || period > MaxPeriod {
		return nil, ErrPeriodOutOfRange
	}

	l := &Loop{
		clock:  clock.New(),
		period: period,
		onTick: onTick,
		log:    log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start arms the loop. It reports false when the loop was already armed,
// in which case nothing changes.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != nil {
		return false
	}

	now := l.clock.Now()
	h := &Handle{
		ID:       l.handleID(now),
		ArmedAt:  now,
		ticker:   l.clock.Ticker(l.period),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	l.handle = h
	l.active.Add(1)

	go l.run(h)

	l.log.WithFields(logrus.Fields{
		"handle": h.ID,
		"period": l.period.String(),
	}).Info("Capture loop armed")
	return true
}

// Stop disarms the loop and waits for the ticker goroutine to exit. Work
// already handed off by a tick keeps running. It reports false when already disarmed.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	h := l.handle
	l.handle = nil
	l.mu.Unlock()

	if h == nil {
		return false
	}

	h.ticker.Stop()
	close(h.done)
	<-h.finished

	l.log.WithField("handle", h.ID).Info("Capture loop disarmed")
	return true
}

func (l *Loop) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Handle returns the current handle, or nil when disarmed.
func (l *Loop) Handle() *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle
}

func (l *Loop) Period() time.Duration {
	return l.period
}

// LastSeq is the sequence number of the most recent tick, 0 before the first.
func (l *Loop) LastSeq() uint64 {
	return l.seq.Load()
}

func (l *Loop) run(h *Handle) {
	defer func() {
		l.active.Add(-1)
		close(h.finished)
	}()

	for {
		select {
		case <-h.done:
			return
		case <-h.ticker.C:
			select {
			case <-h.done:
				return
			default:
			}
			l.onTick(l.seq.Add(1))
		}
	}
}

func (l *Loop) handleID(now time.Time) string {
	if l.newID != nil {
		if id, err := l.newID(now); err == nil {
			return id
		}
	}
	return now.Format("20060102T150405.000000000")
}
