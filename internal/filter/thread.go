package filter

import (
	"fmt"
	"math"
	"sync"

	"keyfilterd/internal/event"
)

// TimeForever is the deadline meaning "sleep until explicitly woken".
const TimeForever int64 = math.MaxInt64

// ThreadCallback is the step function the host thread drives: process
// pending work, then sleep until the next deadline.
type ThreadCallback func()

// Thread is the handle to one host-supplied thread.
//
// SleepUntil blocks until the absolute deadline (nanoseconds on the shared
// monotonic clock) or until woken, whichever is first; TimeForever blocks
// until woken. Wake is idempotent and safe from any goroutine; a wake
// issued before the thread has started sleeping must still cause the
// subsequent sleep to return promptly. After Finish the thread is never
// asked to sleep again.
type Thread interface {
	SleepUntil(deadlineNs int64)
	Wake()
	Finish()
}

// TimeoutListener is implemented by stages that arm timeouts on the shared
// filter thread.
type TimeoutListener interface {
	// NotifyTimeoutExpired is invoked on the timer thread when a requested
	// deadline has passed. It must stay off the chain lock and keep its
	// critical sections bounded.
	NotifyTimeoutExpired(nowNs int64)
}

type createThreadFunc func(ThreadCallback) (Thread, error)

// FilterThread is the single shared scheduling primitive for delay-sensitive
// stages. The underlying host thread is created lazily on the first listener
// registration and is shared by every stage that schedules timed callbacks;
// there is never a second underlying thread.
type FilterThread struct {
	create createThreadFunc

	mu        sync.Mutex
	thread    Thread
	listeners []TimeoutListener
	nextNs    int64
}

func newFilterThread(creator ThreadCreator) *FilterThread {
	return &FilterThread{create: creator.Create, nextNs: TimeForever}
}

// RegisterListener adds a timeout listener, creating the host thread on
// first use. It fails if the host cannot supply a thread; a stage that
// depends on timing must treat that as fatal to its construction.
func (t *FilterThread) RegisterListener(l TimeoutListener) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.thread == nil {
		th, err := t.create(t.loopOnce)
		if err != nil {
			return fmt.Errorf("create filter thread: %w", err)
		}
		t.thread = th
	}
	t.listeners = append(t.listeners, l)
	return nil
}

// UnregisterListener removes a previously registered listener. A late
// timeout callback racing with unregistration is the listener's problem to
// make harmless; this only stops future dispatch.
func (t *FilterThread) UnregisterListener(l TimeoutListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, reg := range t.listeners {
		if reg == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			break
		}
	}
}

// RequestTimeout asks the thread to dispatch timeout notifications no later
// than whenNs. Requests only ever pull the shared deadline earlier; the
// deadline resets once it fires.
func (t *FilterThread) RequestTimeout(whenNs int64) {
	t.mu.Lock()
	var th Thread
	if whenNs < t.nextNs {
		t.nextNs = whenNs
		th = t.thread
	}
	t.mu.Unlock()

	if th != nil {
		th.Wake()
	}
}

// Wake forces the host thread to re-evaluate its deadline immediately.
func (t *FilterThread) Wake() {
	t.mu.Lock()
	th := t.thread
	t.mu.Unlock()

	if th != nil {
		th.Wake()
	}
}

// Stop shuts the host thread down. The FilterThread can be reused; a later
// registration creates a fresh host thread.
func (t *FilterThread) Stop() {
	t.mu.Lock()
	th := t.thread
	t.thread = nil
	t.listeners = nil
	t.nextNs = TimeForever
	t.mu.Unlock()

	if th != nil {
		th.Finish()
	}
}

// loopOnce is the step function driven by the host thread: dispatch expired
// timeouts, then sleep until the next deadline. Listeners are notified
// outside the lock so they can re-arm timeouts without deadlocking.
func (t *FilterThread) loopOnce() {
	now := event.NowNanos()

	var expired []TimeoutListener
	t.mu.Lock()
	if now >= t.nextNs {
		t.nextNs = TimeForever
		expired = append(expired, t.listeners...)
	}
	t.mu.Unlock()

	for _, l := range expired {
		l.NotifyTimeoutExpired(now)
	}

	t.mu.Lock()
	next := t.nextNs
	th := t.thread
	t.mu.Unlock()

	if th != nil {
		th.SleepUntil(next)
	}
}
