package filter

import (
	"sync"
	"time"

	"keyfilterd/internal/event"
)

// looperThread is the in-process host thread implementation. A receiver
// whose host runs in the same process can hand these out from
// CreateFilterThread.
//
// Wakes are a one-slot token: a Wake before the first SleepUntil leaves a
// token behind, so the subsequent sleep returns promptly instead of
// blocking for the full requested duration.
type looperThread struct {
	loopOnce ThreadCallback
	wake     chan struct{}
	done     chan struct{}
	finish   sync.Once
}

// StartLooperThread starts a goroutine that repeatedly invokes loopOnce
// until Finish is called on the returned handle.
func StartLooperThread(loopOnce ThreadCallback) Thread {
	t := &looperThread{
		loopOnce: loopOnce,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *looperThread) run() {
	for {
		select {
		case <-t.done:
			return
		default:
		}
		t.loopOnce()
	}
}

func (t *looperThread) SleepUntil(deadlineNs int64) {
	if deadlineNs == TimeForever {
		select {
		case <-t.wake:
		case <-t.done:
		}
		return
	}

	d := time.Duration(deadlineNs - event.NowNanos())
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.wake:
	case <-timer.C:
	case <-t.done:
	}
}

func (t *looperThread) Wake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *looperThread) Finish() {
	t.finish.Do(func() { close(t.done) })
}
