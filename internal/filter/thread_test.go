package filter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyfilterd/internal/event"
)

// manualThread is a host thread fake that records calls instead of running
// a loop. Tests drive timeout dispatch by calling listeners directly.
type manualThread struct {
	mu           sync.Mutex
	wakes        int
	lastDeadline int64
	finished     bool
}

func (t *manualThread) SleepUntil(deadlineNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastDeadline = deadlineNs
}

func (t *manualThread) Wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wakes++
}

func (t *manualThread) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
}

func (t *manualThread) wakeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wakes
}

func (t *manualThread) isFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

// recordingListener records timeout notifications.
type recordingListener struct {
	mu    sync.Mutex
	fired chan int64
}

func newRecordingListener() *recordingListener {
	return &recordingListener{fired: make(chan int64, 16)}
}

func (l *recordingListener) NotifyTimeoutExpired(nowNs int64) {
	l.fired <- nowNs
}

func newManualFilterThread(mt *manualThread) *FilterThread {
	return &FilterThread{
		create: func(cb ThreadCallback) (Thread, error) { return mt, nil },
		nextNs: TimeForever,
	}
}

// Looper thread tests.

func TestLooperWakeBeforeFirstSleepNotLost(t *testing.T) {
	var th Thread
	armed := make(chan struct{})
	slept := make(chan time.Duration, 1)

	th = StartLooperThread(func() {
		<-armed
		start := time.Now()
		th.SleepUntil(event.NowNanos() + int64(5*time.Second))
		slept <- time.Since(start)
		th.Finish()
	})

	// Wake before the thread has entered its first sleep.
	th.Wake()
	close(armed)

	select {
	case d := <-slept:
		assert.Less(t, d, time.Second, "sleep should return promptly after an early wake")
	case <-time.After(10 * time.Second):
		t.Fatal("looper never returned from sleep")
	}
}

func TestLooperSleepUntilDeadlineExpires(t *testing.T) {
	var th Thread
	armed := make(chan struct{})
	slept := make(chan time.Duration, 1)

	th = StartLooperThread(func() {
		<-armed
		start := time.Now()
		th.SleepUntil(event.NowNanos() + int64(30*time.Millisecond))
		slept <- time.Since(start)
		th.Finish()
	})
	close(armed)

	select {
	case d := <-slept:
		assert.GreaterOrEqual(t, d, 20*time.Millisecond)
		assert.Less(t, d, 5*time.Second)
	case <-time.After(10 * time.Second):
		t.Fatal("looper never returned from sleep")
	}
}

func TestLooperForeverSleepReturnsOnWake(t *testing.T) {
	var th Thread
	armed := make(chan struct{})
	woke := make(chan struct{})
	var once sync.Once

	th = StartLooperThread(func() {
		<-armed
		th.SleepUntil(TimeForever)
		once.Do(func() { close(woke) })
		th.Finish()
	})
	close(armed)

	time.Sleep(10 * time.Millisecond)
	th.Wake()

	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("wake did not interrupt a forever sleep")
	}
}

func TestLooperFinishUnblocksSleep(t *testing.T) {
	var th Thread
	armed := make(chan struct{})
	returned := make(chan struct{})
	var once sync.Once

	th = StartLooperThread(func() {
		<-armed
		th.SleepUntil(TimeForever)
		once.Do(func() { close(returned) })
	})
	close(armed)

	time.Sleep(10 * time.Millisecond)
	th.Finish()

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("finish did not unblock the sleeping thread")
	}
}

// FilterThread tests.

func TestFilterThreadLazyCreation(t *testing.T) {
	created := 0
	ft := &FilterThread{
		create: func(cb ThreadCallback) (Thread, error) {
			created++
			return &manualThread{}, nil
		},
		nextNs: TimeForever,
	}

	require.NoError(t, ft.RegisterListener(newRecordingListener()))
	require.NoError(t, ft.RegisterListener(newRecordingListener()))
	assert.Equal(t, 1, created, "one host thread shared by all listeners")
}

func TestFilterThreadCreateFailure(t *testing.T) {
	ft := &FilterThread{
		create: func(cb ThreadCallback) (Thread, error) {
			return nil, assert.AnError
		},
		nextNs: TimeForever,
	}

	err := ft.RegisterListener(newRecordingListener())
	require.Error(t, err)
}

func TestFilterThreadRequestTimeoutWakesThread(t *testing.T) {
	mt := &manualThread{}
	ft := newManualFilterThread(mt)
	require.NoError(t, ft.RegisterListener(newRecordingListener()))

	ft.RequestTimeout(100)
	assert.Equal(t, 1, mt.wakeCount())

	// A later deadline must not disturb the earlier one.
	ft.RequestTimeout(200)
	assert.Equal(t, 1, mt.wakeCount())

	// An earlier deadline pulls the wakeup forward.
	ft.RequestTimeout(50)
	assert.Equal(t, 2, mt.wakeCount())
}

func TestFilterThreadDispatchesTimeouts(t *testing.T) {
	ft := &FilterThread{
		create: func(cb ThreadCallback) (Thread, error) {
			return StartLooperThread(cb), nil
		},
		nextNs: TimeForever,
	}
	defer ft.Stop()

	listener := newRecordingListener()
	require.NoError(t, ft.RegisterListener(listener))

	deadline := event.NowNanos() + int64(20*time.Millisecond)
	ft.RequestTimeout(deadline)

	select {
	case now := <-listener.fired:
		assert.GreaterOrEqual(t, now, deadline)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout never dispatched")
	}
}

func TestFilterThreadUnregisterStopsDispatch(t *testing.T) {
	mt := &manualThread{}
	ft := newManualFilterThread(mt)

	listener := newRecordingListener()
	require.NoError(t, ft.RegisterListener(listener))
	ft.UnregisterListener(listener)

	ft.RequestTimeout(event.NowNanos() - 1)
	ft.loopOnce()

	select {
	case <-listener.fired:
		t.Fatal("unregistered listener still notified")
	default:
	}
}

func TestFilterThreadStopFinishesThread(t *testing.T) {
	mt := &manualThread{}
	ft := newManualFilterThread(mt)
	require.NoError(t, ft.RegisterListener(newRecordingListener()))

	ft.Stop()
	assert.True(t, mt.isFinished())
}
