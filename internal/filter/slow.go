package filter

import (
	"sync"

	"keyfilterd/internal/event"
	"keyfilterd/internal/logging"
)

type downKey struct {
	deviceID int32
	keyCode  int32
}

// pendingDown is a key-down being held until its key stays down past the
// slow keys threshold.
type pendingDown struct {
	ev       event.KeyEvent
	deadline int64
}

// slowKeysFilter delays key-downs from external keyboards until the key has
// been held past the configured threshold, filtering out accidental grazes.
//
// A down is held, not forwarded; if the up arrives before the threshold the
// pair is dropped. Once the threshold passes the down is forwarded from the
// shared timer thread, with delivery time becoming the official down time,
// and the eventual up passes through. Keyboards not marked external pass
// through untouched.
type slowKeysFilter struct {
	next        Filter
	thresholdNs int64
	thread      *FilterThread

	mu        sync.Mutex
	external  map[int32]bool
	pending   []pendingDown
	ongoing   map[downKey]bool
	destroyed bool
}

// newSlowKeysFilter fails if the host cannot supply the timer thread; a
// slow keys stage without delays would be non-functional.
func newSlowKeysFilter(next Filter, thresholdNs int64, thread *FilterThread) (*slowKeysFilter, error) {
	f := &slowKeysFilter{
		next:        next,
		thresholdNs: thresholdNs,
		thread:      thread,
		external:    make(map[int32]bool),
		ongoing:     make(map[downKey]bool),
	}
	if err := thread.RegisterListener(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *slowKeysFilter) NotifyKey(ev *event.KeyEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return
	}
	if !f.external[ev.DeviceID] {
		f.next.NotifyKey(ev)
		return
	}

	key := downKey{deviceID: ev.DeviceID, keyCode: ev.KeyCode}
	switch ev.Action {
	case event.ActionDown:
		deadline := ev.DownTime + f.thresholdNs
		f.pending = append(f.pending, pendingDown{ev: *ev, deadline: deadline})
		f.thread.RequestTimeout(deadline)

	case event.ActionUp:
		if f.dropPending(key) {
			// Released before the threshold: the held down is cancelled
			// and its up is swallowed with it.
			logging.Debug("slow keys: key released early, down suppressed",
				"device_id", ev.DeviceID, "key_code", ev.KeyCode)
			return
		}
		delete(f.ongoing, key)
		f.next.NotifyKey(ev)

	default:
		f.next.NotifyKey(ev)
	}
}

// dropPending removes the held down for key, reporting whether one existed.
// Caller holds f.mu.
func (f *slowKeysFilter) dropPending(key downKey) bool {
	for i, p := range f.pending {
		if p.ev.DeviceID == key.deviceID && p.ev.KeyCode == key.keyCode {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return true
		}
	}
	return false
}

// NotifyTimeoutExpired runs on the timer thread. Due downs are forwarded
// under f.mu so a concurrent up on the event thread cannot overtake the
// down it belongs to.
func (f *slowKeysFilter) NotifyTimeoutExpired(nowNs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return
	}

	remaining := f.pending[:0]
	next := TimeForever
	for _, p := range f.pending {
		if p.deadline <= nowNs {
			ev := p.ev
			ev.DownTime = nowNs
			ev.EventTime = nowNs
			f.ongoing[downKey{deviceID: ev.DeviceID, keyCode: ev.KeyCode}] = true
			f.next.NotifyKey(&ev)
		} else {
			if p.deadline < next {
				next = p.deadline
			}
			remaining = append(remaining, p)
		}
	}
	f.pending = remaining

	if next != TimeForever {
		f.thread.RequestTimeout(next)
	}
}

// NotifyDevicesChanged tracks which devices are external keyboards and
// drops held state for devices that disappeared.
func (f *slowKeysFilter) NotifyDevicesChanged(devices []event.DeviceInfo) {
	f.mu.Lock()
	f.external = make(map[int32]bool, len(devices))
	for _, d := range devices {
		if d.External {
			f.external[d.ID] = true
		}
	}
	remaining := f.pending[:0]
	for _, p := range f.pending {
		if f.external[p.ev.DeviceID] {
			remaining = append(remaining, p)
		}
	}
	f.pending = remaining
	for key := range f.ongoing {
		if !f.external[key.deviceID] {
			delete(f.ongoing, key)
		}
	}
	f.mu.Unlock()

	f.next.NotifyDevicesChanged(devices)
}

// Destroy unregisters from the timer thread and drops held state. A timeout
// callback already in flight observes the destroyed flag and becomes a
// no-op.
func (f *slowKeysFilter) Destroy() {
	f.thread.UnregisterListener(f)

	f.mu.Lock()
	f.pending = nil
	f.ongoing = nil
	f.destroyed = true
	f.mu.Unlock()

	f.next.Destroy()
}
