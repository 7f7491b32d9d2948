package filter

import (
	"sync"

	"keyfilterd/internal/event"
	"keyfilterd/internal/logging"
)

// bounceKeysFilter suppresses key bounces on external keyboards: a key-down
// arriving within the threshold of the previous key-up of the same key is
// dropped, along with its matching up. Tremors and switch chatter produce
// exactly such rapid re-presses.
//
// Suppression needs only the timestamps already on the events, so this
// stage takes no timer thread.
type bounceKeysFilter struct {
	next        Filter
	thresholdNs int64

	mu        sync.Mutex
	external  map[int32]bool
	lastUp    map[downKey]int64
	blocked   map[downKey]bool
	destroyed bool
}

func newBounceKeysFilter(next Filter, thresholdNs int64) *bounceKeysFilter {
	return &bounceKeysFilter{
		next:        next,
		thresholdNs: thresholdNs,
		external:    make(map[int32]bool),
		lastUp:      make(map[downKey]int64),
		blocked:     make(map[downKey]bool),
	}
}

func (f *bounceKeysFilter) NotifyKey(ev *event.KeyEvent) {
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
		if upTime, ok := f.lastUp[key]; ok && ev.DownTime-upTime < f.thresholdNs {
			f.blocked[key] = true
			logging.Debug("bounce keys: key-down suppressed",
				"device_id", ev.DeviceID, "key_code", ev.KeyCode)
			return
		}
		delete(f.blocked, key)
		f.next.NotifyKey(ev)

	case event.ActionUp:
		f.lastUp[key] = ev.EventTime
		if f.blocked[key] {
			delete(f.blocked, key)
			return
		}
		f.next.NotifyKey(ev)

	default:
		f.next.NotifyKey(ev)
	}
}

func (f *bounceKeysFilter) NotifyDevicesChanged(devices []event.DeviceInfo) {
	f.mu.Lock()
	f.external = make(map[int32]bool, len(devices))
	for _, d := range devices {
		if d.External {
			f.external[d.ID] = true
		}
	}
	for key := range f.lastUp {
		if !f.external[key.deviceID] {
			delete(f.lastUp, key)
		}
	}
	for key := range f.blocked {
		if !f.external[key.deviceID] {
			delete(f.blocked, key)
		}
	}
	f.mu.Unlock()

	f.next.NotifyDevicesChanged(devices)
}

func (f *bounceKeysFilter) Destroy() {
	f.mu.Lock()
	f.lastUp = nil
	f.blocked = nil
	f.destroyed = true
	f.mu.Unlock()

	f.next.Destroy()
}
