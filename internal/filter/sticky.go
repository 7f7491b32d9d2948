package filter

import (
	"sync"

	"keyfilterd/internal/event"
)

// stickyKeysFilter latches modifier keys so users who cannot hold multiple
// keys at once can compose shortcuts one key at a time.
//
// A modifier press-and-release latches the modifier; pressing and releasing
// a latched modifier again locks it; a third cycle unlocks it. Lock-style
// keys (caps/num/scroll lock) toggle straight into the locked set. Any
// non-modifier key release clears the latched (but not locked) modifiers.
// Modifier key events are consumed by this stage; everything else passes
// through unchanged, so a plain key-down is never suppressed. Every state
// change is reported through the ModifierStateListener.
type stickyKeysFilter struct {
	next     Filter
	listener ModifierStateListener

	mu        sync.Mutex
	latched   event.ModifierState
	locked    event.ModifierState
	destroyed bool
}

func newStickyKeysFilter(next Filter, listener ModifierStateListener) *stickyKeysFilter {
	return &stickyKeysFilter{next: next, listener: listener}
}

func (f *stickyKeysFilter) NotifyKey(ev *event.KeyEvent) {
	mod, isModifier := event.ModifierForKeyCode(ev.KeyCode)
	if !isModifier {
		f.next.NotifyKey(ev)
		if ev.Action == event.ActionUp {
			f.clearLatched()
		}
		return
	}

	// Modifier key events are consumed; state advances on release.
	if ev.Action != event.ActionUp {
		return
	}

	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		return
	}
	switch {
	case event.IsLockKey(ev.KeyCode):
		f.locked ^= mod
	case f.locked.Has(mod):
		f.locked = f.locked.Without(mod)
	case f.latched.Has(mod):
		f.latched = f.latched.Without(mod)
		f.locked = f.locked.With(mod)
	default:
		f.latched = f.latched.With(mod)
	}
	latched, locked := f.latched, f.locked
	f.mu.Unlock()

	f.listener.ModifierStateChanged(latched, locked)
}

func (f *stickyKeysFilter) clearLatched() {
	f.mu.Lock()
	if f.destroyed || f.latched == event.ModNone {
		f.mu.Unlock()
		return
	}
	f.latched = event.ModNone
	latched, locked := f.latched, f.locked
	f.mu.Unlock()

	f.listener.ModifierStateChanged(latched, locked)
}

func (f *stickyKeysFilter) NotifyDevicesChanged(devices []event.DeviceInfo) {
	f.next.NotifyDevicesChanged(devices)
}

func (f *stickyKeysFilter) Destroy() {
	f.mu.Lock()
	hadState := f.latched != event.ModNone || f.locked != event.ModNone
	f.latched = event.ModNone
	f.locked = event.ModNone
	f.destroyed = true
	f.mu.Unlock()

	if hadState {
		f.listener.ModifierStateChanged(event.ModNone, event.ModNone)
	}
	f.next.Destroy()
}
