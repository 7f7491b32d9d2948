package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyfilterd/internal/event"
)

func newStickyUnderTest() (*stickyKeysFilter, *testFilter, *testCallbacks) {
	next := &testFilter{}
	callbacks := &testCallbacks{}
	ref := &receiverRef{callbacks: callbacks}
	f := newStickyKeysFilter(next, ModifierStateListener{receiver: ref})
	return f, next, callbacks
}

func pressAndRelease(f Filter, keyCode int32, timeNs int64) {
	f.NotifyKey(newKeyEvent(0, event.ActionDown, keyCode, keyCode, timeNs))
	f.NotifyKey(newKeyEvent(0, event.ActionUp, keyCode, keyCode, timeNs+1))
}

func TestStickyModifierLatchesOnRelease(t *testing.T) {
	f, next, callbacks := newStickyUnderTest()

	pressAndRelease(f, event.KeyLeftShift, 100)

	pressed, locked := callbacks.modifierState()
	assert.Equal(t, event.ModShiftLeft, pressed)
	assert.Equal(t, event.ModNone, locked)
	assert.Zero(t, next.eventCount(), "modifier key events are consumed")
}

func TestStickyModifierLocksOnSecondCycle(t *testing.T) {
	f, _, callbacks := newStickyUnderTest()

	pressAndRelease(f, event.KeyLeftShift, 100)
	pressAndRelease(f, event.KeyLeftShift, 200)

	pressed, locked := callbacks.modifierState()
	assert.Equal(t, event.ModNone, pressed)
	assert.Equal(t, event.ModShiftLeft, locked)
}

func TestStickyModifierUnlocksOnThirdCycle(t *testing.T) {
	f, _, callbacks := newStickyUnderTest()

	pressAndRelease(f, event.KeyLeftShift, 100)
	pressAndRelease(f, event.KeyLeftShift, 200)
	pressAndRelease(f, event.KeyLeftShift, 300)

	pressed, locked := callbacks.modifierState()
	assert.Equal(t, event.ModNone, pressed)
	assert.Equal(t, event.ModNone, locked)
}

func TestStickyLockKeyTogglesLockedSet(t *testing.T) {
	f, _, callbacks := newStickyUnderTest()

	pressAndRelease(f, event.KeyCapsLock, 100)
	_, locked := callbacks.modifierState()
	assert.Equal(t, event.ModCapsLock, locked)

	pressAndRelease(f, event.KeyCapsLock, 200)
	_, locked = callbacks.modifierState()
	assert.Equal(t, event.ModNone, locked)
}

func TestStickyNonModifierKeyPassesThroughUnchanged(t *testing.T) {
	f, next, _ := newStickyUnderTest()

	ev := newKeyEvent(7, event.ActionDown, 30, 30, 100)
	f.NotifyKey(ev)

	got := next.lastEvent()
	require.NotNil(t, got)
	assert.Equal(t, *ev, *got)
}

func TestStickyNonModifierReleaseClearsLatchedKeepsLocked(t *testing.T) {
	f, next, callbacks := newStickyUnderTest()

	pressAndRelease(f, event.KeyLeftShift, 100) // latched
	pressAndRelease(f, event.KeyLeftCtrl, 200)  // latched
	pressAndRelease(f, event.KeyLeftAlt, 300)
	pressAndRelease(f, event.KeyLeftAlt, 400) // locked

	pressAndRelease(f, 30, 500) // a plain key

	pressed, locked := callbacks.modifierState()
	assert.Equal(t, event.ModNone, pressed)
	assert.Equal(t, event.ModAltLeft, locked)
	assert.Equal(t, 2, next.eventCount(), "plain down and up forwarded")
}

func TestStickyDevicesChangedForwarded(t *testing.T) {
	f, next, _ := newStickyUnderTest()

	f.NotifyDevicesChanged([]event.DeviceInfo{{ID: 1, External: true}})
	assert.True(t, next.sawDevicesChanged())
}

func TestStickyDestroyReportsClearedStateAndCascades(t *testing.T) {
	f, next, callbacks := newStickyUnderTest()

	pressAndRelease(f, event.KeyLeftShift, 100)
	f.Destroy()

	pressed, locked := callbacks.modifierState()
	assert.Equal(t, event.ModNone, pressed)
	assert.Equal(t, event.ModNone, locked)
	assert.Equal(t, 1, next.destroys())
}

func TestStickyDestroyWithoutStateStaysQuiet(t *testing.T) {
	f, next, callbacks := newStickyUnderTest()

	f.Destroy()
	callbacks.mu.Lock()
	reports := callbacks.modifierReports
	callbacks.mu.Unlock()
	assert.Zero(t, reports)
	assert.Equal(t, 1, next.destroys())
}
