package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyfilterd/internal/event"
)

const slowThreshold = int64(1_000_000) // 1ms in test-controlled time

func newSlowUnderTest(t *testing.T) (*slowKeysFilter, *testFilter, *manualThread) {
	t.Helper()
	next := &testFilter{}
	mt := &manualThread{}
	f, err := newSlowKeysFilter(next, slowThreshold, newManualFilterThread(mt))
	require.NoError(t, err)
	f.NotifyDevicesChanged([]event.DeviceInfo{{ID: 1, External: true}})
	return f, next, mt
}

func TestSlowInternalKeyboardPassesThrough(t *testing.T) {
	next := &testFilter{}
	f, err := newSlowKeysFilter(next, slowThreshold, newManualFilterThread(&manualThread{}))
	require.NoError(t, err)
	f.NotifyDevicesChanged([]event.DeviceInfo{{ID: 1, External: false}})

	f.NotifyKey(newKeyEvent(1, event.ActionDown, 30, 30, 100))
	assert.Equal(t, 1, next.eventCount())
}

func TestSlowKeyDownHeldUntilThreshold(t *testing.T) {
	f, next, mt := newSlowUnderTest(t)

	f.NotifyKey(newKeyEvent(1, event.ActionDown, 30, 30, 1000))
	assert.Zero(t, next.eventCount(), "down held until threshold")
	assert.Equal(t, 1, mt.wakeCount(), "timeout armed")

	now := 1000 + slowThreshold
	f.NotifyTimeoutExpired(now)

	got := next.lastEvent()
	require.NotNil(t, got)
	assert.Equal(t, event.ActionDown, got.Action)
	assert.Equal(t, now, got.EventTime, "delivery time becomes the event time")
	assert.Equal(t, now, got.DownTime)

	// The eventual up passes through.
	f.NotifyKey(newKeyEvent(1, event.ActionUp, 30, 30, now+500))
	assert.Equal(t, 2, next.eventCount())
}

func TestSlowEarlyReleaseDropsDownAndUp(t *testing.T) {
	f, next, _ := newSlowUnderTest(t)

	f.NotifyKey(newKeyEvent(1, event.ActionDown, 30, 30, 1000))
	f.NotifyKey(newKeyEvent(1, event.ActionUp, 30, 30, 1000+slowThreshold/2))

	f.NotifyTimeoutExpired(1000 + slowThreshold)
	assert.Zero(t, next.eventCount(), "grazed key produces no events")
}

func TestSlowTimeoutKeepsLaterPendingKeys(t *testing.T) {
	f, next, _ := newSlowUnderTest(t)

	f.NotifyKey(newKeyEvent(1, event.ActionDown, 30, 30, 1000))
	f.NotifyKey(newKeyEvent(2, event.ActionDown, 31, 31, 1500))

	f.NotifyTimeoutExpired(1000 + slowThreshold)
	require.Equal(t, 1, next.eventCount())
	assert.Equal(t, int32(30), next.lastEvent().KeyCode)

	f.NotifyTimeoutExpired(1500 + slowThreshold)
	require.Equal(t, 2, next.eventCount())
	assert.Equal(t, int32(31), next.lastEvent().KeyCode)
}

func TestSlowDevicesChangedPrunesVanishedDevice(t *testing.T) {
	f, next, _ := newSlowUnderTest(t)

	f.NotifyKey(newKeyEvent(1, event.ActionDown, 30, 30, 1000))
	f.NotifyDevicesChanged(nil)

	f.NotifyTimeoutExpired(1000 + slowThreshold)
	assert.Zero(t, next.eventCount(), "pending down for vanished device dropped")
	assert.True(t, next.sawDevicesChanged())
}

func TestSlowDestroyMakesLateTimeoutHarmless(t *testing.T) {
	f, next, _ := newSlowUnderTest(t)

	f.NotifyKey(newKeyEvent(1, event.ActionDown, 30, 30, 1000))
	f.Destroy()

	// A callback already in flight when the stage was destroyed.
	f.NotifyTimeoutExpired(1000 + slowThreshold)
	assert.Zero(t, next.eventCount())
	assert.Equal(t, 1, next.destroys())
}

func TestSlowConstructionFailsWithoutHostThread(t *testing.T) {
	ft := &FilterThread{
		create: func(cb ThreadCallback) (Thread, error) { return nil, assert.AnError },
		nextNs: TimeForever,
	}
	_, err := newSlowKeysFilter(&testFilter{}, slowThreshold, ft)
	require.Error(t, err)
}
