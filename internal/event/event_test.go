package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModifierStateBits(t *testing.T) {
	m := ModNone.With(ModShiftLeft).With(ModCtrlRight)

	assert.True(t, m.Has(ModShiftLeft))
	assert.True(t, m.Has(ModCtrlRight))
	assert.False(t, m.Has(ModAltLeft))

	m = m.Without(ModShiftLeft)
	assert.False(t, m.Has(ModShiftLeft))
	assert.True(t, m.Has(ModCtrlRight))
}

func TestModifierStateString(t *testing.T) {
	assert.Equal(t, "none", ModNone.String())
	assert.Equal(t, "shift_l", ModShiftLeft.String())
	assert.Equal(t, "shift_l+caps_lock", ModShiftLeft.With(ModCapsLock).String())
}

func TestModifierForKeyCode(t *testing.T) {
	tests := []struct {
		code int32
		want ModifierState
		ok   bool
	}{
		{KeyLeftShift, ModShiftLeft, true},
		{KeyRightShift, ModShiftRight, true},
		{KeyLeftCtrl, ModCtrlLeft, true},
		{KeyRightAlt, ModAltRight, true},
		{KeyCapsLock, ModCapsLock, true},
		{30, ModNone, false}, // KEY_A
	}
	for _, tt := range tests {
		got, ok := ModifierForKeyCode(tt.code)
		assert.Equal(t, tt.ok, ok, "code %d", tt.code)
		assert.Equal(t, tt.want, got, "code %d", tt.code)
	}
}

func TestIsLockKey(t *testing.T) {
	assert.True(t, IsLockKey(KeyCapsLock))
	assert.True(t, IsLockKey(KeyNumLock))
	assert.True(t, IsLockKey(KeyScrollLock))
	assert.False(t, IsLockKey(KeyLeftShift))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "down", ActionDown.String())
	assert.Equal(t, "up", ActionUp.String())
	assert.Equal(t, "multiple", ActionMultiple.String())
}

func TestNowNanosMonotonic(t *testing.T) {
	a := NowNanos()
	time.Sleep(time.Millisecond)
	b := NowNanos()
	assert.Greater(t, b, a)
}
