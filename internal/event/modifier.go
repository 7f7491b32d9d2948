package event

import "strings"

// ModifierState is a bitset of modifier keys. Two independent values are
// reported by the sticky keys filter: the set of latched/pressed modifiers
// and the set of locked modifiers.
type ModifierState uint32

const (
	ModNone       ModifierState = 0
	ModShiftLeft  ModifierState = 1 << 0
	ModShiftRight ModifierState = 1 << 1
	ModCtrlLeft   ModifierState = 1 << 2
	ModCtrlRight  ModifierState = 1 << 3
	ModAltLeft    ModifierState = 1 << 4
	ModAltRight   ModifierState = 1 << 5
	ModMetaLeft   ModifierState = 1 << 6
	ModMetaRight  ModifierState = 1 << 7
	ModCapsLock   ModifierState = 1 << 8
	ModNumLock    ModifierState = 1 << 9
	ModScrollLock ModifierState = 1 << 10
)

// Has reports whether all bits in m2 are set in m.
func (m ModifierState) Has(m2 ModifierState) bool {
	return m&m2 == m2
}

// With returns m with the bits in m2 set.
func (m ModifierState) With(m2 ModifierState) ModifierState {
	return m | m2
}

// Without returns m with the bits in m2 cleared.
func (m ModifierState) Without(m2 ModifierState) ModifierState {
	return m &^ m2
}

// String returns a "+"-joined list of modifier names, or "none".
func (m ModifierState) String() string {
	if m == ModNone {
		return "none"
	}
	names := []struct {
		bit  ModifierState
		name string
	}{
		{ModShiftLeft, "shift_l"},
		{ModShiftRight, "shift_r"},
		{ModCtrlLeft, "ctrl_l"},
		{ModCtrlRight, "ctrl_r"},
		{ModAltLeft, "alt_l"},
		{ModAltRight, "alt_r"},
		{ModMetaLeft, "meta_l"},
		{ModMetaRight, "meta_r"},
		{ModCapsLock, "caps_lock"},
		{ModNumLock, "num_lock"},
		{ModScrollLock, "scroll_lock"},
	}
	var parts []string
	for _, n := range names {
		if m.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "+")
}

// Modifier key codes (Linux evdev codes; the same codes appear in KeyCode
// and ScanCode for events produced by the evdev source).
const (
	KeyLeftCtrl   int32 = 29
	KeyLeftShift  int32 = 42
	KeyRightShift int32 = 54
	KeyLeftAlt    int32 = 56
	KeyCapsLock   int32 = 58
	KeyNumLock    int32 = 69
	KeyScrollLock int32 = 70
	KeyRightCtrl  int32 = 97
	KeyRightAlt   int32 = 100
	KeyLeftMeta   int32 = 125
	KeyRightMeta  int32 = 126
)

// ModifierForKeyCode maps a key code to its modifier bit. The second return
// is false for non-modifier keys.
func ModifierForKeyCode(code int32) (ModifierState, bool) {
	switch code {
	case KeyLeftShift:
		return ModShiftLeft, true
	case KeyRightShift:
		return ModShiftRight, true
	case KeyLeftCtrl:
		return ModCtrlLeft, true
	case KeyRightCtrl:
		return ModCtrlRight, true
	case KeyLeftAlt:
		return ModAltLeft, true
	case KeyRightAlt:
		return ModAltRight, true
	case KeyLeftMeta:
		return ModMetaLeft, true
	case KeyRightMeta:
		return ModMetaRight, true
	case KeyCapsLock:
		return ModCapsLock, true
	case KeyNumLock:
		return ModNumLock, true
	case KeyScrollLock:
		return ModScrollLock, true
	default:
		return ModNone, false
	}
}

// IsLockKey reports whether the key code is a lock-style modifier
// (caps/num/scroll lock) rather than a held modifier.
func IsLockKey(code int32) bool {
	switch code {
	case KeyCapsLock, KeyNumLock, KeyScrollLock:
		return true
	default:
		return false
	}
}
