// Package event defines the key event and device records that flow through
// the filter chain, plus the modifier-state bitset reported by accessibility
// filters.
//
// Events carry hardware-level identity (device id, scan code) alongside the
// resolved key code and meta state. The filter chain forwards events by
// value semantics: a stage that transforms an event copies it first so the
// upstream caller's event is never mutated in place.
package event

import "fmt"

// Action describes what happened to the key.
type Action int32

const (
	ActionDown     Action = 0
	ActionUp       Action = 1
	ActionMultiple Action = 2
)

// String returns the string representation of the Action.
func (a Action) String() string {
	switch a {
	case ActionDown:
		return "down"
	case ActionUp:
		return "up"
	case ActionMultiple:
		return "multiple"
	default:
		return fmt.Sprintf("action(%d)", int32(a))
	}
}

// Input source classes.
const (
	SourceUnknown  uint32 = 0
	SourceKeyboard uint32 = 0x101
)

// KeyEvent is a single hardware key event.
//
// Timestamps are nanoseconds on the process monotonic clock (see NowNanos).
// DownTime is when the key was first pressed, ReadTime when the event was
// read from the device, EventTime when the event occurred.
type KeyEvent struct {
	ID          int32
	DeviceID    int32
	DownTime    int64
	ReadTime    int64
	EventTime   int64
	Source      uint32
	DisplayID   int32
	PolicyFlags uint32
	Action      Action
	Flags       uint32
	KeyCode     int32
	ScanCode    int32
	MetaState   uint32
}

// DeviceInfo describes an input device as far as the filter chain cares:
// its identity and whether it is an external (e.g. USB) keyboard. The
// accessibility filters apply only to external keyboards.
type DeviceInfo struct {
	ID       int32
	External bool
}
