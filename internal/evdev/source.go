// Package evdev reads keyboard events from the operating system input
// layer and feeds them to the filter chain.
//
// Platform support:
//   - Linux: reads /dev/input/event* devices (requires the input group
//     or root), optionally grabbing them for exclusive access.
//   - Other platforms: not available; use SimulatedSource in tests.
package evdev

import (
	"context"
	"errors"
	"sync"

	"keyfilterd/internal/event"
)

// ErrNotAvailable is returned when no keyboard source exists on this
// platform or with the current permissions.
var ErrNotAvailable = errors.New("keyboard source not available on this platform")

// ErrAlreadyRunning is returned when Start is called while already running.
var ErrAlreadyRunning = errors.New("source already running")

// Options controls device selection and access mode.
type Options struct {
	// Grab takes exclusive ownership of the devices being read, so
	// unfiltered events do not also reach other consumers.
	Grab bool

	// IncludeInternal also reads built-in (non-USB) keyboards.
	IncludeInternal bool
}

// Source delivers keyboard events and device change notifications.
type Source interface {
	// Start begins reading events. It returns ErrNotAvailable when no
	// readable keyboard exists.
	Start(ctx context.Context) error

	// Stop stops reading and closes the event channels.
	Stop() error

	// Events returns the stream of key events.
	Events() <-chan event.KeyEvent

	// DeviceChanges fires with the full device set whenever keyboards
	// are added or removed.
	DeviceChanges() <-chan []event.DeviceInfo

	// Available reports whether the source can run, with a reason.
	Available() (bool, string)
}

// baseSource carries the state shared by platform implementations.
type baseSource struct {
	mu      sync.Mutex
	running bool

	events        chan event.KeyEvent
	deviceChanges chan []event.DeviceInfo
}

func (b *baseSource) initChannels() {
	b.events = make(chan event.KeyEvent, 64)
	b.deviceChanges = make(chan []event.DeviceInfo, 4)
}

func (b *baseSource) Events() <-chan event.KeyEvent {
	return b.events
}

func (b *baseSource) DeviceChanges() <-chan []event.DeviceInfo {
	return b.deviceChanges
}

func (b *baseSource) setRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
}

func (b *baseSource) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// New creates a Source for the current platform.
func New(opts Options) Source {
	return newPlatformSource(opts)
}

// SimulatedSource is a Source for testing that does not touch real
// hardware. Events and device sets are injected by the test.
type SimulatedSource struct {
	baseSource
}

// NewSimulated creates a source for testing.
func NewSimulated() *SimulatedSource {
	s := &SimulatedSource{}
	s.initChannels()
	return s
}

// Start marks the source running.
func (s *SimulatedSource) Start(ctx context.Context) error {
	if s.isRunning() {
		return ErrAlreadyRunning
	}
	s.setRunning(true)
	return nil
}

// Stop stops the source and closes its channels.
func (s *SimulatedSource) Stop() error {
	if !s.isRunning() {
		return nil
	}
	s.setRunning(false)
	close(s.events)
	close(s.deviceChanges)
	return nil
}

// Available always reports true.
func (s *SimulatedSource) Available() (bool, string) {
	return true, "simulated source (for testing)"
}

// InjectKey delivers a key event as if it came from hardware.
func (s *SimulatedSource) InjectKey(ev event.KeyEvent) {
	if s.isRunning() {
		s.events <- ev
	}
}

// SetDevices delivers a device change notification.
func (s *SimulatedSource) SetDevices(devices []event.DeviceInfo) {
	if s.isRunning() {
		s.deviceChanges <- devices
	}
}
