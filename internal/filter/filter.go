// Package filter implements the accessibility key-event filter chain.
//
// The chain intercepts hardware key events before they reach the rest of
// the input dispatch path. Stages can modify, delay, or suppress events to
// implement accessibility features like sticky keys, slow keys, and bounce
// keys. The chain is rebuilt wholesale whenever the configuration changes;
// event delivery and rebuilds are mutually exclusive, so an event is always
// processed by exactly one fully-formed chain version.
package filter

import (
	"fmt"
	"sync"

	"keyfilterd/internal/event"
	"keyfilterd/internal/logging"
)

// Filter is the contract every chain stage implements.
//
// NotifyKey must either forward the event (unchanged or transformed) to the
// next stage, delay it, or drop it. For a chain of depth n the call is
// resolved strictly outer to inner; no stage is skipped except by decision
// of the stage ahead of it. Destroy is called exactly once per stage
// instance and must cascade to the inner stage the implementation wraps.
type Filter interface {
	NotifyKey(ev *event.KeyEvent)
	NotifyDevicesChanged(devices []event.DeviceInfo)
	Destroy()
}

// Callbacks is the downstream receiver capability. Stages never hold it
// directly; they reach it through a shared receiverRef, or through one of
// the narrowed capability views (ModifierStateListener, ThreadCreator).
type Callbacks interface {
	// SendKeyEvent delivers a filtered event downstream.
	SendKeyEvent(ev *event.KeyEvent) error

	// OnModifierStateChanged reports the latched and locked modifier sets.
	OnModifierStateChanged(pressed, locked event.ModifierState) error

	// CreateFilterThread asks the host for a thread that repeatedly
	// invokes loopOnce. The returned handle controls the thread's sleep
	// and shutdown.
	CreateFilterThread(loopOnce ThreadCallback) (Thread, error)
}

// receiverRef shares one Callbacks reference between the chain and every
// stage constructed with access to it. Normal operation only ever takes the
// read side; the write side exists so the receiver could be swapped
// atomically, though nothing does so today.
type receiverRef struct {
	mu        sync.RWMutex
	callbacks Callbacks
}

func (r *receiverRef) get() Callbacks {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbacks
}

// Config selects which accessibility filters are installed. A threshold of
// zero disables the corresponding feature.
type Config struct {
	StickyKeysEnabled     bool
	SlowKeysThresholdNs   int64
	BounceKeysThresholdNs int64
}

// Validate rejects malformed configurations before any chain rebuild.
func (c Config) Validate() error {
	if c.SlowKeysThresholdNs < 0 {
		return fmt.Errorf("filter: slow keys threshold must be >= 0, got %d", c.SlowKeysThresholdNs)
	}
	if c.BounceKeysThresholdNs < 0 {
		return fmt.Errorf("filter: bounce keys threshold must be >= 0, got %d", c.BounceKeysThresholdNs)
	}
	return nil
}

// filterState is the mutable chain state, accessed only under InputFilter.mu.
// enabled is true iff the chain contains at least one non-base stage.
type filterState struct {
	first   Filter
	enabled bool
}

// InputFilter owns the filter chain. It dispatches key events and device
// change notifications to the chain head and rebuilds the chain on
// configuration changes, all under a single mutex.
type InputFilter struct {
	receiver *receiverRef

	mu    sync.Mutex
	state filterState

	thread *FilterThread
}

// New creates an InputFilter whose chain is just the base stage.
func New(callbacks Callbacks) *InputFilter {
	ref := &receiverRef{callbacks: callbacks}
	return newWithFirst(newBaseFilter(ref), ref)
}

// newWithFirst installs an arbitrary chain head. Used by New and by tests
// that inject a recording stage.
func newWithFirst(first Filter, ref *receiverRef) *InputFilter {
	return &InputFilter{
		receiver: ref,
		state:    filterState{first: first},
		thread:   newFilterThread(ThreadCreator{receiver: ref}),
	}
}

// IsEnabled reports whether any accessibility filter is installed. It never
// blocks on I/O, only on the chain lock.
func (f *InputFilter) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.enabled
}

// NotifyKey dispatches one key event to the chain head.
func (f *InputFilter) NotifyKey(ev *event.KeyEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.first.NotifyKey(ev)
}

// NotifyDevicesChanged dispatches the full current device list to the chain
// head on every device topology change.
func (f *InputFilter) NotifyDevicesChanged(devices []event.DeviceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.first.NotifyDevicesChanged(devices)
}

// ApplyConfig rebuilds the chain for the given configuration.
//
// The old chain is destroyed and a new one is built from the base stage
// outward, wrapping in the enabled features in fixed priority order: sticky
// keys, then slow keys, then bounce keys. The outermost stage is the last
// feature wrapped, so with all three enabled an event passes through bounce
// keys first, then slow keys, then sticky keys, then the base stage.
//
// Malformed configurations are rejected before the old chain is touched. A
// failure to obtain the timer thread for a stage that needs one is returned
// to the caller; the chain built so far (without the failed stage) is
// installed rather than silently installing a non-functional stage.
func (f *InputFilter) ApplyConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.state.first.Destroy()

	var first Filter = newBaseFilter(f.receiver)
	enabled := false
	var installErr error

	if cfg.StickyKeysEnabled {
		first = newStickyKeysFilter(first, ModifierStateListener{receiver: f.receiver})
		enabled = true
		logging.Info("sticky keys filter installed")
	}
	if cfg.SlowKeysThresholdNs > 0 {
		slow, err := newSlowKeysFilter(first, cfg.SlowKeysThresholdNs, f.thread)
		if err != nil {
			installErr = fmt.Errorf("filter: installing slow keys filter: %w", err)
			logging.Error("slow keys filter not installed", "error", err)
		} else {
			first = slow
			enabled = true
			logging.Info("slow keys filter installed", "threshold_ns", cfg.SlowKeysThresholdNs)
		}
	}
	if cfg.BounceKeysThresholdNs > 0 {
		first = newBounceKeysFilter(first, cfg.BounceKeysThresholdNs)
		enabled = true
		logging.Info("bounce keys filter installed", "threshold_ns", cfg.BounceKeysThresholdNs)
	}

	f.state.first = first
	f.state.enabled = enabled
	return installErr
}

// Shutdown destroys the current chain, resets it to the base stage, and
// stops the shared timer thread.
func (f *InputFilter) Shutdown() {
	f.mu.Lock()
	f.state.first.Destroy()
	f.state.first = newBaseFilter(f.receiver)
	f.state.enabled = false
	f.mu.Unlock()

	f.thread.Stop()
}
