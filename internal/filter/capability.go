package filter

import (
	"keyfilterd/internal/event"
	"keyfilterd/internal/logging"
)

// ModifierStateListener wraps the shared receiver reference, restricting
// access to only the modifier-state report operation. A stage given this
// listener can report state changes without gaining access to event sending
// or thread creation.
type ModifierStateListener struct {
	receiver *receiverRef
}

// ModifierStateChanged forwards the latched and locked modifier sets
// verbatim to the receiver. Delivery failures are logged and swallowed.
func (l ModifierStateListener) ModifierStateChanged(pressed, locked event.ModifierState) {
	if err := l.receiver.get().OnModifierStateChanged(pressed, locked); err != nil {
		logging.Error("failed to report modifier state downstream", "error", err)
	}
}

// ThreadCreator wraps the shared receiver reference, restricting access to
// only the thread-creation operation.
type ThreadCreator struct {
	receiver *receiverRef
}

// Create requests one thread from the host. The host thread repeatedly
// invokes loopOnce until the returned handle's Finish is called.
func (c ThreadCreator) Create(loopOnce ThreadCallback) (Thread, error) {
	return c.receiver.get().CreateFilterThread(loopOnce)
}
