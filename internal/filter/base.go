package filter

import (
	"keyfilterd/internal/event"
	"keyfilterd/internal/logging"
)

// baseFilter is the terminal chain stage. It reports accepted events to the
// downstream receiver unchanged. Delivery failures are logged and swallowed:
// losing a delivery confirmation must never surface as a pipeline error to
// the event source.
type baseFilter struct {
	receiver *receiverRef
}

func newBaseFilter(receiver *receiverRef) *baseFilter {
	return &baseFilter{receiver: receiver}
}

func (b *baseFilter) NotifyKey(ev *event.KeyEvent) {
	if err := b.receiver.get().SendKeyEvent(ev); err != nil {
		logging.Error("failed to send key event downstream", "error", err)
	}
}

func (b *baseFilter) NotifyDevicesChanged(devices []event.DeviceInfo) {
	// do nothing
}

func (b *baseFilter) Destroy() {
	// do nothing
}
