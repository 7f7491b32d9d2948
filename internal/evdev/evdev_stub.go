//go:build !linux

package evdev

import "context"

// stubSource is used on platforms without an evdev interface.
type stubSource struct {
	baseSource
}

func newPlatformSource(opts Options) Source {
	s := &stubSource{}
	s.initChannels()
	return s
}

func (s *stubSource) Start(ctx context.Context) error {
	return ErrNotAvailable
}

func (s *stubSource) Stop() error {
	return nil
}

func (s *stubSource) Available() (bool, string) {
	return false, "evdev is only available on Linux"
}
