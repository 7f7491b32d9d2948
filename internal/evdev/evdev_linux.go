//go:build linux

package evdev

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"keyfilterd/internal/event"
	"keyfilterd/internal/logging"
)

// EVIOCGRAB ioctl request: _IOW('E', 0x90, int).
const eviocgrab = 0x40044590

const rescanInterval = 2 * time.Second

// keyboardDevice describes one /dev/input keyboard.
type keyboardDevice struct {
	path     string
	name     string
	id       int32
	external bool
}

// linuxSource reads keyboards through the evdev interface.
type linuxSource struct {
	baseSource
	opts   Options
	log    *logging.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readersMu sync.Mutex
	readers   map[string]context.CancelFunc

	stateMu   sync.Mutex
	modifiers event.ModifierState
	downTimes map[int32]map[int32]int64
}

func newPlatformSource(opts Options) Source {
	s := &linuxSource{
		opts:      opts,
		log:       logging.Default().WithComponent("evdev"),
		readers:   make(map[string]context.CancelFunc),
		downTimes: make(map[int32]map[int32]int64),
	}
	s.initChannels()
	return s
}

// Available checks that at least one keyboard device can be opened.
func (s *linuxSource) Available() (bool, string) {
	devices, err := scanKeyboards(s.opts.IncludeInternal)
	if err != nil {
		return false, fmt.Sprintf("cannot enumerate input devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}
	for _, dev := range devices {
		f, err := os.OpenFile(dev.path, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("found keyboard device: %s", dev.path)
		}
	}
	return false, "cannot read keyboard devices (need the 'input' group or root)"
}

// Start begins reading all current keyboards and watches for hotplug.
func (s *linuxSource) Start(ctx context.Context) error {
	if s.isRunning() {
		return ErrAlreadyRunning
	}

	devices, err := scanKeyboards(s.opts.IncludeInternal)
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.setRunning(true)

	for _, dev := range devices {
		s.startReader(ctx, dev)
	}
	s.announceDevices(devices)

	s.wg.Add(1)
	go s.rescanLoop(ctx)

	return nil
}

// Stop stops all readers and closes the event channels.
func (s *linuxSource) Stop() error {
	if !s.isRunning() {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.setRunning(false)
	close(s.events)
	close(s.deviceChanges)
	return nil
}

// rescanLoop periodically re-enumerates keyboards so plugging or
// unplugging one updates both the reader set and the filter chain's
// device list.
func (s *linuxSource) rescanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			devices, err := scanKeyboards(s.opts.IncludeInternal)
			if err != nil {
				continue
			}
			if s.reconcileReaders(ctx, devices) {
				s.announceDevices(devices)
			}
		}
	}
}

// reconcileReaders starts readers for new devices and drops readers for
// removed ones. Returns true when the device set changed.
func (s *linuxSource) reconcileReaders(ctx context.Context, devices []keyboardDevice) bool {
	current := make(map[string]bool, len(devices))
	for _, dev := range devices {
		current[dev.path] = true
	}

	changed := false

	s.readersMu.Lock()
	for path, cancel := range s.readers {
		if !current[path] {
			cancel()
			delete(s.readers, path)
			changed = true
		}
	}
	known := make(map[string]bool, len(s.readers))
	for path := range s.readers {
		known[path] = true
	}
	s.readersMu.Unlock()

	for _, dev := range devices {
		if !known[dev.path] {
			s.startReader(ctx, dev)
			changed = true
		}
	}
	return changed
}

func (s *linuxSource) startReader(ctx context.Context, dev keyboardDevice) {
	readerCtx, cancel := context.WithCancel(ctx)

	s.readersMu.Lock()
	s.readers[dev.path] = cancel
	s.readersMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readDevice(readerCtx, dev)
	}()
}

func (s *linuxSource) announceDevices(devices []keyboardDevice) {
	infos := make([]event.DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, event.DeviceInfo{ID: dev.id, External: dev.external})
	}
	select {
	case s.deviceChanges <- infos:
	default:
		s.log.Warn("device change notification dropped, channel full")
	}
}

// rawEvent matches the kernel input_event layout.
type rawEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

const (
	evKey = 0x01

	valueUp     = 0
	valueDown   = 1
	valueRepeat = 2
)

func (s *linuxSource) readDevice(ctx context.Context, dev keyboardDevice) {
	f, err := os.OpenFile(dev.path, os.O_RDONLY, 0)
	if err != nil {
		s.log.Warn("cannot open keyboard device",
			"path", dev.path, "error", err)
		return
	}
	defer f.Close()

	if s.opts.Grab {
		if err := unix.IoctlSetInt(int(f.Fd()), eviocgrab, 1); err != nil {
			s.log.Warn("cannot grab keyboard device",
				"path", dev.path, "error", err)
		} else {
			defer unix.IoctlSetInt(int(f.Fd()), eviocgrab, 0)
		}
	}

	s.log.Info("reading keyboard device",
		"path", dev.path, "name", dev.name, "external", dev.external)

	eventSize := binary.Size(rawEvent{})
	buf := make([]byte, eventSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := f.Read(buf)
		if err != nil {
			// Device unplugged or read error; the rescan loop
			// notices removal.
			return
		}
		if n < eventSize {
			continue
		}

		typ := binary.LittleEndian.Uint16(buf[eventSize-8 : eventSize-6])
		code := binary.LittleEndian.Uint16(buf[eventSize-6 : eventSize-4])
		value := int32(binary.LittleEndian.Uint32(buf[eventSize-4 : eventSize]))

		if typ != evKey || value == valueRepeat {
			continue
		}

		ev, ok := s.toKeyEvent(dev, int32(code), value)
		if !ok {
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// toKeyEvent converts a raw evdev key event into a KeyEvent, tracking
// per-key down times and the aggregate modifier state.
func (s *linuxSource) toKeyEvent(dev keyboardDevice, code int32, value int32) (event.KeyEvent, bool) {
	now := event.NowNanos()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	var action event.Action
	var downTime int64

	perDevice := s.downTimes[dev.id]
	if perDevice == nil {
		perDevice = make(map[int32]int64)
		s.downTimes[dev.id] = perDevice
	}

	switch value {
	case valueDown:
		action = event.ActionDown
		downTime = now
		perDevice[code] = now
	case valueUp:
		action = event.ActionUp
		var ok bool
		if downTime, ok = perDevice[code]; !ok {
			// Release without a matched press (key was down before
			// we started reading).
			downTime = now
		}
		delete(perDevice, code)
	default:
		return event.KeyEvent{}, false
	}

	if mod, ok := event.ModifierForKeyCode(code); ok && !event.IsLockKey(code) {
		if action == event.ActionDown {
			s.modifiers = s.modifiers.With(mod)
		} else {
			s.modifiers = s.modifiers.Without(mod)
		}
	}

	return event.KeyEvent{
		DeviceID:  dev.id,
		DownTime:  downTime,
		ReadTime:  now,
		EventTime: now,
		Source:    event.SourceKeyboard,
		Action:    action,
		ScanCode:  code,
		KeyCode:   code,
		MetaState: uint32(s.modifiers),
	}, true
}

// scanKeyboards enumerates keyboard devices from /proc/bus/input/devices.
func scanKeyboards(includeInternal bool) ([]keyboardDevice, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var devices []keyboardDevice
	var current keyboardDevice
	isKeyboard := false

	flush := func() {
		if isKeyboard && current.path != "" {
			devices = append(devices, current)
		}
		current = keyboardDevice{}
		isKeyboard = false
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "N: Name="):
			current.name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)

		case strings.HasPrefix(line, "P: Phys="):
			phys := strings.TrimPrefix(line, "P: Phys=")
			current.external = strings.Contains(strings.ToLower(phys), "usb")

		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "event") {
					current.path = "/dev/input/" + part
					if n, err := strconv.Atoi(strings.TrimPrefix(part, "event")); err == nil {
						current.id = int32(n)
					}
				}
			}

		case strings.HasPrefix(line, "B: KEY="):
			// A long KEY bitmap means it has enough keys to be a
			// keyboard rather than a button or switch.
			if len(strings.TrimPrefix(line, "B: KEY=")) > 32 {
				isKeyboard = true
			}

		case line == "":
			flush()
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !includeInternal {
		external := devices[:0]
		for _, dev := range devices {
			if dev.external {
				external = append(external, dev)
			}
		}
		devices = external
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].id < devices[j].id })
	return devices, nil
}
