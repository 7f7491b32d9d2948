// Package ipc exposes a D-Bus control surface for the daemon so desktop
// settings panels can toggle accessibility features at runtime.
package ipc

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"keyfilterd/internal/logging"
)

const (
	// BusName is the well-known session bus name the daemon claims.
	BusName = "org.keyfilterd.Daemon"

	// ObjectPath is the control object path.
	ObjectPath = dbus.ObjectPath("/org/keyfilterd/Daemon")

	// Interface is the control interface name.
	Interface = "org.keyfilterd.Control"
)

// Controller is the daemon-side surface the D-Bus handlers drive.
type Controller interface {
	// IsEnabled reports whether any filter stage is active.
	IsEnabled() bool

	// Features returns the current feature settings: sticky keys on/off
	// and the slow/bounce thresholds in milliseconds (0 = off).
	Features() (sticky bool, slowMs, bounceMs int64)

	// SetFeatures applies new feature settings, rebuilding the filter
	// chain.
	SetFeatures(sticky bool, slowMs, bounceMs int64) error
}

// Server owns the session bus connection and the exported control object.
type Server struct {
	controller Controller
	log        *logging.Logger
	conn       *dbus.Conn
}

// NewServer creates a control server for the given controller.
func NewServer(controller Controller) *Server {
	return &Server{
		controller: controller,
		log:        logging.Default().WithComponent("ipc"),
	}
}

// Start connects to the session bus, claims the bus name, and exports
// the control object.
func (s *Server) Start() error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return errors.New("bus name already taken (another instance running?)")
	}

	if err := conn.Export(&controlObject{s.controller}, ObjectPath, Interface); err != nil {
		conn.Close()
		return fmt.Errorf("export control object: %w", err)
	}

	s.conn = conn
	s.log.Info("control interface exported", "bus_name", BusName)
	return nil
}

// Stop releases the bus name and closes the connection.
func (s *Server) Stop() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		s.log.Warn("release bus name", "error", err)
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// EmitModifierStateChanged broadcasts the sticky keys modifier state so
// settings panels can render latched/locked indicators.
func (s *Server) EmitModifierStateChanged(modifierState, lockedModifierState uint32) {
	if s.conn == nil {
		return
	}
	err := s.conn.Emit(ObjectPath, Interface+".ModifierStateChanged",
		modifierState, lockedModifierState)
	if err != nil {
		s.log.Warn("emit modifier state signal", "error", err)
	}
}

// controlObject is the struct exported on the bus. Method signatures
// follow godbus conventions: exported args in, results plus *dbus.Error
// out.
type controlObject struct {
	controller Controller
}

// IsEnabled reports whether any filter stage is installed.
func (o *controlObject) IsEnabled() (bool, *dbus.Error) {
	return o.controller.IsEnabled(), nil
}

// GetFeatures returns (stickyKeys, slowKeysThresholdMs, bounceKeysThresholdMs).
func (o *controlObject) GetFeatures() (bool, int64, int64, *dbus.Error) {
	sticky, slowMs, bounceMs := o.controller.Features()
	return sticky, slowMs, bounceMs, nil
}

// SetFeatures applies new feature settings.
func (o *controlObject) SetFeatures(sticky bool, slowMs, bounceMs int64) *dbus.Error {
	if err := o.controller.SetFeatures(sticky, slowMs, bounceMs); err != nil {
		return dbus.NewError(Interface+".Error.InvalidConfig", []interface{}{err.Error()})
	}
	return nil
}
