// Package bluez is the thin client for the BlueZ media transport API on
// the system D-Bus.
//
// BlueZ owns profile negotiation and hands over a connected seqpacket
// socket per stream through org.bluez.MediaTransport1. The daemon only
// acquires and releases those sockets and follows the transport
// properties it cares about (state and volume); profile and SDP
// registration stay with BlueZ.
package bluez

import (
	"fmt"
	"strings"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/bluerelay/transport"
)

const (
	bluezService   = "org.bluez"
	transportIface = "org.bluez.MediaTransport1"
	propsIface     = "org.freedesktop.DBus.Properties"
)

// Client wraps one system-bus connection for media transport calls.
type Client struct {
	mu  sync.Mutex
	bus *dbus.Conn
}

// NewClient connects to the system bus.
//
// Returns:
//   - *Client: The connected client
//   - error: System bus connection failure
func NewClient() (*Client, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewClient",
	}).Debug("Connected to system bus")
	return &Client{bus: bus}, nil
}

// NewClientWithConn wraps an existing bus connection, used by tests.
func NewClientWithConn(bus *dbus.Conn) *Client {
	return &Client{bus: bus}
}

// Close releases the bus connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		return nil
	}
	err := c.bus.Close()
	c.bus = nil
	return err
}

func (c *Client) object(path dbus.ObjectPath) dbus.BusObject {
	return c.bus.Object(bluezService, path)
}

// Acquire obtains the stream socket for a transport object, making
// BlueZ configure the stream if needed.
//
// Parameters:
//   - path: The MediaTransport1 object path
//
// Returns:
//   - int: The stream socket descriptor
//   - int: Reading MTU in bytes
//   - int: Writing MTU in bytes
//   - error: D-Bus call failure
func (c *Client) Acquire(path dbus.ObjectPath) (int, int, int, error) {
	return c.acquire(path, transportIface+".Acquire")
}

// TryAcquire obtains the stream socket only if the stream is already
// configured, so an idle remote device is not woken up.
func (c *Client) TryAcquire(path dbus.ObjectPath) (int, int, int, error) {
	return c.acquire(path, transportIface+".TryAcquire")
}

func (c *Client) acquire(path dbus.ObjectPath, method string) (int, int, int, error) {
	var (
		fd                dbus.UnixFD
		mtuRead, mtuWrite uint16
	)
	call := c.object(path).Call(method, 0)
	if call.Err != nil {
		return -1, 0, 0, fmt.Errorf("bluez: %s: %w", method, call.Err)
	}
	if err := call.Store(&fd, &mtuRead, &mtuWrite); err != nil {
		return -1, 0, 0, fmt.Errorf("bluez: decode %s reply: %w", method, err)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "Client.acquire",
		"path":      string(path),
		"fd":        int(fd),
		"mtu_read":  mtuRead,
		"mtu_write": mtuWrite,
	}).Info("Transport acquired")
	return int(fd), int(mtuRead), int(mtuWrite), nil
}

// Release gives the stream socket back to BlueZ.
func (c *Client) Release(path dbus.ObjectPath) error {
	if call := c.object(path).Call(transportIface+".Release", 0); call.Err != nil {
		return fmt.Errorf("bluez: Release: %w", call.Err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Client.Release",
		"path":     string(path),
	}).Info("Transport released")
	return nil
}

// Volume reads the transport's AVRCP volume property.
func (c *Client) Volume(path dbus.ObjectPath) (uint16, error) {
	call := c.object(path).Call(propsIface+".Get", 0, transportIface, "Volume")
	if call.Err != nil {
		return 0, fmt.Errorf("bluez: get Volume: %w", call.Err)
	}
	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		return 0, fmt.Errorf("bluez: decode Volume: %w", err)
	}
	vol, ok := v.Value().(uint16)
	if !ok {
		return 0, fmt.Errorf("bluez: unexpected Volume type: %T", v.Value())
	}
	return vol, nil
}

// SetVolume writes the transport's AVRCP volume property, forwarding a
// local volume change to the remote device.
func (c *Client) SetVolume(path dbus.ObjectPath, volume uint16) error {
	call := c.object(path).Call(propsIface+".Set", 0, transportIface, "Volume",
		dbus.MakeVariant(volume))
	if call.Err != nil {
		return fmt.Errorf("bluez: set Volume: %w", call.Err)
	}
	return nil
}

// Update is one observed transport property change.
type Update struct {
	Path dbus.ObjectPath

	// State is non-empty when the transport state changed
	// ("idle", "pending", "active").
	State string

	// Volume carries the new AVRCP volume when HasVolume is set.
	Volume    uint16
	HasVolume bool
}

// Watch subscribes to PropertiesChanged on one transport object and
// forwards state and volume updates until stop is called.
//
// Parameters:
//   - path: The MediaTransport1 object path
//   - updates: Channel receiving the decoded updates
//
// Returns:
//   - func(): Subscription stop function
//   - error: Match rule installation failure
func (c *Client) Watch(path dbus.ObjectPath, updates chan<- Update) (func(), error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(path),
	}
	if err := c.bus.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("bluez: AddMatchSignal: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 16)
	c.bus.Signal(sigCh)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if u, ok := decodeUpdate(sig); ok {
					updates <- u
				}
			}
		}
	}()

	stop := func() {
		close(done)
		c.bus.RemoveSignal(sigCh)
		c.bus.RemoveMatchSignal(opts...)
	}
	return stop, nil
}

// decodeUpdate extracts the transport properties this daemon follows
// from one PropertiesChanged signal.
func decodeUpdate(sig *dbus.Signal) (Update, bool) {
	if sig == nil || len(sig.Body) < 2 {
		return Update{}, false
	}
	iface, _ := sig.Body[0].(string)
	if iface != transportIface {
		return Update{}, false
	}
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	if changed == nil {
		return Update{}, false
	}

	u := Update{Path: sig.Path}
	if v, ok := changed["State"]; ok {
		u.State, _ = v.Value().(string)
	}
	if v, ok := changed["Volume"]; ok {
		if vol, ok := v.Value().(uint16); ok {
			u.Volume = vol
			u.HasVolume = true
		}
	}
	if u.State == "" && !u.HasVolume {
		return Update{}, false
	}
	return u, true
}

// Callbacks builds the transport acquire and release hooks bound to one
// MediaTransport1 object, for use in transport.Options.
func (c *Client) Callbacks(path dbus.ObjectPath) (acquire, release func(*transport.Transport) error) {
	acquire = func(t *transport.Transport) error {
		if fd, _, _ := t.BTSocket(); fd != -1 {
			return nil
		}
		fd, mtuRead, mtuWrite, err := c.Acquire(path)
		if err != nil {
			return err
		}
		t.SetBTSocket(fd, mtuRead, mtuWrite)
		return nil
	}
	release = func(t *transport.Transport) error {
		fd, _, _ := t.BTSocket()
		if fd == -1 {
			return nil
		}
		t.CloseBTSocket()
		return c.Release(path)
	}
	return acquire, release
}

// DeviceAddress derives the remote device address from a BlueZ object
// path, which embeds it as /org/bluez/hciX/dev_XX_XX_XX_XX_XX_XX.
func DeviceAddress(path dbus.ObjectPath) string {
	s := string(path)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	addr := s[idx+len("/dev_"):]
	if cut := strings.IndexByte(addr, '/'); cut >= 0 {
		addr = addr[:cut]
	}
	return strings.ReplaceAll(addr, "_", ":")
}
