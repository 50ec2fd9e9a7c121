package bluez

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestDeviceAddress(t *testing.T) {
	tests := []struct {
		name string
		path dbus.ObjectPath
		want string
	}{
		{
			name: "device path",
			path: "/org/bluez/hci0/dev_00_11_22_AA_BB_CC",
			want: "00:11:22:AA:BB:CC",
		},
		{
			name: "transport child path",
			path: "/org/bluez/hci0/dev_00_11_22_AA_BB_CC/fd1",
			want: "00:11:22:AA:BB:CC",
		},
		{
			name: "no device component",
			path: "/org/bluez/hci0",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeviceAddress(tt.path))
		})
	}
}

func TestDecodeUpdate(t *testing.T) {
	path := dbus.ObjectPath("/org/bluez/hci0/dev_00_11_22_AA_BB_CC/fd1")

	tests := []struct {
		name    string
		sig     *dbus.Signal
		want    Update
		decoded bool
	}{
		{
			name: "state change",
			sig: &dbus.Signal{
				Path: path,
				Body: []interface{}{
					transportIface,
					map[string]dbus.Variant{"State": dbus.MakeVariant("active")},
				},
			},
			want:    Update{Path: path, State: "active"},
			decoded: true,
		},
		{
			name: "volume change",
			sig: &dbus.Signal{
				Path: path,
				Body: []interface{}{
					transportIface,
					map[string]dbus.Variant{"Volume": dbus.MakeVariant(uint16(90))},
				},
			},
			want:    Update{Path: path, Volume: 90, HasVolume: true},
			decoded: true,
		},
		{
			name: "other interface ignored",
			sig: &dbus.Signal{
				Path: path,
				Body: []interface{}{
					"org.bluez.Device1",
					map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)},
				},
			},
			decoded: false,
		},
		{
			name: "irrelevant property ignored",
			sig: &dbus.Signal{
				Path: path,
				Body: []interface{}{
					transportIface,
					map[string]dbus.Variant{"Delay": dbus.MakeVariant(uint16(150))},
				},
			},
			decoded: false,
		},
		{
			name:    "nil signal",
			sig:     nil,
			decoded: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeUpdate(tt.sig)
			assert.Equal(t, tt.decoded, ok)
			if tt.decoded {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
