package component

import "fmt"

// Direction for data flow
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port describes any I/O interface
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	Config      Portable  `json:"config"`
}

// Portable is implemented by port configuration types.
type Portable interface {
	ResourceID() string // Unique identifier for conflict detection
	IsExclusive() bool  // Whether multiple components can share
	Type() string       // Port type identifier
}

// NetworkPort describes a network socket port (UDP/TCP listener or dialer).
type NetworkPort struct {
	Protocol string `json:"protocol"` // "udp", "tcp", "mqtt", "ws"
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// ResourceID returns a unique identifier for this network resource
func (n NetworkPort) ResourceID() string {
	return fmt.Sprintf("%s://%s:%d", n.Protocol, n.Host, n.Port)
}

// IsExclusive reports whether the bound socket excludes other users
func (n NetworkPort) IsExclusive() bool { return true }

// Type returns the port type identifier
func (n NetworkPort) Type() string { return "network" }

// DevicePort describes a local device node such as a serial port.
type DevicePort struct {
	Path string `json:"path"` // e.g. /dev/ttyUSB0
	Baud int    `json:"baud,omitempty"`
}

// ResourceID returns the device path
func (d DevicePort) ResourceID() string { return "device://" + d.Path }

// IsExclusive reports that a device node has a single reader
func (d DevicePort) IsExclusive() bool { return true }

// Type returns the port type identifier
func (d DevicePort) Type() string { return "device" }

// BusPort describes an in-process result bus attachment.
type BusPort struct {
	Channel string `json:"channel"` // channel id or wildcard
}

// ResourceID returns the bus subscription identifier
func (b BusPort) ResourceID() string { return "bus://" + b.Channel }

// IsExclusive reports that bus subscriptions are shared
func (b BusPort) IsExclusive() bool { return false }

// Type returns the port type identifier
func (b BusPort) Type() string { return "bus" }
