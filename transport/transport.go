// Package transport defines the adapter contract shared by all frame
// sources.
//
// An Adapter owns one I/O resource (a socket, a device node, a broker
// session) and its reconnection policy. Frames carry the capture
// timestamp assigned at the earliest read point; the demuxer maps them
// to channels. Adapters never block on a slow consumer: when the frame
// channel is full the frame is dropped and counted.
package transport

import (
	"github.com/c360/daqstreams/component"
	"github.com/c360/daqstreams/daq"
)

// Adapter is a frame source with full lifecycle management. Frames()
// returns the same channel for the adapter's whole lifetime; the channel
// closes after Stop completes. When reconnection is exhausted the
// adapter stops producing and fires its DownCallback instead.
type Adapter interface {
	component.LifecycleComponent
	Frames() <-chan daq.RawFrame
}

// DownCallback notifies the owner that the adapter gave up reconnecting.
// Called at most once per Start; the health monitor uses it to mark the
// adapter's channels Disconnected without waiting for the staleness
// timeout.
type DownCallback func(transportName string, err error)

// DefaultFrameBuffer is the frame channel capacity used when a config
// does not override it.
const DefaultFrameBuffer = 1024
