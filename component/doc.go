// Package component provides the discovery, lifecycle and registration
// contracts shared by transport adapters and output components.
//
// A component implements Discoverable so the management surface can
// inspect its metadata, ports, configuration schema and health, and
// LifecycleComponent so the engine can drive Initialize/Start/Stop.
// The Registry maps factory names to constructors and tracks live
// instances, rejecting two instances that claim the same exclusive
// resource (a socket or a device node).
package component
