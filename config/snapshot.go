package config

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/pipeline"
)

// Binding maps a frame address slot to a channel. Slot order within one
// address is the demux decode order.
type Binding struct {
	ChannelID daq.ChannelID
	Slot      int
	Rate      float64
	Cal       daq.Calibration
}

// Snapshot is a validated, immutable view of the channel table. All
// lookup structures are built once; readers share the snapshot freely.
type Snapshot struct {
	version  string
	channels map[daq.ChannelID]ChannelConfig
	// order preserves declaration order for deterministic iteration.
	order  []daq.ChannelID
	byAddr map[addressKey][]Binding
	byName map[string]TransportConfig
}

type addressKey struct {
	transport string
	address   string
}

// Validate checks the configuration semantically and builds the
// immutable snapshot. It fails fast on the first error.
func (c *Config) Validate() (*Snapshot, error) {
	snap := &Snapshot{
		version:  c.Version,
		channels: make(map[daq.ChannelID]ChannelConfig, len(c.Channels)),
		byAddr:   make(map[addressKey][]Binding),
		byName:   make(map[string]TransportConfig, len(c.Transports)),
	}

	for _, tc := range c.Transports {
		if tc.Name == "" {
			return nil, &ConfigError{Field: "transports", Reason: "transport with empty name"}
		}
		switch tc.Type {
		case "serial", "udp", "tcp", "mqtt":
		default:
			return nil, &ConfigError{
				Field:  fmt.Sprintf("transports.%s.type", tc.Name),
				Reason: fmt.Sprintf("unknown transport type %q", tc.Type),
			}
		}
		if _, dup := snap.byName[tc.Name]; dup {
			return nil, &ConfigError{
				Field:  fmt.Sprintf("transports.%s", tc.Name),
				Reason: "duplicate transport name",
			}
		}
		snap.byName[tc.Name] = tc
	}

	if len(c.Channels) == 0 {
		return nil, &ConfigError{Field: "channels", Reason: "no channels configured"}
	}

	registry := pipeline.DefaultRegistry()
	for _, ch := range c.Channels {
		field := fmt.Sprintf("channels.%s", ch.ChannelID)

		if ch.ChannelID == "" {
			return nil, &ConfigError{Field: "channels", Reason: "channel with empty id"}
		}
		if ch.ChannelID == daq.Wildcard {
			return nil, &ConfigError{Field: field, Reason: "wildcard is reserved"}
		}
		if _, dup := snap.channels[ch.ChannelID]; dup {
			return nil, &ConfigError{Field: field, Reason: "duplicate channel id"}
		}
		if _, known := snap.byName[ch.Transport]; !known {
			return nil, &ConfigError{
				Field:  field + ".transport",
				Reason: fmt.Sprintf("unknown transport %q", ch.Transport),
			}
		}
		if ch.Address == "" {
			return nil, &ConfigError{Field: field + ".address", Reason: "empty frame address"}
		}
		if ch.Slot < 0 {
			return nil, &ConfigError{Field: field + ".slot", Reason: "negative slot"}
		}
		if ch.SampleRate <= 0 {
			return nil, &ConfigError{Field: field + ".sample_rate", Reason: "rate must be positive"}
		}
		if ch.WindowSize <= 0 {
			return nil, &ConfigError{Field: field + ".window_size", Reason: "window size must be positive"}
		}
		if ch.WindowOverlap < 0 || ch.WindowOverlap >= ch.WindowSize {
			return nil, &ConfigError{
				Field:  field + ".window_overlap",
				Reason: "overlap must be non-negative and smaller than the window",
			}
		}
		if ch.RingCapacity < 2*ch.WindowSize {
			return nil, &ConfigError{
				Field:  field + ".ring_capacity",
				Reason: fmt.Sprintf("capacity %d below twice the window size %d", ch.RingCapacity, ch.WindowSize),
			}
		}
		switch ch.DropPolicy {
		case "", PolicyRejectNewest, PolicyOverwriteOldest:
		default:
			return nil, &ConfigError{
				Field:  field + ".drop_policy",
				Reason: fmt.Sprintf("unknown policy %q", ch.DropPolicy),
			}
		}
		if ch.Calibration.Scale == 0 && ch.Calibration.Offset == 0 {
			// Zero value means "no calibration given"; normalize to identity.
			ch.Calibration = daq.DefaultCalibration()
		} else if ch.Calibration.Scale == 0 {
			return nil, &ConfigError{Field: field + ".calibration", Reason: "zero scale erases the signal"}
		}

		if err := pipeline.ValidateStages(registry, ch.Stages, ch.SampleRate, ch.WindowSize); err != nil {
			return nil, &ConfigError{Field: field + ".stages", Reason: err.Error()}
		}

		snap.channels[ch.ChannelID] = ch
		snap.order = append(snap.order, ch.ChannelID)

		key := addressKey{transport: ch.Transport, address: ch.Address}
		snap.byAddr[key] = append(snap.byAddr[key], Binding{
			ChannelID: ch.ChannelID,
			Slot:      ch.Slot,
			Rate:      ch.SampleRate,
			Cal:       ch.Calibration,
		})
	}

	// Slot assignments within one address must be dense and unique so
	// frames decode deterministically.
	for key, bindings := range snap.byAddr {
		sort.Slice(bindings, func(i, j int) bool { return bindings[i].Slot < bindings[j].Slot })
		for i, b := range bindings {
			if b.Slot != i {
				return nil, &ConfigError{
					Field:  fmt.Sprintf("channels.%s.slot", b.ChannelID),
					Reason: fmt.Sprintf("slots on %s/%s must be 0..%d with no gaps", key.transport, key.address, len(bindings)-1),
				}
			}
		}
		snap.byAddr[key] = bindings
	}

	return snap, nil
}

// Version returns the config version the snapshot was built from.
func (s *Snapshot) Version() string { return s.version }

// Channel returns one channel's configuration.
func (s *Snapshot) Channel(id daq.ChannelID) (ChannelConfig, bool) {
	ch, ok := s.channels[id]
	return ch, ok
}

// Channels returns all channel configurations in declaration order.
func (s *Snapshot) Channels() []ChannelConfig {
	out := make([]ChannelConfig, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.channels[id])
	}
	return out
}

// Bindings returns the slot-ordered channel bindings for a frame address,
// nil when the address maps to nothing.
func (s *Snapshot) Bindings(transport, address string) []Binding {
	return s.byAddr[addressKey{transport: transport, address: address}]
}

// Transports returns the declared transport configurations, sorted by name.
func (s *Snapshot) Transports() []TransportConfig {
	out := make([]TransportConfig, 0, len(s.byName))
	for _, tc := range s.byName {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Policy converts a channel's drop policy name to the ring policy value.
// The empty policy defaults to rejecting the newest sample.
func (c ChannelConfig) Policy() string {
	if c.DropPolicy == "" {
		return PolicyRejectNewest
	}
	return c.DropPolicy
}

// Store holds the active snapshot behind an atomic pointer. Readers get
// point-in-time snapshots; Swap installs a new one after the caller's
// quiescence barrier has drained in-flight work.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store holding the given snapshot.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.current.Store(snap)
	return s
}

// Load returns the active snapshot.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Swap installs a new snapshot. drain, when non-nil, runs before the new
// snapshot becomes visible; the engine passes its in-flight window drain
// here so no window ever observes two different snapshots.
func (s *Store) Swap(snap *Snapshot, drain func()) {
	if drain != nil {
		drain()
	}
	s.current.Store(snap)
}
