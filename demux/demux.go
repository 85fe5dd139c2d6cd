// Package demux routes raw transport frames to per-channel ring buffers.
//
// A frame's payload is a sequence of scans; each scan carries one
// little-endian float32 per configured slot on the frame's address. The
// demuxer decodes scans in slot order, applies per-channel calibration,
// assigns monotonic sequence numbers, and derives sample timestamps from
// the frame capture time and the channel's rate. It runs on the adapter's
// goroutine and never blocks: frames that cannot be routed are counted
// and dropped.
package demux

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/c360/daqstreams/config"
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/ring"
)

const bytesPerValue = 4

// slotState is the per-channel routing state for one slot of an address.
// Each channel is fed by exactly one adapter goroutine, so seq needs no
// synchronization.
type slotState struct {
	channelID daq.ChannelID
	ring      *ring.Buffer
	cal       daq.Calibration
	periodNS  float64
	seq       uint64
}

type addressKey struct {
	transport string
	address   string
}

// Deps carries the demuxer's dependencies.
type Deps struct {
	Snapshot        *config.Snapshot
	Rings           map[daq.ChannelID]*ring.Buffer
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Demux decodes raw frames against one configuration snapshot. A snapshot
// swap replaces the demuxer wholesale; the routing table never mutates.
type Demux struct {
	routes  map[addressKey][]*slotState
	logger  *slog.Logger
	metrics *demuxMetrics
}

// New builds a demuxer from a validated snapshot. Every bound channel must
// have a ring in deps.Rings.
func New(deps Deps) (*Demux, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newDemuxMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, err
	}

	d := &Demux{
		routes:  make(map[addressKey][]*slotState),
		logger:  logger.With("component", "demux"),
		metrics: metrics,
	}

	for _, ch := range deps.Snapshot.Channels() {
		buf, ok := deps.Rings[ch.ChannelID]
		if !ok {
			return nil, &config.ConfigError{
				Field:  "channels." + string(ch.ChannelID),
				Reason: "no ring buffer for channel",
			}
		}
		// Validation guarantees dense slots, so the binding count sizes
		// the scan layout for the whole address.
		key := addressKey{transport: ch.Transport, address: ch.Address}
		states := d.routes[key]
		if states == nil {
			states = make([]*slotState, len(deps.Snapshot.Bindings(ch.Transport, ch.Address)))
		}
		states[ch.Slot] = &slotState{
			channelID: ch.ChannelID,
			ring:      buf,
			cal:       ch.Calibration,
			periodNS:  1e9 / ch.SampleRate,
		}
		d.routes[key] = states
	}

	return d, nil
}

// Ingest decodes one frame and pushes its samples to the bound rings.
// Unmapped addresses, short payloads, and non-finite values are counted
// drops; a full ring rejects per its own policy and is counted here as a
// routing drop as well.
func (d *Demux) Ingest(frame daq.RawFrame) {
	states, ok := d.routes[addressKey{transport: frame.Transport, address: frame.Address}]
	if !ok {
		d.metrics.incFrameDrop(frame.Transport, dropUnmapped)
		return
	}
	d.metrics.incFrame(frame.Transport)

	scanBytes := len(states) * bytesPerValue
	if len(frame.Payload) == 0 || len(frame.Payload)%scanBytes != 0 {
		d.metrics.incFrameDrop(frame.Transport, dropMalformed)
		d.logger.Debug("malformed frame payload",
			"transport", frame.Transport,
			"address", frame.Address,
			"payload_bytes", len(frame.Payload),
			"scan_bytes", scanBytes)
		return
	}

	base := frame.Captured.UnixNano()
	scans := len(frame.Payload) / scanBytes
	for i := 0; i < scans; i++ {
		scan := frame.Payload[i*scanBytes:]
		for slot, st := range states {
			bits := binary.LittleEndian.Uint32(scan[slot*bytesPerValue:])
			raw := float64(math.Float32frombits(bits))
			if math.IsNaN(raw) || math.IsInf(raw, 0) {
				d.metrics.incSampleDrop(frame.Transport, string(st.channelID), dropNonFinite)
				continue
			}

			st.seq++
			sample := daq.Sample{
				ChannelID: st.channelID,
				Timestamp: base + int64(float64(i)*st.periodNS),
				Value:     st.cal.Scale*raw + st.cal.Offset,
				Seq:       st.seq,
			}
			if st.ring.Push(sample) {
				d.metrics.incSample(frame.Transport, string(st.channelID))
			} else {
				d.metrics.incSampleDrop(frame.Transport, string(st.channelID), dropRing)
			}
		}
	}
}

// Consume drains a transport's frame channel until it closes. Intended to
// run as the per-adapter pump goroutine.
func (d *Demux) Consume(frames <-chan daq.RawFrame) {
	for frame := range frames {
		d.Ingest(frame)
	}
}

// Close releases the demuxer's registered metrics. Call after every pump
// goroutine has exited; a swapped-in demuxer then registers its own.
func (d *Demux) Close() {
	d.metrics.unregister()
}
