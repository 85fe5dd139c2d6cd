package demux

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/config"
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/ring"
)

// encodeScans packs float32 values into a little-endian payload. Values
// are laid out scan by scan, slot by slot.
func encodeScans(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func testSnapshot(t *testing.T) *config.Snapshot {
	t.Helper()
	cfg := &config.Config{
		Transports: []config.TransportConfig{
			{Name: "bench-udp", Type: "udp"},
		},
		Channels: []config.ChannelConfig{
			{
				ChannelID: "accel-x", Transport: "bench-udp", Address: "9800",
				Slot: 0, SampleRate: 1000, WindowSize: 2, RingCapacity: 8,
				Calibration: daq.Calibration{Scale: 2, Offset: 1},
			},
			{
				ChannelID: "accel-y", Transport: "bench-udp", Address: "9800",
				Slot: 1, SampleRate: 1000, WindowSize: 2, RingCapacity: 8,
			},
			{
				ChannelID: "temp-1", Transport: "bench-udp", Address: "9801",
				Slot: 0, SampleRate: 10, WindowSize: 2, RingCapacity: 4,
			},
		},
	}
	snap, err := cfg.Validate()
	require.NoError(t, err)
	return snap
}

func testDemux(t *testing.T) (*Demux, map[daq.ChannelID]*ring.Buffer) {
	t.Helper()
	snap := testSnapshot(t)

	rings := make(map[daq.ChannelID]*ring.Buffer)
	for _, ch := range snap.Channels() {
		buf, err := ring.New(ch.ChannelID, ch.RingCapacity, ring.WithRate(ch.SampleRate))
		require.NoError(t, err)
		rings[ch.ChannelID] = buf
	}

	d, err := New(Deps{Snapshot: snap, Rings: rings})
	require.NoError(t, err)
	return d, rings
}

func drain(t *testing.T, buf *ring.Buffer) []daq.Sample {
	t.Helper()
	var out []daq.Sample
	for buf.Size() > 0 {
		w, ok := buf.PopWindow(1, 0)
		require.True(t, ok)
		out = append(out, w.Samples...)
	}
	return out
}

func TestIngestDecodesScans(t *testing.T) {
	d, rings := testDemux(t)

	captured := time.Unix(100, 0)
	// Two scans of two slots each.
	d.Ingest(daq.RawFrame{
		Transport: "bench-udp",
		Address:   "9800",
		Payload:   encodeScans(1.0, 10.0, 2.0, 20.0),
		Captured:  captured,
	})

	xs := drain(t, rings["accel-x"])
	require.Len(t, xs, 2)
	// Calibration scale 2, offset 1.
	assert.Equal(t, 3.0, xs[0].Value)
	assert.Equal(t, 5.0, xs[1].Value)
	assert.Equal(t, uint64(1), xs[0].Seq)
	assert.Equal(t, uint64(2), xs[1].Seq)
	assert.Equal(t, captured.UnixNano(), xs[0].Timestamp)
	// 1000 Hz puts consecutive scans 1 ms apart.
	assert.Equal(t, captured.UnixNano()+int64(time.Millisecond), xs[1].Timestamp)

	ys := drain(t, rings["accel-y"])
	require.Len(t, ys, 2)
	assert.Equal(t, 10.0, ys[0].Value)
	assert.Equal(t, 20.0, ys[1].Value)
}

func TestIngestSequencesAcrossFrames(t *testing.T) {
	d, rings := testDemux(t)

	for i := 0; i < 3; i++ {
		d.Ingest(daq.RawFrame{
			Transport: "bench-udp",
			Address:   "9801",
			Payload:   encodeScans(float32(i)),
			Captured:  time.Unix(int64(i), 0),
		})
	}

	samples := drain(t, rings["temp-1"])
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.Equal(t, uint64(i+1), s.Seq)
		assert.Equal(t, float64(i), s.Value)
	}
}

func TestIngestUnmappedAddress(t *testing.T) {
	d, rings := testDemux(t)

	d.Ingest(daq.RawFrame{
		Transport: "bench-udp",
		Address:   "9999",
		Payload:   encodeScans(1.0),
		Captured:  time.Now(),
	})
	d.Ingest(daq.RawFrame{
		Transport: "ghost",
		Address:   "9800",
		Payload:   encodeScans(1.0),
		Captured:  time.Now(),
	})

	for _, buf := range rings {
		assert.Zero(t, buf.Size())
	}
}

func TestIngestMalformedPayload(t *testing.T) {
	d, rings := testDemux(t)

	// Address 9800 carries two slots, so a scan is 8 bytes.
	d.Ingest(daq.RawFrame{Transport: "bench-udp", Address: "9800", Payload: []byte{1, 2, 3}, Captured: time.Now()})
	d.Ingest(daq.RawFrame{Transport: "bench-udp", Address: "9800", Payload: nil, Captured: time.Now()})
	d.Ingest(daq.RawFrame{Transport: "bench-udp", Address: "9800", Payload: encodeScans(1.0), Captured: time.Now()})

	assert.Zero(t, rings["accel-x"].Size())
	assert.Zero(t, rings["accel-y"].Size())
}

func TestIngestSkipsNonFiniteValues(t *testing.T) {
	d, rings := testDemux(t)

	d.Ingest(daq.RawFrame{
		Transport: "bench-udp",
		Address:   "9801",
		Payload:   encodeScans(1.0, float32(math.NaN()), float32(math.Inf(1)), 4.0),
		Captured:  time.Unix(0, 0),
	})

	samples := drain(t, rings["temp-1"])
	require.Len(t, samples, 2)
	assert.Equal(t, 1.0, samples[0].Value)
	assert.Equal(t, 4.0, samples[1].Value)
	// Sequence numbers stay gapless; dropped values never claimed one.
	assert.Equal(t, uint64(1), samples[0].Seq)
	assert.Equal(t, uint64(2), samples[1].Seq)
}

func TestIngestCountsRingRejections(t *testing.T) {
	d, rings := testDemux(t)

	// temp-1's ring holds 4 samples; the fifth is rejected under the
	// default policy.
	vals := make([]float32, 5)
	for i := range vals {
		vals[i] = float32(i)
	}
	d.Ingest(daq.RawFrame{
		Transport: "bench-udp",
		Address:   "9801",
		Payload:   encodeScans(vals...),
		Captured:  time.Unix(0, 0),
	})

	buf := rings["temp-1"]
	assert.Equal(t, 4, buf.Size())
	assert.Equal(t, int64(1), buf.Stats().Snapshot().Drops)
}

func TestIngestRecordsCoreMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	snap := testSnapshot(t)

	rings := make(map[daq.ChannelID]*ring.Buffer)
	for _, ch := range snap.Channels() {
		buf, err := ring.New(ch.ChannelID, ch.RingCapacity, ring.WithRate(ch.SampleRate))
		require.NoError(t, err)
		rings[ch.ChannelID] = buf
	}

	d, err := New(Deps{Snapshot: snap, Rings: rings, MetricsRegistry: registry})
	require.NoError(t, err)
	defer d.Close()

	// Two scans of two slots each on the mapped address, then one frame
	// nobody is bound to.
	d.Ingest(daq.RawFrame{
		Transport: "bench-udp",
		Address:   "9800",
		Payload:   encodeScans(1.0, 10.0, 2.0, 20.0),
		Captured:  time.Unix(100, 0),
	})
	d.Ingest(daq.RawFrame{
		Transport: "bench-udp",
		Address:   "unbound",
		Payload:   encodeScans(1.0),
		Captured:  time.Unix(100, 0),
	})

	core := registry.CoreMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(core.SamplesIngested.WithLabelValues("accel-x")))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.SamplesIngested.WithLabelValues("accel-y")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.FramesUnmapped.WithLabelValues("bench-udp")))
}

func TestNewRequiresRings(t *testing.T) {
	snap := testSnapshot(t)
	_, err := New(Deps{Snapshot: snap, Rings: map[daq.ChannelID]*ring.Buffer{}})
	require.Error(t, err)
}

func TestConsumeDrainsChannel(t *testing.T) {
	d, rings := testDemux(t)

	frames := make(chan daq.RawFrame, 2)
	frames <- daq.RawFrame{Transport: "bench-udp", Address: "9801", Payload: encodeScans(7.0), Captured: time.Unix(0, 0)}
	frames <- daq.RawFrame{Transport: "bench-udp", Address: "9801", Payload: encodeScans(8.0), Captured: time.Unix(1, 0)}
	close(frames)

	done := make(chan struct{})
	go func() {
		d.Consume(frames)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after channel close")
	}

	samples := drain(t, rings["temp-1"])
	require.Len(t, samples, 2)
	assert.Equal(t, 7.0, samples[0].Value)
	assert.Equal(t, 8.0, samples[1].Value)
}
