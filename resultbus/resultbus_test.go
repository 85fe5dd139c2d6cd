package resultbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/daq"
)

func result(ch daq.ChannelID, kind daq.ResultKind, windowID uint64) daq.Result {
	return daq.Result{
		ChannelID: ch,
		WindowID:  windowID,
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

func recv(t *testing.T, sub *Subscription) daq.Result {
	t.Helper()
	select {
	case r, ok := <-sub.Results():
		require.True(t, ok, "subscription channel closed")
		return r
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
		return daq.Result{}
	}
}

func TestSubscribeChannelFilter(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub, err := bus.Subscribe("accel-x")
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	bus.Publish(result("accel-x", daq.KindSpectrum, 1))
	bus.Publish(result("accel-y", daq.KindSpectrum, 2))
	bus.Publish(result("accel-x", daq.KindAnomalyEvent, 3))

	r := recv(t, sub)
	assert.Equal(t, uint64(1), r.WindowID)
	r = recv(t, sub)
	assert.Equal(t, uint64(3), r.WindowID)

	select {
	case r := <-sub.Results():
		t.Fatalf("unexpected delivery: %+v", r)
	default:
	}
}

func TestSubscribeKindFilter(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub, err := bus.Subscribe(daq.Wildcard, daq.KindAnomalyEvent, daq.KindHealthEvent)
	require.NoError(t, err)

	bus.Publish(result("a", daq.KindSpectrum, 1))
	bus.Publish(result("b", daq.KindAnomalyEvent, 2))
	bus.Publish(result("c", daq.KindHealthEvent, 3))

	assert.Equal(t, uint64(2), recv(t, sub).WindowID)
	assert.Equal(t, uint64(3), recv(t, sub).WindowID)
}

func TestWildcardReceivesAllChannels(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub, err := bus.Subscribe(daq.Wildcard)
	require.NoError(t, err)

	for i, ch := range []daq.ChannelID{"a", "b", "c"} {
		bus.Publish(result(ch, daq.KindSpectrum, uint64(i)))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint64(i), recv(t, sub).WindowID)
	}
}

func TestSlowSubscriberDropsNewest(t *testing.T) {
	bus := New(WithBufferSize(2))
	defer bus.Close()

	slow, err := bus.Subscribe("ch")
	require.NoError(t, err)
	fast, err := bus.Subscribe("ch")
	require.NoError(t, err)

	// Nobody reads; the third result overflows the slow buffer.
	for i := uint64(1); i <= 3; i++ {
		bus.Publish(result("ch", daq.KindSpectrum, i))
	}

	assert.Equal(t, uint64(1), slow.Dropped())
	assert.Equal(t, uint64(1), recv(t, slow).WindowID)
	assert.Equal(t, uint64(2), recv(t, slow).WindowID)

	// The fast subscriber has its own buffer and lost the same overflow
	// independently.
	assert.Equal(t, uint64(1), fast.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub, err := bus.Subscribe("ch")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers())

	bus.Unsubscribe(sub.ID())
	assert.Equal(t, 0, bus.Subscribers())

	_, ok := <-sub.Results()
	assert.False(t, ok)

	// Idempotent for unknown ids.
	bus.Unsubscribe(sub.ID())
	bus.Unsubscribe("nope")

	// Publishing after unsubscribe reaches nobody and does not panic.
	bus.Publish(result("ch", daq.KindSpectrum, 1))
}

func TestCloseShutsDownSubscriptions(t *testing.T) {
	bus := New()

	a, err := bus.Subscribe("ch")
	require.NoError(t, err)
	b, err := bus.Subscribe(daq.Wildcard)
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	_, ok := <-a.Results()
	assert.False(t, ok)
	_, ok = <-b.Results()
	assert.False(t, ok)

	_, err = bus.Subscribe("ch")
	assert.ErrorIs(t, err, ErrBusClosed)

	bus.Publish(result("ch", daq.KindSpectrum, 1))
	assert.Equal(t, 0, bus.Subscribers())
}
