package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/resultbus"
)

func newTestOutput(t *testing.T) (*Output, *resultbus.Bus) {
	t.Helper()

	bus := resultbus.New()
	out, err := New(Deps{
		Config: Config{Bind: "127.0.0.1:0"},
		Bus:    bus,
	})
	require.NoError(t, err)
	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() {
		out.Stop(time.Second)
		bus.Close()
	})
	return out, bus
}

func dial(t *testing.T, out *Output) *gws.Conn {
	t.Helper()

	url := "ws://" + out.Addr() + "/results"
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOutput_BroadcastsResults(t *testing.T) {
	out, bus := newTestOutput(t)
	conn := dial(t, out)

	require.Eventually(t, func() bool {
		return out.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	want := daq.Result{
		ChannelID: "accel-x",
		WindowID:  7,
		Kind:      daq.KindSpectrum,
		Timestamp: time.Now(),
	}
	bus.Publish(want)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got daq.Result
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, want.ChannelID, got.ChannelID)
	assert.Equal(t, want.WindowID, got.WindowID)
	assert.Equal(t, want.Kind, got.Kind)
}

func TestOutput_MultipleClientsReceiveEachResult(t *testing.T) {
	out, bus := newTestOutput(t)
	a := dial(t, out)
	b := dial(t, out)

	require.Eventually(t, func() bool {
		return out.ClientCount() == 2
	}, time.Second, 5*time.Millisecond)

	bus.Publish(daq.Result{ChannelID: "temp-1", WindowID: 1, Kind: daq.KindAnomalyEvent})

	for _, conn := range []*gws.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got daq.Result
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, daq.ChannelID("temp-1"), got.ChannelID)
	}
}

func TestOutput_DisconnectedClientRemoved(t *testing.T) {
	out, _ := newTestOutput(t)
	conn := dial(t, out)

	require.Eventually(t, func() bool {
		return out.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return out.ClientCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestOutput_StopClosesClients(t *testing.T) {
	bus := resultbus.New()
	defer bus.Close()

	out, err := New(Deps{
		Config: Config{Bind: "127.0.0.1:0"},
		Bus:    bus,
	})
	require.NoError(t, err)
	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))

	conn := dial(t, out)
	require.Eventually(t, func() bool {
		return out.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, out.Stop(time.Second))
	require.NoError(t, out.Stop(time.Second)) // idempotent

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestOutput_ConfigValidation(t *testing.T) {
	bus := resultbus.New()
	defer bus.Close()

	_, err := New(Deps{Config: Config{}, Bus: bus})
	assert.Error(t, err)

	_, err = New(Deps{Config: Config{Bind: "no-port"}, Bus: bus})
	assert.Error(t, err)

	_, err = New(Deps{Config: Config{Bind: "127.0.0.1:0"}})
	assert.Error(t, err, "nil bus rejected")
}
