package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/component"
)

func TestNew_Defaults(t *testing.T) {
	tr := New(Deps{Config: Config{Port: 15550}})

	assert.Equal(t, "0.0.0.0", tr.config.Bind)
	assert.Equal(t, 1024, cap(tr.frames))
	assert.NotNil(t, tr.Frames())
}

func TestTransport_Meta(t *testing.T) {
	tr := New(Deps{Config: Config{Bind: "127.0.0.1", Port: 15550}})

	meta := tr.Meta()
	assert.Equal(t, "udp-15550", meta.Name)
	assert.Equal(t, "transport", meta.Type)
	assert.Contains(t, meta.Description, "UDP frame source")
}

func TestTransport_Ports(t *testing.T) {
	tr := New(Deps{Config: Config{Bind: "127.0.0.1", Port: 15550}})

	inputs := tr.InputPorts()
	require.Len(t, inputs, 1)
	assert.Equal(t, component.DirectionInput, inputs[0].Direction)
	assert.Equal(t, "udp://127.0.0.1:15550", inputs[0].Config.ResourceID())
	assert.Empty(t, tr.OutputPorts())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{Port: 0}).Validate(), "0 means OS-assigned")
	assert.NoError(t, (&Config{Port: 15550}).Validate())
	assert.Error(t, (&Config{Port: -1}).Validate())
	assert.Error(t, (&Config{Port: 70000}).Validate())
	assert.Error(t, (&Config{Port: 1, FrameBuffer: -1}).Validate())
}

func TestTransport_StartReceiveStop(t *testing.T) {
	tr := New(Deps{Name: "bench-udp", Config: Config{Bind: "127.0.0.1", Port: 0}})
	require.NoError(t, tr.Initialize())

	ctx := context.Background()
	require.NoError(t, tr.Start(ctx))

	addr := tr.LocalAddr()
	require.NotNil(t, addr)

	sender, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)

	select {
	case frame := <-tr.Frames():
		assert.Equal(t, "bench-udp", frame.Transport, "frames carry the instance name")
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, frame.Payload)
		assert.False(t, frame.Captured.IsZero())
		assert.NotEmpty(t, frame.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	require.NoError(t, tr.Stop(2*time.Second))

	_, open := <-tr.Frames()
	assert.False(t, open, "frame channel closes after Stop")
}

func TestTransport_StartIdempotent(t *testing.T) {
	tr := New(Deps{Config: Config{Bind: "127.0.0.1", Port: 0}})
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Start(ctx), "second Start is a no-op")
	require.NoError(t, tr.Stop(2*time.Second))
}

func TestTransport_StopWithoutStart(t *testing.T) {
	tr := New(Deps{Config: Config{Port: 15550}})
	assert.NoError(t, tr.Stop(time.Second))
}

func TestTransport_Health(t *testing.T) {
	tr := New(Deps{Config: Config{Bind: "127.0.0.1", Port: 0}})

	assert.False(t, tr.Health().Healthy, "not healthy before Start")

	require.NoError(t, tr.Start(context.Background()))
	assert.True(t, tr.Health().Healthy)

	require.NoError(t, tr.Stop(2*time.Second))
	assert.False(t, tr.Health().Healthy)
}
