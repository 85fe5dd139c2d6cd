package serial

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

)

func TestDecoder_SingleFrame(t *testing.T) {
	var d decoder
	frames, malformed := d.Feed(Encode([]byte{0x01, 0x02, 0x03}))
	assert.Zero(t, malformed)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, frames[0])
}

func TestDecoder_SplitAcrossReads(t *testing.T) {
	wire := Encode([]byte("split-me"))

	var d decoder
	frames, _ := d.Feed(wire[:3])
	assert.Empty(t, frames, "incomplete frame stays buffered")

	frames, malformed := d.Feed(wire[3:])
	assert.Zero(t, malformed)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("split-me"), frames[0])
}

func TestDecoder_MultipleFramesOneRead(t *testing.T) {
	wire := append(Encode([]byte{0x11}), Encode([]byte{0x22, 0x33})...)

	var d decoder
	frames, malformed := d.Feed(wire)
	assert.Zero(t, malformed)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte{0x11}, frames[0])
	assert.Equal(t, []byte{0x22, 0x33}, frames[1])
}

func TestDecoder_ResyncAfterGarbage(t *testing.T) {
	wire := append([]byte{0x00, 0x7F, 0x13}, Encode([]byte{0x42})...)

	var d decoder
	frames, _ := d.Feed(wire)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x42}, frames[0])
}

func TestDecoder_BadChecksumCounted(t *testing.T) {
	wire := Encode([]byte{0x10, 0x20})
	wire[len(wire)-1] ^= 0xFF // corrupt checksum
	wire = append(wire, Encode([]byte{0x42})...)

	var d decoder
	frames, malformed := d.Feed(wire)
	assert.GreaterOrEqual(t, malformed, 1)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x42}, frames[0], "decoder recovers the next good frame")
}

func TestEncode_Bounds(t *testing.T) {
	assert.Nil(t, Encode(nil))
	assert.Nil(t, Encode(make([]byte, 300)))
	assert.NotNil(t, Encode(make([]byte, 255)))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{Path: "/dev/ttyUSB0"}).Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Path: "/dev/ttyUSB0", Baud: -9600}).Validate())
}

func TestTransport_ReadsFramesFromDevice(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	tr := New(Deps{
		Name:     "bench-serial",
		Config:   Config{Path: "/dev/test0"},
		OpenFunc: func() (*os.File, error) { return r, nil },
	})
	require.NoError(t, tr.Initialize())
	require.NoError(t, tr.Start(context.Background()))

	_, err = w.Write(Encode([]byte{0xDE, 0xAD}))
	require.NoError(t, err)

	select {
	case frame := <-tr.Frames():
		assert.Equal(t, "bench-serial", frame.Transport, "frames carry the instance name")
		assert.Equal(t, "/dev/test0", frame.Address)
		assert.Equal(t, []byte{0xDE, 0xAD}, frame.Payload)
		assert.False(t, frame.Captured.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no frame decoded from device stream")
	}

	require.NoError(t, tr.Stop(2*time.Second))
	_, open := <-tr.Frames()
	assert.False(t, open)
}

func TestTransport_Meta(t *testing.T) {
	tr := New(Deps{Config: Config{Path: "/dev/ttyUSB0", Baud: 115200}})
	meta := tr.Meta()
	assert.Equal(t, "serial-/dev/ttyUSB0", meta.Name)
	assert.Equal(t, "transport", meta.Type)

	inputs := tr.InputPorts()
	require.Len(t, inputs, 1)
	assert.Equal(t, "device:///dev/ttyUSB0", inputs[0].Config.ResourceID())
}
