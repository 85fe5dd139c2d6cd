package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/component"
)

func TestConfig_Validate(t *testing.T) {
	valid := Config{Broker: "tcp://broker:1883", Topics: []string{"sensors/+/accel"}}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&Config{Topics: []string{"t"}}).Validate(), "broker required")
	assert.Error(t, (&Config{Broker: "tcp://b:1883"}).Validate(), "topics required")
	assert.Error(t, (&Config{Broker: "tcp://b:1883", Topics: []string{" "}}).Validate())
	assert.Error(t, (&Config{Broker: "tcp://b:1883", Topics: []string{"t"}, QoS: 3}).Validate())
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Deps{Name: "wireless", Config: Config{
		Broker: "tcp://broker:1883",
		Topics: []string{"sensors/#"},
	}})

	assert.Equal(t, "daqstreams-wireless", tr.config.ClientID)
	assert.Equal(t, 1024, cap(tr.frames))
}

func TestTransport_Meta(t *testing.T) {
	tr := New(Deps{Config: Config{
		Broker: "tcp://broker:1883",
		Topics: []string{"sensors/temp", "sensors/accel"},
	}})

	meta := tr.Meta()
	assert.Equal(t, "mqtt-tcp://broker:1883", meta.Name)
	assert.Equal(t, "transport", meta.Type)
	assert.Contains(t, meta.Description, "sensors/temp")
}

func TestTransport_Ports(t *testing.T) {
	tr := New(Deps{Config: Config{Broker: "tcp://broker:1883", Topics: []string{"t"}}})

	inputs := tr.InputPorts()
	require.Len(t, inputs, 1)
	assert.Equal(t, "mqtt", inputs[0].Config.(component.NetworkPort).Protocol)
	assert.Empty(t, tr.OutputPorts())
}

func TestTransport_HealthBeforeStart(t *testing.T) {
	tr := New(Deps{Config: Config{Broker: "tcp://broker:1883", Topics: []string{"t"}}})
	assert.False(t, tr.Health().Healthy)
}

func TestTransport_StopWithoutStart(t *testing.T) {
	tr := New(Deps{Config: Config{Broker: "tcp://broker:1883", Topics: []string{"t"}}})
	assert.NoError(t, tr.Stop(0))
}
