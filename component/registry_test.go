package component

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name  string
	ports []Port
}

func (f *fakeComponent) Meta() Metadata {
	return Metadata{Name: f.name, Type: "transport", Version: "1.0.0"}
}
func (f *fakeComponent) InputPorts() []Port        { return f.ports }
func (f *fakeComponent) OutputPorts() []Port       { return nil }
func (f *fakeComponent) ConfigSchema() ConfigSchema {
	return ConfigSchema{}
}
func (f *fakeComponent) Health() HealthStatus {
	return HealthStatus{Healthy: true, LastCheck: time.Now()}
}
func (f *fakeComponent) DataFlow() FlowMetrics { return FlowMetrics{} }

func fakeFactory(name string, ports ...Port) Factory {
	return func(json.RawMessage, Dependencies) (Discoverable, error) {
		return &fakeComponent{name: name, ports: ports}, nil
	}
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory("udp-transport", &Registration{
		Name:     "udp-transport",
		Type:     "transport",
		Protocol: "udp",
		Factory:  fakeFactory("udp-a"),
	}))

	instance, err := r.CreateComponent("udp-transport", "udp-a", nil, Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "udp-a", instance.Meta().Name)

	got, ok := r.Instance("udp-a")
	require.True(t, ok)
	assert.Same(t, instance, got)
	assert.Equal(t, []string{"udp-a"}, r.Instances())
}

func TestRegistry_DuplicateFactoryRejected(t *testing.T) {
	r := NewRegistry()
	reg := &Registration{Name: "x", Type: "transport", Factory: fakeFactory("x")}
	require.NoError(t, r.RegisterFactory("x", reg))
	assert.Error(t, r.RegisterFactory("x", reg))
}

func TestRegistry_InvalidRegistrations(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.RegisterFactory("", &Registration{Type: "transport", Factory: fakeFactory("x")}))
	assert.Error(t, r.RegisterFactory("x", nil))
	assert.Error(t, r.RegisterFactory("x", &Registration{Type: "transport"}))
	assert.Error(t, r.RegisterFactory("x", &Registration{Factory: fakeFactory("x")}))
}

func TestRegistry_UnknownFactory(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateComponent("missing", "inst", nil, Dependencies{})
	assert.Error(t, err)
}

func TestRegistry_ResourceConflict(t *testing.T) {
	r := NewRegistry()
	socket := Port{
		Name:      "listen",
		Direction: DirectionInput,
		Config:    NetworkPort{Protocol: "udp", Host: "0.0.0.0", Port: 9000},
	}
	require.NoError(t, r.RegisterFactory("udp", &Registration{
		Name: "udp", Type: "transport", Factory: fakeFactory("udp", socket),
	}))

	_, err := r.CreateComponent("udp", "first", nil, Dependencies{})
	require.NoError(t, err)

	_, err = r.CreateComponent("udp", "second", nil, Dependencies{})
	require.Error(t, err, "two instances cannot bind the same socket")

	r.RemoveInstance("first")
	_, err = r.CreateComponent("udp", "second", nil, Dependencies{})
	assert.NoError(t, err, "resources release when the holder is removed")
}

func TestPortables(t *testing.T) {
	n := NetworkPort{Protocol: "tcp", Host: "127.0.0.1", Port: 7000}
	assert.Equal(t, "tcp://127.0.0.1:7000", n.ResourceID())
	assert.True(t, n.IsExclusive())

	d := DevicePort{Path: "/dev/ttyUSB0", Baud: 115200}
	assert.Equal(t, "device:///dev/ttyUSB0", d.ResourceID())
	assert.True(t, d.IsExclusive())

	b := BusPort{Channel: "*"}
	assert.False(t, b.IsExclusive())
	assert.Equal(t, "bus", b.Type())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "unknown", State(99).String())
}
