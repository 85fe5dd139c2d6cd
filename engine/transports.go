package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360/daqstreams/component"
	"github.com/c360/daqstreams/config"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/transport"
	"github.com/c360/daqstreams/transport/mqtt"
	"github.com/c360/daqstreams/transport/serial"
	"github.com/c360/daqstreams/transport/tcp"
	"github.com/c360/daqstreams/transport/udp"
)

// registerTransport adds one declared transport's factory to the
// component registry. The factory closes over the declaration so the
// adapter's name and down callback travel with it; the registry's
// exclusive-resource tracking then rejects two adapters claiming the
// same socket or device node.
func registerTransport(
	reg *component.Registry,
	tc config.TransportConfig,
	onDown transport.DownCallback,
) error {
	registration := &component.Registration{
		Name:        tc.Name,
		Type:        "transport",
		Protocol:    tc.Type,
		Description: tc.Type + " frame source",
		Version:     "1.0.0",
		Factory: func(raw json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
			return newAdapter(tc, raw, deps, onDown)
		},
	}
	if err := reg.RegisterFactory(tc.Name, registration); err != nil {
		return errors.Wrap(err, "engine", "registerTransport", "register factory "+tc.Name)
	}
	return nil
}

// createAdapter instantiates a registered transport through the registry.
func createAdapter(
	reg *component.Registry,
	tc config.TransportConfig,
	metrics *metric.MetricsRegistry,
	logger *slog.Logger,
) (transport.Adapter, error) {
	raw, err := tc.RawParams()
	if err != nil {
		return nil, errors.WrapInvalid(err, "engine", "createAdapter", "encode transport params")
	}

	instance, err := reg.CreateComponent(tc.Name, tc.Name, raw, component.Dependencies{
		MetricsRegistry: metrics,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	adapter, ok := instance.(transport.Adapter)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("factory %q built a %T, not a transport adapter", tc.Name, instance),
			"engine", "createAdapter", "adapter type check")
	}
	return adapter, nil
}

// newAdapter builds the typed adapter for one transport declaration.
// Params round-trip through JSON so each adapter keeps its own config.
func newAdapter(
	tc config.TransportConfig,
	raw json.RawMessage,
	deps component.Dependencies,
	onDown transport.DownCallback,
) (component.Discoverable, error) {
	decode := func(v any) error {
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return errors.WrapInvalid(err, "engine", "newAdapter",
				"decode params for transport "+tc.Name)
		}
		return nil
	}

	switch tc.Type {
	case "udp":
		var cfg udp.Config
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return udp.New(udp.Deps{
			Name:            tc.Name,
			Config:          cfg,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
			OnDown:          onDown,
		}), nil
	case "tcp":
		var cfg tcp.Config
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return tcp.New(tcp.Deps{
			Name:            tc.Name,
			Config:          cfg,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
			OnDown:          onDown,
		}), nil
	case "serial":
		var cfg serial.Config
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return serial.New(serial.Deps{
			Name:            tc.Name,
			Config:          cfg,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
			OnDown:          onDown,
		}), nil
	case "mqtt":
		var cfg mqtt.Config
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return mqtt.New(mqtt.Deps{
			Name:            tc.Name,
			Config:          cfg,
			MetricsRegistry: deps.MetricsRegistry,
			Logger:          deps.Logger,
			OnDown:          onDown,
		}), nil
	default:
		// Validation rejects unknown types; this guards direct callers.
		return nil, errors.WrapInvalid(fmt.Errorf("unknown transport type %q", tc.Type),
			"engine", "newAdapter", "transport type dispatch")
	}
}
