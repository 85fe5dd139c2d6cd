package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
)

// Pipeline executes an ordered chain of stages over one channel's windows.
// Each channel owns its own Pipeline instance; stages are never shared
// across channels, so stage state needs no locking.
type Pipeline struct {
	channelID daq.ChannelID
	stages    []Stage
	logger    *slog.Logger
}

// New creates a pipeline for one channel. A nil logger falls back to the
// default slog logger.
func New(channelID daq.ChannelID, stages []Stage, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		channelID: channelID,
		stages:    stages,
		logger:    logger.With("channel", string(channelID)),
	}
}

// Build constructs a pipeline from a list of (type, params) stage specs
// using the given registry.
func Build(channelID daq.ChannelID, registry *Registry, specs []StageSpec, logger *slog.Logger) (*Pipeline, error) {
	stages := make([]Stage, 0, len(specs))
	for _, spec := range specs {
		stage, err := registry.New(spec.Type, spec.Params)
		if err != nil {
			return nil, errors.WrapInvalid(err, "pipeline", "Build",
				fmt.Sprintf("build stage chain for channel %s", channelID))
		}
		stages = append(stages, stage)
	}
	return New(channelID, stages, logger), nil
}

// StageSpec names a stage type and its parameters, as listed in a channel's
// configuration.
type StageSpec struct {
	Type   string         `yaml:"type" json:"type"`
	Params map[string]any `yaml:"params" json:"params"`
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Process runs the window through the stage chain left to right. Stage
// results (spectra, anomaly events) accumulate in order. On stage error
// or a non-finite stage output the window is aborted: the failing stage
// is reset, a StageError result is appended, and the error is returned.
// Other stages keep their state; other channels are unaffected.
func (p *Pipeline) Process(ctx context.Context, w daq.Window) ([]daq.Result, error) {
	var results []daq.Result
	cur := w

	for _, stage := range p.stages {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		out, res, err := stage.Process(ctx, cur)
		if err == nil {
			if i, bad := firstNonFinite(out); bad {
				err = fmt.Errorf("%w: sample %d", errors.ErrNonFiniteOutput, i)
			}
		}
		if err != nil {
			stage.Reset()
			p.logger.Warn("stage failed, window aborted",
				"stage", stage.Name(),
				"window_id", cur.WindowID,
				"error", err)
			results = append(results, daq.Result{
				ChannelID: p.channelID,
				WindowID:  cur.WindowID,
				Kind:      daq.KindStageError,
				Payload: daq.StageFailure{
					Stage:  stage.Name(),
					Reason: err.Error(),
				},
				Timestamp: time.Now(),
			})
			return results, errors.Wrap(err, "pipeline", "Process",
				fmt.Sprintf("run stage %q", stage.Name()))
		}

		if res != nil {
			results = append(results, *res)
		}
		cur = out
	}

	return results, nil
}

// Reset resets every stage in the chain. Called after a transport
// reconnect so filter and detector state does not bridge the gap.
func (p *Pipeline) Reset() {
	for _, stage := range p.stages {
		stage.Reset()
	}
}

// firstNonFinite reports the index of the first NaN or Inf sample value.
func firstNonFinite(w daq.Window) (int, bool) {
	for i, s := range w.Samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return i, true
		}
	}
	return 0, false
}
