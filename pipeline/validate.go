package pipeline

import (
	"fmt"

	"github.com/c360/daqstreams/errors"
)

// ValidateStages builds the stage chain against a channel's acquisition
// parameters and fails fast on anything that would only surface at
// runtime otherwise: bad stage parameters, unstable filter designs at
// the channel's rate, spectral analysis over a window that is not a
// power of two.
func ValidateStages(registry *Registry, specs []StageSpec, rate float64, windowSize int) error {
	if registry == nil {
		registry = DefaultRegistry()
	}

	for _, spec := range specs {
		stage, err := registry.New(spec.Type, spec.Params)
		if err != nil {
			return err
		}

		switch s := stage.(type) {
		case *iirFilter:
			if _, err := s.designSections(rate); err != nil {
				return err
			}
		case *spectral:
			if windowSize > 0 && windowSize&(windowSize-1) != 0 {
				return errors.WrapInvalid(
					fmt.Errorf("window size %d is not a power of two", windowSize),
					"pipeline", "ValidateStages", "validate spectral window")
			}
		}
	}
	return nil
}
