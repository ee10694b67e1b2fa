// Package pipeline runs calibrated stages over a stream of camera frames. Each stage is
// owned by a Driver that serializes frame processing with reconfiguration, rebuilds the
// stage's table when the calibration or its inputs change, and hands the result to the
// next driver.
package pipeline

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/ndarray"
)

// Kind names a stage variant.
type Kind string

// Stage variants.
const (
	KindMagnification    Kind = "magnification"
	KindGeometric        Kind = "geometric"
	KindEfficiency       Kind = "efficiency"
	KindBeamStats        Kind = "beam_stats"
	KindViewScreenConfig Kind = "viewscreen_config"
)

// Kinds lists every stage variant.
var Kinds = []Kind{KindMagnification, KindGeometric, KindEfficiency, KindBeamStats, KindViewScreenConfig}

// AttachesParams reports whether frames emitted by this kind of stage carry the driver's
// parameters as attributes.
func (k Kind) AttachesParams() bool {
	switch k {
	case KindGeometric, KindBeamStats, KindViewScreenConfig:
		return true
	case KindMagnification, KindEfficiency:
		return false
	default:
		return false
	}
}

// Table is the immutable state a stage derives from a calibration model. A new model always
// produces a new table.
type Table interface {
	// Source returns the model the table was built from.
	Source() *calibration.Model
}

// CalibratedStage is one calibrated transform. A Driver calls every method while holding its
// lock, so implementations need no synchronization of their own.
type CalibratedStage interface {
	Kind() Kind
	// Configure prepares the stage for a newly loaded model and returns its initial table,
	// or nil when the table is built on the first frame.
	Configure(ctx context.Context, model *calibration.Model) (Table, error)
	// Check reports every reason frame cannot be processed under model.
	Check(model *calibration.Model, frame *ndarray.Frame) error
	// Rebuild returns a table valid for model, which is current when it still applies.
	Rebuild(ctx context.Context, model *calibration.Model, current Table) (Table, error)
	// Apply processes frame into a new frame owned by the caller.
	Apply(ctx context.Context, frame *ndarray.Frame, table Table) (*ndarray.Frame, error)
}

// StageConfig declares one stage of a pipeline.
type StageConfig struct {
	Name       string                 `json:"name"`
	Type       Kind                   `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Validate checks the declaration, including its attributes.
func (c *StageConfig) Validate(path string) error {
	if c.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if c.Type == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "type")
	}
	switch c.Type {
	case KindGeometric:
		attrs, err := decodeAttributes[GeometricAttributes](c.Attributes)
		if err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
		return attrs.Validate(path)
	case KindEfficiency:
		attrs, err := decodeAttributes[EfficiencyAttributes](c.Attributes)
		if err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
		return attrs.Validate(path)
	case KindMagnification, KindBeamStats, KindViewScreenConfig:
		return nil
	default:
		return goutils.NewConfigValidationError(path, errors.Errorf("unknown stage type %q", c.Type))
	}
}

// decodeAttributes converts an attribute map into a typed stage configuration using the
// json field names.
func decodeAttributes[T any](attributes map[string]interface{}) (*T, error) {
	out := new(T)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "invalid stage attributes")
	}
	return out, nil
}

// Deps are the collaborators shared by every stage of a pipeline.
type Deps struct {
	Paths *calibration.RepositoryPaths
	Pool  *ndarray.Pool
	// Clock times frames and rebuilds; nil means the wall clock.
	Clock clock.Clock
}

// NewStage builds the stage declared by conf. params is the owning driver's parameter
// store.
func NewStage(conf StageConfig, deps Deps, params *ParamStore, logger logging.Logger) (CalibratedStage, error) {
	if err := conf.Validate(fmt.Sprintf("stage %q", conf.Name)); err != nil {
		return nil, err
	}
	switch conf.Type {
	case KindMagnification:
		return &magnificationStage{pool: deps.Pool}, nil
	case KindGeometric:
		attrs, err := decodeAttributes[GeometricAttributes](conf.Attributes)
		if err != nil {
			return nil, err
		}
		return &geometricStage{pool: deps.Pool, capacity: attrs.capacity(), logger: logger}, nil
	case KindEfficiency:
		attrs, err := decodeAttributes[EfficiencyAttributes](conf.Attributes)
		if err != nil {
			return nil, err
		}
		attrs.publish(params)
		return &efficiencyStage{
			pool:   deps.Pool,
			paths:  deps.Paths,
			params: params,
			window: attrs.window(),
			logger: logger,
		}, nil
	case KindBeamStats:
		return &statsStage{pool: deps.Pool, params: params}, nil
	case KindViewScreenConfig:
		return &viewScreenConfigStage{pool: deps.Pool, paths: deps.Paths, params: params}, nil
	default:
		return nil, errors.Errorf("unknown stage type %q", conf.Type)
	}
}
