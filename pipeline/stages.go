package pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/beamline/viewscreen/beamstats"
	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/correction"
	"github.com/beamline/viewscreen/efficiency"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/magnification"
	"github.com/beamline/viewscreen/ndarray"
	"github.com/beamline/viewscreen/remap"
)

// Efficiency stage parameters.
const (
	ParamTargetNumber = "CURRENT_TARGET_NUMBER"
	ParamIrisDiameter = "CURRENT_IRIS_DIAMETER"
	ParamBeamEnergy   = "CURRENT_BEAM_ENERGY"
)

// View screen configuration parameters.
const (
	ParamConfigurationFileDirectory = "CONFIGURATION_FILE_DIRECTORY"
	ParamBeamspaceStartX            = "BEAMSPACE_START_X"
	ParamBeamspaceEndX              = "BEAMSPACE_END_X"
	ParamBeamspaceStartY            = "BEAMSPACE_START_Y"
	ParamBeamspaceEndY              = "BEAMSPACE_END_Y"
	ParamInputImageWidth            = "INPUT_IMAGE_WIDTH"
	ParamInputImageHeight           = "INPUT_IMAGE_HEIGHT"
	ParamOutputImageWidth           = "OUTPUT_IMAGE_WIDTH"
	ParamOutputImageHeight          = "OUTPUT_IMAGE_HEIGHT"
)

// TargetParam returns the name of a per target parameter, e.g. TARGET0_MATERIAL.
func TargetParam(target int, suffix string) string {
	return fmt.Sprintf("TARGET%d_%s", target, suffix)
}

// Per target parameter suffixes.
const (
	SuffixMaterial          = "MATERIAL"
	SuffixLightDistribution = "LIGHT_DISTRIBUTION"
	SuffixMapDirectory      = "EFFICIENCY_MAP_DIRECTORY"
	SuffixMapDirectoryFound = "EFFICIENCY_MAP_DIRECTORY_EXISTS"
)

// GeometricAttributes configure a geometric stage.
type GeometricAttributes struct {
	// MaxContributors bounds the camera pixels kept per output pixel.
	MaxContributors int `json:"max_contributors,omitempty"`
}

// Validate checks the attributes.
func (a *GeometricAttributes) Validate(path string) error {
	if a.MaxContributors < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("max_contributors must not be negative, got %d", a.MaxContributors))
	}
	return nil
}

func (a *GeometricAttributes) capacity() int {
	if a.MaxContributors == 0 {
		return remap.DefaultCapacity
	}
	return a.MaxContributors
}

// EfficiencyAttributes configure an efficiency stage. The target, iris diameter and beam
// energy are initial parameter values.
type EfficiencyAttributes struct {
	Target       int                    `json:"target"`
	IrisDiameter float64                `json:"iris_diameter"`
	BeamEnergy   float64                `json:"beam_energy"`
	IrisWindow   *efficiency.IrisWindow `json:"iris_window,omitempty"`
}

// Validate checks the attributes.
func (a *EfficiencyAttributes) Validate(path string) error {
	if a.Target < 0 || a.Target >= calibration.MaxTargets {
		return goutils.NewConfigValidationError(path, errors.Errorf("target must be in [0,%d), got %d", calibration.MaxTargets, a.Target))
	}
	if a.IrisWindow != nil && a.IrisWindow.Min >= a.IrisWindow.Max {
		return goutils.NewConfigValidationError(path, errors.New("iris_window is empty"))
	}
	return nil
}

func (a *EfficiencyAttributes) window() efficiency.IrisWindow {
	if a.IrisWindow == nil {
		return efficiency.DefaultIrisWindow
	}
	return *a.IrisWindow
}

func (a *EfficiencyAttributes) publish(params *ParamStore) {
	params.Set(ParamTargetNumber, a.Target)
	params.Set(ParamIrisDiameter, a.IrisDiameter)
	params.Set(ParamBeamEnergy, a.BeamEnergy)
}

// modelTable is the table of stages that only need the model itself.
type modelTable struct {
	model *calibration.Model
}

func (t modelTable) Source() *calibration.Model { return t.model }

type correctionTable struct {
	*correction.Table
}

func (t correctionTable) Source() *calibration.Model { return t.Model }

type magnificationStage struct {
	pool *ndarray.Pool
}

func (s *magnificationStage) Kind() Kind { return KindMagnification }

func (s *magnificationStage) Configure(ctx context.Context, model *calibration.Model) (Table, error) {
	return s.Rebuild(ctx, model, nil)
}

func (s *magnificationStage) Check(model *calibration.Model, frame *ndarray.Frame) error {
	return correction.CheckFrame(frame, model.OutputWidth, model.OutputHeight)
}

func (s *magnificationStage) Rebuild(ctx context.Context, model *calibration.Model, current Table) (Table, error) {
	if t, ok := current.(correctionTable); ok && t.Fits(model) {
		return current, nil
	}
	table, err := magnification.BuildTable(ctx, model)
	if err != nil {
		return nil, err
	}
	return correctionTable{table}, nil
}

func (s *magnificationStage) Apply(ctx context.Context, frame *ndarray.Frame, table Table) (*ndarray.Frame, error) {
	return magnification.Apply(s.pool, frame, table.(correctionTable).Table)
}

type remapTable struct {
	*remap.Table
}

func (t remapTable) Source() *calibration.Model { return t.Model }

type geometricStage struct {
	pool     *ndarray.Pool
	capacity int
	logger   logging.Logger
}

func (s *geometricStage) Kind() Kind { return KindGeometric }

func (s *geometricStage) Configure(ctx context.Context, model *calibration.Model) (Table, error) {
	return s.Rebuild(ctx, model, nil)
}

func (s *geometricStage) Check(model *calibration.Model, frame *ndarray.Frame) error {
	return correction.CheckFrame(frame, model.InputWidth, model.InputHeight)
}

func (s *geometricStage) Rebuild(ctx context.Context, model *calibration.Model, current Table) (Table, error) {
	if t, ok := current.(remapTable); ok && t.Fits(model) && t.Capacity == s.capacity {
		return current, nil
	}
	table, err := remap.BuildTable(ctx, model, s.capacity, s.logger)
	if err != nil {
		return nil, err
	}
	return remapTable{table}, nil
}

func (s *geometricStage) Apply(ctx context.Context, frame *ndarray.Frame, table Table) (*ndarray.Frame, error) {
	return remap.ApplyFrame(s.pool, frame, table.(remapTable).Table)
}

// efficiencyTables holds the grids loaded for a model and the correction table built from
// them for the current parameters, if any.
type efficiencyTables struct {
	model *calibration.Model
	grids efficiency.TargetGrids
	table *efficiency.Table
}

func (t *efficiencyTables) Source() *calibration.Model { return t.model }

type efficiencyStage struct {
	pool   *ndarray.Pool
	paths  *calibration.RepositoryPaths
	params *ParamStore
	window efficiency.IrisWindow
	logger logging.Logger
}

func (s *efficiencyStage) Kind() Kind { return KindEfficiency }

func (s *efficiencyStage) Configure(ctx context.Context, model *calibration.Model) (Table, error) {
	if model.OutputWidth <= 0 || model.OutputHeight <= 0 {
		return nil, calibration.NewParameterInvalidError("output image must have a positive size")
	}
	grids, err := efficiency.LoadTargetGrids(model, s.paths, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("efficiency maps loaded", "grids", grids.Count())
	return &efficiencyTables{model: model, grids: grids}, nil
}

func (s *efficiencyStage) Check(model *calibration.Model, frame *ndarray.Frame) error {
	return correction.CheckFrame(frame, model.OutputWidth, model.OutputHeight)
}

func (s *efficiencyStage) Rebuild(ctx context.Context, model *calibration.Model, current Table) (Table, error) {
	state, ok := current.(*efficiencyTables)
	if !ok || state.model != model {
		return nil, calibration.NewUnconfiguredError("efficiency maps not loaded for the current calibration")
	}
	target, err := s.params.Int(ParamTargetNumber)
	if err != nil {
		return nil, calibration.NewParameterInvalidError(err.Error())
	}
	iris, err := s.params.Float(ParamIrisDiameter)
	if err != nil {
		return nil, calibration.NewParameterInvalidError(err.Error())
	}
	energy, err := s.params.Float(ParamBeamEnergy)
	if err != nil {
		return nil, calibration.NewParameterInvalidError(err.Error())
	}
	grid, params, err := efficiency.Preconditions(model, state.grids, target, iris, energy, s.window, s.logger)
	if err != nil {
		return nil, err
	}
	if state.table.Fits(model, params) {
		return current, nil
	}
	table, err := efficiency.BuildTable(ctx, model, grid, params)
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("efficiency table rebuilt", "iris_diameter", params.IrisDiameter, "material", params.Material,
		"light_distribution", params.LightDistribution)
	return &efficiencyTables{model: model, grids: state.grids, table: table}, nil
}

func (s *efficiencyStage) Apply(ctx context.Context, frame *ndarray.Frame, table Table) (*ndarray.Frame, error) {
	return efficiency.Apply(s.pool, frame, table.(*efficiencyTables).table)
}

type statsStage struct {
	pool   *ndarray.Pool
	params *ParamStore
}

func (s *statsStage) Kind() Kind { return KindBeamStats }

func (s *statsStage) Configure(ctx context.Context, model *calibration.Model) (Table, error) {
	if model.OutputWidth <= 0 || model.OutputHeight <= 0 {
		return nil, calibration.NewParameterInvalidError("output image must have a positive size")
	}
	return modelTable{model}, nil
}

func (s *statsStage) Check(model *calibration.Model, frame *ndarray.Frame) error {
	return correction.CheckFrame(frame, model.OutputWidth, model.OutputHeight)
}

func (s *statsStage) Rebuild(ctx context.Context, model *calibration.Model, current Table) (Table, error) {
	return reuseModelTable(model, current), nil
}

func reuseModelTable(model *calibration.Model, current Table) Table {
	if t, ok := current.(modelTable); ok && t.model == model {
		return current
	}
	return modelTable{model}
}

func (s *statsStage) Apply(ctx context.Context, frame *ndarray.Frame, table Table) (*ndarray.Frame, error) {
	stats, err := beamstats.Calculate(table.Source(), frame)
	if err != nil {
		return nil, err
	}
	out, err := s.pool.Copy(frame)
	if err != nil {
		return nil, err
	}
	for _, nv := range stats.Values() {
		s.params.Set(nv.Name, nv.Value)
	}
	stats.Attach(out.Attributes)
	return out, nil
}

type viewScreenConfigStage struct {
	pool   *ndarray.Pool
	paths  *calibration.RepositoryPaths
	params *ParamStore
}

func (s *viewScreenConfigStage) Kind() Kind { return KindViewScreenConfig }

func (s *viewScreenConfigStage) Configure(ctx context.Context, model *calibration.Model) (Table, error) {
	for n := 0; n < calibration.MaxTargets; n++ {
		var material, light, dir string
		exists := false
		if info, err := model.Target(n); err == nil {
			material, light = info.Material, info.LightDistribution
			dir, _ = s.paths.MapDir(model.Geometry, light)
			exists = s.paths.MapDirExists(model.Geometry, light)
		}
		s.params.Set(TargetParam(n, SuffixMaterial), material)
		s.params.Set(TargetParam(n, SuffixLightDistribution), light)
		s.params.Set(TargetParam(n, SuffixMapDirectory), dir)
		s.params.Set(TargetParam(n, SuffixMapDirectoryFound), exists)
	}
	s.params.Set(ParamConfigurationFileDirectory, s.paths.ConfigDir())
	s.params.Set(ParamBeamspaceStartX, model.XStart)
	s.params.Set(ParamBeamspaceEndX, model.XEnd)
	s.params.Set(ParamBeamspaceStartY, model.YStart)
	s.params.Set(ParamBeamspaceEndY, model.YEnd)
	s.params.Set(ParamInputImageWidth, model.InputWidth)
	s.params.Set(ParamInputImageHeight, model.InputHeight)
	s.params.Set(ParamOutputImageWidth, model.OutputWidth)
	s.params.Set(ParamOutputImageHeight, model.OutputHeight)
	return modelTable{model}, nil
}

func (s *viewScreenConfigStage) Check(model *calibration.Model, frame *ndarray.Frame) error {
	return correction.CheckFrame(frame, model.InputWidth, model.InputHeight)
}

func (s *viewScreenConfigStage) Rebuild(ctx context.Context, model *calibration.Model, current Table) (Table, error) {
	return reuseModelTable(model, current), nil
}

func (s *viewScreenConfigStage) Apply(ctx context.Context, frame *ndarray.Frame, table Table) (*ndarray.Frame, error) {
	return s.pool.Copy(frame)
}
