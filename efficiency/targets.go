package efficiency

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
)

// GridKey identifies an efficiency grid by screen material and lowercased light distribution.
type GridKey struct {
	Material          string
	LightDistribution string
}

// KeyFor returns the grid key of a target.
func KeyFor(info *calibration.TargetInfo) GridKey {
	return GridKey{Material: info.Material, LightDistribution: strings.ToLower(info.LightDistribution)}
}

func (k GridKey) String() string {
	return k.Material + "/" + k.LightDistribution
}

// TargetGrids holds one efficiency grid per material and light distribution. Target slots
// sharing a key share the grid.
type TargetGrids map[GridKey]Grid

// Grid returns the grid for a target slot of model.
func (g TargetGrids) Grid(model *calibration.Model, target int) (Grid, error) {
	info, err := model.Target(target)
	if err != nil {
		return nil, err
	}
	grid := g[KeyFor(&info)]
	if len(grid) == 0 {
		return nil, calibration.NewParameterInvalidError(fmt.Sprintf("target %d (%s) has no efficiency grid", target, KeyFor(&info)))
	}
	return grid, nil
}

// Count returns the number of distinct grids loaded.
func (g TargetGrids) Count() int {
	return len(g)
}

// LoadTargetGrids loads the efficiency maps of every target defined in model from the map
// directory registered for its geometry and light distribution. Each key is loaded once.
// Keys that cannot be loaded are logged and left out; loading fails only when none succeeds.
func LoadTargetGrids(model *calibration.Model, paths *calibration.RepositoryPaths, logger logging.Logger) (TargetGrids, error) {
	grids := TargetGrids{}
	tried := map[GridKey]bool{}
	var errs error
	for n, info := range model.Targets {
		if info == nil {
			continue
		}
		key := KeyFor(info)
		if tried[key] {
			continue
		}
		tried[key] = true
		dir, ok := paths.MapDir(model.Geometry, info.LightDistribution)
		if !ok {
			err := calibration.NewParameterInvalidError(fmt.Sprintf(
				"no efficiency map directory for geometry %s and light distribution %s", model.Geometry, info.LightDistribution))
			logger.Warnw("skipping target", "target", n, "grid", key.String(), "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		grid, err := LoadDirectory(dir, logger)
		if err != nil {
			logger.Warnw("skipping target", "target", n, "grid", key.String(), "directory", dir, "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		grids[key] = grid
	}
	if grids.Count() == 0 {
		if errs == nil {
			return grids, calibration.NewUnconfiguredError("calibration defines no targets")
		}
		return grids, calibration.NewUnconfiguredError(fmt.Sprintf("no target has a usable efficiency grid: %v", errs))
	}
	return grids, nil
}

// Preconditions checks that a correction can be computed for target at irisDiameter and
// returns the table parameters.
func Preconditions(
	model *calibration.Model,
	grids TargetGrids,
	target int,
	irisDiameter, beamEnergy float64,
	window IrisWindow,
	logger logging.Logger,
) (Grid, Params, error) {
	if !window.Contains(irisDiameter) {
		return nil, Params{}, calibration.NewParameterInvalidError(fmt.Sprintf(
			"iris diameter %g outside (%g, %g)", irisDiameter, window.Min, window.Max))
	}
	params, err := ParamsFor(model, target, irisDiameter, beamEnergy)
	if err != nil {
		return nil, Params{}, err
	}
	grid, err := grids.Grid(model, target)
	if err != nil {
		return nil, Params{}, err
	}
	if params.LightDistribution == LightDistributionOTR {
		logger.Warnw("beam energy is not accounted for in otr efficiency maps", "target", target, "beam_energy", beamEnergy)
	}
	return grid, params, nil
}
