package efficiency

import (
	"context"
	"strings"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/correction"
	"github.com/beamline/viewscreen/ndarray"
)

// LightDistributionOTR is the optical transition radiation light distribution. Its
// efficiency depends on beam energy, which the maps do not model yet.
const LightDistributionOTR = "otr"

// IrisWindow is the open interval of iris diameters, in mm, the maps are valid for.
type IrisWindow struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultIrisWindow is the iris range of the installed optics.
var DefaultIrisWindow = IrisWindow{Min: 5, Max: 50}

// Contains reports whether d lies strictly inside the window.
func (w IrisWindow) Contains(d float64) bool {
	return d > w.Min && d < w.Max
}

// Params are the inputs that select an efficiency table. A cached table is rebuilt whenever
// any of them changes.
type Params struct {
	IrisDiameter      float64
	BeamEnergy        float64
	Material          string
	LightDistribution string
}

// ParamsFor returns the parameters for the given target of model.
func ParamsFor(model *calibration.Model, target int, irisDiameter, beamEnergy float64) (Params, error) {
	info, err := model.Target(target)
	if err != nil {
		return Params{}, err
	}
	return Params{
		IrisDiameter:      irisDiameter,
		BeamEnergy:        beamEnergy,
		Material:          info.Material,
		LightDistribution: strings.ToLower(info.LightDistribution),
	}, nil
}

// Table is an efficiency correction table and the parameters it was built for.
type Table struct {
	*correction.Table
	Params Params
}

// Fits reports whether the table was built from model and params.
func (t *Table) Fits(model *calibration.Model, params Params) bool {
	return t != nil && t.Table.Fits(model) && t.Params == params
}

// BuildTable computes, for every output pixel, the ratio of the interpolated efficiency at
// the beamspace origin to the interpolated efficiency at the pixel. Pixels with zero
// efficiency get weight 0.
func BuildTable(ctx context.Context, model *calibration.Model, grid Grid, params Params) (*Table, error) {
	lower, upper, s, err := grid.Bracket(params.IrisDiameter)
	if err != nil {
		return nil, err
	}
	blend := func(x, y float64) float64 {
		y0 := lower.Interpolate(x, y)
		y1 := upper.Interpolate(x, y)
		return y0 + (y1-y0)*s
	}
	norm := blend(0, 0)
	table, err := correction.Build(ctx, model, model.OutputWidth, model.OutputHeight, func(u, v int) (float64, error) {
		p := model.OutputToBeam(float64(u), float64(v))
		eff := blend(p.X, p.Y)
		if eff == 0 {
			return 0, nil
		}
		return norm / eff, nil
	})
	if err != nil {
		return nil, err
	}
	return &Table{Table: table, Params: params}, nil
}

// Apply multiplies a float converted copy of frame by the table.
func Apply(pool *ndarray.Pool, frame *ndarray.Frame, table *Table) (*ndarray.Frame, error) {
	return correction.Multiply(pool, frame, table.Table)
}
