// Package magnification builds the per-pixel magnification correction table.
package magnification

import (
	"context"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/correction"
	"github.com/beamline/viewscreen/ndarray"
)

// BuildTable returns the ratio of each output pixel's camera footprint to the footprint of
// the output image center. The center weight is 1.
func BuildTable(ctx context.Context, model *calibration.Model) (*correction.Table, error) {
	center := model.OutputCenter()
	ref := model.PixelFootprintArea(center.X, center.Y)
	if ref == 0 {
		return nil, calibration.NewParameterInvalidError("output image center has no footprint in the camera")
	}
	return correction.Build(ctx, model, model.OutputWidth, model.OutputHeight, func(u, v int) (float64, error) {
		return model.PixelFootprintArea(float64(u), float64(v)) / ref, nil
	})
}

// Apply multiplies a float converted copy of frame by the table.
func Apply(pool *ndarray.Pool, frame *ndarray.Frame, table *correction.Table) (*ndarray.Frame, error) {
	return correction.Multiply(pool, frame, table)
}
