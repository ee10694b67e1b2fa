// Package correction holds the dense per-pixel correction tables shared by the magnification
// and efficiency corrections, and the frame checks every calibrated stage performs.
package correction

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/ndarray"
	"github.com/beamline/viewscreen/utils"
)

// Table is an immutable width x height table of multiplicative weights, stored row major
// (row v, column u). A rebuild produces a new Table; a published Table is never written.
type Table struct {
	// Model is the calibration the table was built from.
	Model  *calibration.Model
	Values *mat.Dense
}

// Width returns the number of columns, or 0 for an empty table.
func (t *Table) Width() int {
	if t == nil || t.Values == nil {
		return 0
	}
	_, c := t.Values.Dims()
	return c
}

// Height returns the number of rows, or 0 for an empty table.
func (t *Table) Height() int {
	if t == nil || t.Values == nil {
		return 0
	}
	r, _ := t.Values.Dims()
	return r
}

// Empty reports whether the table holds no weights.
func (t *Table) Empty() bool {
	return t.Width() == 0 || t.Height() == 0
}

// At returns the weight for pixel (u, v).
func (t *Table) At(u, v int) float64 {
	return t.Values.At(v, u)
}

// Fits reports whether the table was built from model and matches its output size.
func (t *Table) Fits(model *calibration.Model) bool {
	return !t.Empty() && t.Model == model &&
		t.Width() == model.OutputWidth && t.Height() == model.OutputHeight
}

// WeightFunc returns the weight for output pixel (u, v).
type WeightFunc func(u, v int) (float64, error)

// Build evaluates f for every pixel of a width x height table, one row per work item.
func Build(ctx context.Context, model *calibration.Model, width, height int, f WeightFunc) (*Table, error) {
	if width <= 0 || height <= 0 {
		return nil, calibration.NewParameterInvalidError("correction table must have a positive size")
	}
	values := make([]float64, width*height)
	err := utils.ParallelForEachRow(ctx, height, func(v int) error {
		row := values[v*width : (v+1)*width]
		for u := range row {
			w, err := f(u, v)
			if err != nil {
				return err
			}
			row[u] = w
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Table{Model: model, Values: mat.NewDense(height, width, values)}, nil
}

// Multiply returns a Float32 copy of frame with every pixel multiplied by its table weight.
// The input frame is not modified.
func Multiply(pool *ndarray.Pool, frame *ndarray.Frame, table *Table) (*ndarray.Frame, error) {
	if frame.Width() != table.Width() || frame.Height() != table.Height() {
		return nil, calibration.NewFrameShapeMismatchError("correction table is %dx%d, frame is %dx%d",
			table.Width(), table.Height(), frame.Width(), frame.Height())
	}
	var out *ndarray.Frame
	var err error
	if frame.DataType == ndarray.Float32 {
		out, err = pool.Copy(frame)
	} else {
		out, err = pool.Convert(frame, ndarray.Float32)
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot convert frame to float32")
	}
	pixels := out.Data.([]float32)
	weights := table.Values.RawMatrix()
	width := frame.Width()
	for v := 0; v < frame.Height(); v++ {
		row := weights.Data[v*weights.Stride : v*weights.Stride+width]
		for u, w := range row {
			pixels[v*width+u] *= float32(w)
		}
	}
	return out, nil
}

// CheckFrame verifies that a frame is a 2-D monochrome array of the given size. Every failed
// condition is reported.
func CheckFrame(frame *ndarray.Frame, width, height int) error {
	var errs error
	if frame.NDims() != 2 {
		errs = multierr.Append(errs, calibration.NewFrameShapeMismatchError(
			"processing restricted to two-dimensional arrays, got %d dimensions", frame.NDims()))
	}
	if frame.ColorMode != ndarray.ColorModeMono {
		errs = multierr.Append(errs, calibration.NewFrameShapeMismatchError("processing restricted to monochrome arrays"))
	}
	if frame.Width() != width || frame.Height() != height {
		errs = multierr.Append(errs, calibration.NewFrameShapeMismatchError(
			"expected a %dx%d array, got %dx%d", width, height, frame.Width(), frame.Height()))
	}
	return errs
}
