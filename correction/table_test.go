package correction

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/multierr"
	"go.viam.com/test"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/ndarray"
)

func TestBuildRowMajor(t *testing.T) {
	model := &calibration.Model{OutputWidth: 3, OutputHeight: 2}
	table, err := Build(context.Background(), model, 3, 2, func(u, v int) (float64, error) {
		return float64(10*v + u), nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Width(), test.ShouldEqual, 3)
	test.That(t, table.Height(), test.ShouldEqual, 2)
	test.That(t, table.At(2, 1), test.ShouldEqual, 12.0)
	test.That(t, table.At(1, 0), test.ShouldEqual, 1.0)
	test.That(t, table.Fits(model), test.ShouldBeTrue)
	test.That(t, table.Fits(&calibration.Model{OutputWidth: 3, OutputHeight: 2}), test.ShouldBeFalse)

	var empty *Table
	test.That(t, empty.Empty(), test.ShouldBeTrue)

	_, err = Build(context.Background(), model, 0, 2, nil)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)

	boom := errors.New("boom")
	_, err = Build(context.Background(), model, 3, 2, func(u, v int) (float64, error) {
		if v == 1 {
			return 0, boom
		}
		return 1, nil
	})
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
}

func TestMultiply(t *testing.T) {
	model := &calibration.Model{OutputWidth: 2, OutputHeight: 2}
	table, err := Build(context.Background(), model, 2, 2, func(u, v int) (float64, error) {
		return float64(u + 2*v + 1), nil
	})
	test.That(t, err, test.ShouldBeNil)

	pool := ndarray.NewPool()
	frame, err := ndarray.New[uint16](2, 2, []uint16{10, 10, 10, 10})
	test.That(t, err, test.ShouldBeNil)

	out, err := Multiply(pool, frame, table)
	test.That(t, err, test.ShouldBeNil)
	vals, err := ndarray.Values[float32](out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vals, test.ShouldResemble, []float32{10, 20, 30, 40})
	in, err := ndarray.Values[uint16](frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in, test.ShouldResemble, []uint16{10, 10, 10, 10})
	out.Release()
	test.That(t, pool.Outstanding(), test.ShouldEqual, 0)

	small, err := ndarray.New[uint16](1, 1, []uint16{1})
	test.That(t, err, test.ShouldBeNil)
	_, err = Multiply(pool, small, table)
	test.That(t, errors.Is(err, calibration.ErrFrameShapeMismatch), test.ShouldBeTrue)
}

func TestCheckFrameReportsEveryFailure(t *testing.T) {
	frame, err := ndarray.New[uint8](2, 2, []uint8{1, 2, 3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, CheckFrame(frame, 2, 2), test.ShouldBeNil)

	frame.ColorMode = ndarray.ColorModeRGB1
	err = CheckFrame(frame, 3, 3)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 2)
	test.That(t, errors.Is(err, calibration.ErrFrameShapeMismatch), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "monochrome")
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected a 3x3 array")
}
