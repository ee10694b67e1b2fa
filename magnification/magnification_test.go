package magnification

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/floats"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/ndarray"
)

func identityModel(n int) *calibration.Model {
	size := float64(n)
	return &calibration.Model{
		Geometry:     calibration.GeometryELBT,
		OutputWidth:  n,
		OutputHeight: n,
		XStart:       0,
		XEnd:         size,
		YStart:       0,
		YEnd:         size,
		InputWidth:   n,
		InputHeight:  n,
		Order:        1,
		GU:           calibration.Polynomial{-0.5, 0, 1, 0},
		GV:           calibration.Polynomial{size - 0.5, -1, 0, 0},
		FX:           calibration.Polynomial{0.5, 0, 1, 0},
		FY:           calibration.Polynomial{size - 0.5, -1, 0, 0},
	}
}

func TestIdentityTableIsUniform(t *testing.T) {
	model := identityModel(4)
	table, err := BuildTable(context.Background(), model)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Width(), test.ShouldEqual, 4)
	test.That(t, table.Height(), test.ShouldEqual, 4)
	test.That(t, table.Fits(model), test.ShouldBeTrue)
	test.That(t, table.Fits(identityModel(4)), test.ShouldBeFalse)

	ones := make([]float64, 16)
	floats.AddConst(1, ones)
	test.That(t, floats.EqualApprox(table.Values.RawMatrix().Data, ones, 1e-12), test.ShouldBeTrue)

	pool := ndarray.NewPool()
	in, err := pool.Alloc([]int{4, 4}, ndarray.UInt8)
	test.That(t, err, test.ShouldBeNil)
	for i := range in.Data.([]uint8) {
		in.Data.([]uint8)[i] = 10
	}
	out, err := Apply(pool, in, table)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.DataType, test.ShouldEqual, ndarray.Float32)
	for _, px := range out.Data.([]float32) {
		test.That(t, px, test.ShouldEqual, float32(10))
	}
	// input untouched
	test.That(t, in.Data.([]uint8)[0], test.ShouldEqual, uint8(10))
	in.Release()
	out.Release()
	test.That(t, pool.Outstanding(), test.ShouldEqual, 0)
}

func TestCenterNormalized(t *testing.T) {
	model := identityModel(5)
	model.Order = 2
	// camera u = x + 0.1 x^2 stretches the right side of the image
	model.GU = calibration.Polynomial{0, 0, 0, 1, 0, 0, 0.1, 0, 0}
	model.GV = calibration.Polynomial{4.5, -1, 0, 0, 0, 0, 0, 0, 0}
	model.FX = make(calibration.Polynomial, 9)
	model.FY = make(calibration.Polynomial, 9)

	table, err := BuildTable(context.Background(), model)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.At(2, 2), test.ShouldAlmostEqual, 1.0)
	test.That(t, table.At(4, 2), test.ShouldBeGreaterThan, table.At(3, 2))
	test.That(t, table.At(0, 2), test.ShouldBeLessThan, 1.0)
	// the stretch does not depend on v
	test.That(t, table.At(4, 0), test.ShouldAlmostEqual, table.At(4, 4))
}

func TestApplySizeMismatch(t *testing.T) {
	table, err := BuildTable(context.Background(), identityModel(4))
	test.That(t, err, test.ShouldBeNil)
	frame, err := ndarray.New(3, 3, make([]float32, 9))
	test.That(t, err, test.ShouldBeNil)
	_, err = Apply(ndarray.NewPool(), frame, table)
	test.That(t, errors.Is(err, calibration.ErrFrameShapeMismatch), test.ShouldBeTrue)
}

func TestDegenerateMapping(t *testing.T) {
	model := identityModel(4)
	model.GU = calibration.Polynomial{1, 0, 0, 0}
	_, err := BuildTable(context.Background(), model)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)
}
