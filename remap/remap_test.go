package remap

import (
	"context"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/ndarray"
)

// model builds an order 1 calibration with output n x n over beamspace [0,n]x[0,n] and
// camera coordinates u = su*x + ou, v = sv*(n - y) + ov.
func model(n, inW, inH int, su, ou, sv, ov float64) *calibration.Model {
	size := float64(n)
	return &calibration.Model{
		Geometry:     calibration.GeometryEMBT,
		OutputWidth:  n,
		OutputHeight: n,
		XEnd:         size,
		YEnd:         size,
		InputWidth:   inW,
		InputHeight:  inH,
		Order:        1,
		GU:           calibration.Polynomial{ou, 0, su, 0},
		GV:           calibration.Polynomial{sv*size + ov, -sv, 0, 0},
		FX:           calibration.Polynomial{0, 0, 1, 0},
		FY:           calibration.Polynomial{0, 1, 0, 0},
	}
}

func identity(n int) *calibration.Model {
	return model(n, n, n, 1, -0.5, 1, -0.5)
}

func TestIdentityTable(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	m := identity(4)
	table, err := BuildTable(context.Background(), m, DefaultCapacity, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Fits(m), test.ShouldBeTrue)
	test.That(t, table.Overflows, test.ShouldEqual, 0)
	test.That(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), test.ShouldEqual, 0)

	for v := 0; v < 4; v++ {
		for u := 0; u < 4; u++ {
			entry := table.Entry(u, v)
			if diff := cmp.Diff([]Contribution{{Index: v*4 + u, Weight: 1}}, entry); diff != "" {
				t.Fatalf("entry (%d,%d) mismatch (-want +got):\n%s", u, v, diff)
			}
		}
	}

	pool := ndarray.NewPool()
	in, err := pool.Alloc([]int{4, 4}, ndarray.UInt16)
	test.That(t, err, test.ShouldBeNil)
	for i := range in.Data.([]uint16) {
		in.Data.([]uint16)[i] = uint16(100 + i)
	}
	out, err := ApplyFrame(pool, in, table)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.DataType, test.ShouldEqual, ndarray.Float32)
	for i, px := range out.Data.([]float32) {
		test.That(t, px, test.ShouldEqual, float32(100+i))
	}
	in.Release()
	out.Release()
	test.That(t, pool.Outstanding(), test.ShouldEqual, 0)
}

func TestCornerOffsetsArePermutation(t *testing.T) {
	for _, m := range []*calibration.Model{identity(4), model(4, 8, 8, -1, 3.5, -1, 3.5), model(5, 20, 20, 2, 0, -3, 10)} {
		offsets := CornerOffsets(m)
		seen := map[r2.Point]bool{}
		for _, off := range offsets {
			seen[off] = true
		}
		test.That(t, len(seen), test.ShouldEqual, 4)
	}
}

func TestHalfPixelShift(t *testing.T) {
	// output pixel u covers camera [u, u+1]
	m := model(4, 4, 4, 1, 0, 1, -0.5)
	table, err := BuildTable(context.Background(), m, DefaultCapacity, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	entry := table.Entry(1, 2)
	test.That(t, len(entry), test.ShouldEqual, 2)
	test.That(t, entry[0].Index, test.ShouldEqual, 2*4+1)
	test.That(t, entry[0].Weight, test.ShouldAlmostEqual, 0.5)
	test.That(t, entry[1].Index, test.ShouldEqual, 2*4+2)
	test.That(t, entry[1].Weight, test.ShouldAlmostEqual, 0.5)

	// the last column hangs half outside the camera; the inside part gets full weight
	last := table.Entry(3, 0)
	test.That(t, len(last), test.ShouldEqual, 1)
	test.That(t, last[0].Index, test.ShouldEqual, 3)
	test.That(t, last[0].Weight, test.ShouldAlmostEqual, 1.0)

	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i % 4)
	}
	out := make([]float32, 16)
	Apply(vals, table, out)
	test.That(t, out[2*4+1], test.ShouldAlmostEqual, 1.5)
	test.That(t, out[3], test.ShouldAlmostEqual, 3.0)
}

func TestOverflowKeepsLargestContributions(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	// output pixel (0,0) covers camera x in [-0.25, 2.75], y in [-0.5, 2.5]
	m := model(2, 6, 6, 3, -0.25, 3, -0.5)
	table, err := BuildTable(context.Background(), m, 6, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Overflows, test.ShouldBeGreaterThanOrEqualTo, 6)

	entry := table.Entry(0, 0)
	test.That(t, len(entry), test.ShouldEqual, 6)
	for _, c := range entry {
		test.That(t, c.Weight, test.ShouldAlmostEqual, 1.0/9)
		test.That(t, c.Index%6, test.ShouldBeIn, 1, 2)
	}
	test.That(t, logs.FilterMessage("remap table overflow, replacing contribution").Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, logs.FilterMessage("remap table overflow, dropping contribution").Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, logs.FilterMessage("remap table built with overflowing entries").Len(), test.ShouldEqual, 1)
}

func TestFootprintOutsideCamera(t *testing.T) {
	m := model(2, 4, 4, 1, -100, 1, -0.5)
	table, err := BuildTable(context.Background(), m, DefaultCapacity, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	for _, entry := range table.Entries {
		test.That(t, len(entry), test.ShouldEqual, 1)
		test.That(t, entry[0].Weight, test.ShouldEqual, 0.0)
	}
}

func TestFootprintBeyondCameraEdge(t *testing.T) {
	m := model(2, 4, 4, 1, -0.5, 1, 100)
	table, err := BuildTable(context.Background(), m, DefaultCapacity, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	for _, entry := range table.Entries {
		test.That(t, len(entry), test.ShouldEqual, 1)
		test.That(t, entry[0].Weight, test.ShouldEqual, 0.0)
		test.That(t, entry[0].Index, test.ShouldBeBetweenOrEqual, 0, 15)
	}

	pool := ndarray.NewPool()
	in, err := pool.Alloc([]int{4, 4}, ndarray.UInt16)
	test.That(t, err, test.ShouldBeNil)
	out, err := ApplyFrame(pool, in, table)
	test.That(t, err, test.ShouldBeNil)
	for _, px := range out.Data.([]float32) {
		test.That(t, px, test.ShouldEqual, float32(0))
	}
	in.Release()
	out.Release()
	test.That(t, pool.Outstanding(), test.ShouldEqual, 0)

	// a zero weight never reads its index
	Apply([]uint16{7}, &Table{Entries: [][]Contribution{{{Index: 400}}}}, make([]float32, 1))
}

func TestBuildAndApplyErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := BuildTable(context.Background(), identity(4), 0, logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)

	table, err := BuildTable(context.Background(), identity(4), DefaultCapacity, logger)
	test.That(t, err, test.ShouldBeNil)
	frame, err := ndarray.New(5, 4, make([]uint8, 20))
	test.That(t, err, test.ShouldBeNil)
	_, err = ApplyFrame(ndarray.NewPool(), frame, table)
	test.That(t, errors.Is(err, calibration.ErrFrameShapeMismatch), test.ShouldBeTrue)
}
