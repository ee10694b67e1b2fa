package efficiency

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/ndarray"
)

// sampleData is a 3x3 map sampled at x = 0, 1, 2 (columns) and y = 2, 1, 0 (rows).
var sampleData = [][]float64{
	{1, 2, 0},
	{4, 5, 6},
	{8, 8, 10},
}

func sliceText(iris, scale float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# efficiency map\n")
	fmt.Fprintf(&sb, "IrisDiameter %g\n", iris)
	fmt.Fprintf(&sb, "Material YAG\n")
	fmt.Fprintf(&sb, "ROIWidthStride 1\nROIHeightStride 1\n")
	fmt.Fprintf(&sb, "ROIWidthNSamples 3\nROIHeightNSamples 3\n")
	fmt.Fprintf(&sb, "ROIXCoordinates 0 1\n2\n")
	fmt.Fprintf(&sb, "ROIYCoordinates 2 1 0\n")
	fmt.Fprintf(&sb, "Data follows\n")
	for _, row := range sampleData {
		for _, v := range row {
			fmt.Fprintf(&sb, "%g ", v*scale)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// sampleModel maps output pixel (u, v) onto slice sample (u, v).
func sampleModel() *calibration.Model {
	return &calibration.Model{
		Geometry:     calibration.GeometryEMBT,
		OutputWidth:  3,
		OutputHeight: 3,
		XStart:       -0.5,
		XEnd:         2.5,
		YStart:       -0.5,
		YEnd:         2.5,
		InputWidth:   3,
		InputHeight:  3,
		Order:        1,
		GU:           calibration.Polynomial{0.5, 0, 1, 0},
		GV:           calibration.Polynomial{2.5, -1, 0, 0},
		FX:           calibration.Polynomial{-0.5, 0, 1, 0},
		FY:           calibration.Polynomial{2.5, -1, 0, 0},
		Targets: [calibration.MaxTargets]*calibration.TargetInfo{
			{Material: "YAG", LightDistribution: "Lambertian"},
			nil,
			{Material: "Al", LightDistribution: "OTR"},
		},
	}
}

func writeMapDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		test.That(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600), test.ShouldBeNil)
	}
	return dir
}

func TestParseSlice(t *testing.T) {
	slice, err := ParseSlice(strings.NewReader(sliceText(10, 1)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, slice.IrisDiameter, test.ShouldEqual, 10.0)
	test.That(t, slice.XCoords, test.ShouldResemble, []float64{0, 1, 2})
	test.That(t, slice.YCoords, test.ShouldResemble, []float64{2, 1, 0})
	test.That(t, slice.XStart, test.ShouldEqual, 0.0)
	test.That(t, slice.YEnd, test.ShouldEqual, 2.0)
	test.That(t, slice.Rows(), test.ShouldEqual, 3)
	test.That(t, slice.Cols(), test.ShouldEqual, 3)
	test.That(t, slice.Data, test.ShouldResemble, sampleData)
}

func TestParseSliceErrors(t *testing.T) {
	valid := sliceText(10, 1)
	for _, tc := range []struct {
		name string
		text string
	}{
		{"missing iris", strings.Replace(valid, "IrisDiameter 10\n", "", 1)},
		{"missing stride", strings.Replace(valid, "ROIHeightStride 1\n", "", 1)},
		{"missing samples", strings.Replace(valid, "ROIWidthNSamples 3\n", "", 1)},
		{"empty x coordinates", strings.Replace(valid, "ROIXCoordinates 0 1\n2\n", "ROIXCoordinates\n", 1)},
		{"bad sample count", strings.Replace(valid, "ROIWidthNSamples 3", "ROIWidthNSamples x", 1)},
		{"zero samples", strings.Replace(valid, "ROIHeightNSamples 3", "ROIHeightNSamples 0", 1)},
		{"no data block", valid[:strings.Index(valid, "Data")]},
		{"short data", strings.TrimSuffix(valid, "8 8 10 \n")},
		{"bad data", strings.Replace(valid, "4 5 6", "4 five 6", 1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSlice(strings.NewReader(tc.text))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)
		})
	}
}

func TestInterpolate(t *testing.T) {
	slice, err := ParseSlice(strings.NewReader(sliceText(10, 1)))
	test.That(t, err, test.ShouldBeNil)

	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			x, y := slice.SamplePoint(col, row)
			test.That(t, slice.Interpolate(x, y), test.ShouldEqual, sampleData[row][col])
		}
	}
	// center of the top left cell
	test.That(t, slice.Interpolate(0.5, 1.5), test.ShouldAlmostEqual, (1+2+4+5)/4.0)
	// halfway along the bottom edge
	test.That(t, slice.Interpolate(1.5, 0), test.ShouldAlmostEqual, 9.0)
	test.That(t, slice.Interpolate(-0.1, 1), test.ShouldEqual, 0.0)
	test.That(t, slice.Interpolate(1, 2.1), test.ShouldEqual, 0.0)
	test.That(t, slice.Interpolate(2.1, 1), test.ShouldEqual, 0.0)
	test.That(t, slice.Interpolate(1, -0.1), test.ShouldEqual, 0.0)
}

func TestLoadDirectoryAndBracket(t *testing.T) {
	dir := writeMapDir(t, map[string]string{
		"b_cform_20.txt": sliceText(20, 2),
		"a_cform_10.txt": sliceText(10, 1),
		"notes.txt":      "not a map",
	})
	grid, err := LoadDirectory(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(grid), test.ShouldEqual, 2)
	test.That(t, grid[0].Name, test.ShouldEqual, "a_cform_10.txt")
	minD, maxD := grid.Range()
	test.That(t, minD, test.ShouldEqual, 10.0)
	test.That(t, maxD, test.ShouldEqual, 20.0)

	for _, d := range []float64{10, 20} {
		lower, upper, s, err := grid.Bracket(d)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, lower, test.ShouldEqual, upper)
		test.That(t, lower.IrisDiameter, test.ShouldEqual, d)
		test.That(t, s, test.ShouldEqual, 1.0)
	}

	lower, upper, s, err := grid.Bracket(12.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lower.IrisDiameter, test.ShouldEqual, 10.0)
	test.That(t, upper.IrisDiameter, test.ShouldEqual, 20.0)
	test.That(t, s, test.ShouldAlmostEqual, 0.25)

	v, err := grid.Interpolate(12.5, 1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 5*1.25)

	for _, d := range []float64{9.9, 20.1} {
		_, _, _, err = grid.Bracket(d)
		test.That(t, errors.Is(err, calibration.ErrInterpolationOutOfRange), test.ShouldBeTrue)
	}
}

func TestLoadDirectoryErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := LoadDirectory(filepath.Join(t.TempDir(), "missing"), logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)

	_, err = LoadDirectory(writeMapDir(t, map[string]string{"readme": "x"}), logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)

	_, err = LoadDirectory(writeMapDir(t, map[string]string{
		"a_cform": sliceText(10, 1),
		"b_cform": "IrisDiameter 12\n",
	}), logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)
}

func TestBuildTableAtSlice(t *testing.T) {
	dir := writeMapDir(t, map[string]string{
		"a_cform": sliceText(10, 1),
		"b_cform": sliceText(20, 2),
	})
	grid, err := LoadDirectory(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	model := sampleModel()
	params, err := ParamsFor(model, 0, 10, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.LightDistribution, test.ShouldEqual, "lambertian")

	table, err := BuildTable(context.Background(), model, grid, params)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Fits(model, params), test.ShouldBeTrue)
	other := params
	other.IrisDiameter = 11
	test.That(t, table.Fits(model, other), test.ShouldBeFalse)

	// the beamspace origin is sample (0, 2)
	norm := sampleData[2][0]
	for v := 0; v < 3; v++ {
		for u := 0; u < 3; u++ {
			if sampleData[v][u] == 0 {
				test.That(t, table.At(u, v), test.ShouldEqual, 0.0)
				continue
			}
			test.That(t, table.At(u, v), test.ShouldAlmostEqual, norm/sampleData[v][u])
		}
	}

	// scaling every slice leaves the normalized table unchanged
	blended, err := BuildTable(context.Background(), model, grid, Params{IrisDiameter: 15})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, blended.At(1, 1), test.ShouldAlmostEqual, table.At(1, 1))

	_, err = BuildTable(context.Background(), model, grid, Params{IrisDiameter: 30})
	test.That(t, errors.Is(err, calibration.ErrInterpolationOutOfRange), test.ShouldBeTrue)

	pool := ndarray.NewPool()
	in, err := ndarray.New(3, 3, []uint16{8, 8, 8, 8, 8, 8, 8, 8, 8})
	test.That(t, err, test.ShouldBeNil)
	out, err := Apply(pool, in, table)
	test.That(t, err, test.ShouldBeNil)
	pixels := out.Data.([]float32)
	test.That(t, pixels[0], test.ShouldAlmostEqual, float32(64))
	test.That(t, pixels[2], test.ShouldEqual, float32(0))
	test.That(t, pixels[8], test.ShouldAlmostEqual, 6.4, 1e-5)
	out.Release()
	test.That(t, pool.Outstanding(), test.ShouldEqual, 0)
}

func TestLoadTargetGrids(t *testing.T) {
	model := sampleModel()
	paths := calibration.NewRepositoryPaths(t.TempDir())

	logger, logs := logging.NewObservedTestLogger(t)
	_, err := LoadTargetGrids(model, paths, logger)
	test.That(t, errors.Is(err, calibration.ErrUnconfigured), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("skipping target").Len(), test.ShouldEqual, 2)

	paths.RegisterMapDir(calibration.GeometryEMBT, "lambertian", writeMapDir(t, map[string]string{
		"a_cform": sliceText(10, 1),
		"b_cform": sliceText(20, 2),
	}))
	grids, err := LoadTargetGrids(model, paths, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grids.Count(), test.ShouldEqual, 1)
	test.That(t, len(grids[GridKey{Material: "YAG", LightDistribution: "lambertian"}]), test.ShouldEqual, 2)

	_, _, err = Preconditions(model, grids, 0, 50, 0, DefaultIrisWindow, logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)
	_, _, err = Preconditions(model, grids, 3, 12, 0, DefaultIrisWindow, logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)
	_, _, err = Preconditions(model, grids, 1, 12, 0, DefaultIrisWindow, logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)
	_, _, err = Preconditions(model, grids, 2, 12, 0, DefaultIrisWindow, logger)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)

	grid, params, err := Preconditions(model, grids, 0, 12, 3, DefaultIrisWindow, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(grid), test.ShouldEqual, 2)
	test.That(t, params, test.ShouldResemble, Params{IrisDiameter: 12, BeamEnergy: 3, Material: "YAG", LightDistribution: "lambertian"})

	paths.RegisterMapDir(calibration.GeometryEMBT, "otr", writeMapDir(t, map[string]string{"x_cform": sliceText(10, 1)}))
	grids, err = LoadTargetGrids(model, paths, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grids.Count(), test.ShouldEqual, 2)
	_, params, err = Preconditions(model, grids, 2, 10, 0, DefaultIrisWindow, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.LightDistribution, test.ShouldEqual, LightDistributionOTR)
	test.That(t, logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage(
		"beam energy is not accounted for in otr efficiency maps").Len(), test.ShouldEqual, 1)
}

func TestTargetsShareGridByMaterialAndLight(t *testing.T) {
	model := sampleModel()
	model.Targets[1] = &calibration.TargetInfo{Material: "YAG", LightDistribution: "LAMBERTIAN"}
	paths := calibration.NewRepositoryPaths(t.TempDir())
	paths.RegisterMapDir(calibration.GeometryEMBT, "lambertian", writeMapDir(t, map[string]string{
		"a_cform": sliceText(10, 1),
		"b_cform": sliceText(20, 2),
	}))

	logger, logs := logging.NewObservedTestLogger(t)
	grids, err := LoadTargetGrids(model, paths, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grids.Count(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("loaded efficiency maps").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("skipping target").Len(), test.ShouldEqual, 1)

	first, _, err := Preconditions(model, grids, 0, 12, 0, DefaultIrisWindow, logger)
	test.That(t, err, test.ShouldBeNil)
	second, params, err := Preconditions(model, grids, 1, 12, 0, DefaultIrisWindow, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second[0], test.ShouldEqual, first[0])
	test.That(t, params.LightDistribution, test.ShouldEqual, "lambertian")

	_, err = grids.Grid(model, 2)
	test.That(t, errors.Is(err, calibration.ErrConfigParameterInvalid), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Al/otr")
}
