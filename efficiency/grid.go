package efficiency

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
)

// MapFileMarker selects efficiency map files within a map directory.
const MapFileMarker = "cform"

// Grid is a family of slices sorted by ascending iris diameter.
type Grid []*Slice

// NewGrid sorts slices into a Grid.
func NewGrid(slices ...*Slice) Grid {
	g := Grid(append([]*Slice(nil), slices...))
	sort.SliceStable(g, func(i, j int) bool { return g[i].IrisDiameter < g[j].IrisDiameter })
	return g
}

// Range returns the smallest and largest calibrated iris diameters.
func (g Grid) Range() (float64, float64) {
	if len(g) == 0 {
		return 0, 0
	}
	return g[0].IrisDiameter, g[len(g)-1].IrisDiameter
}

// Bracket returns the largest slice with a diameter not above d, the smallest slice with a
// diameter not below d, and the blend factor s between them (1 when both share a diameter).
func (g Grid) Bracket(d float64) (*Slice, *Slice, float64, error) {
	if len(g) == 0 {
		return nil, nil, 0, calibration.NewParameterInvalidError("efficiency grid has no slices")
	}
	var lower, upper *Slice
	for _, s := range g {
		if s.IrisDiameter <= d {
			lower = s
		}
		if s.IrisDiameter >= d && upper == nil {
			upper = s
		}
	}
	if lower == nil || upper == nil {
		minD, maxD := g.Range()
		return nil, nil, 0, calibration.NewInterpolationOutOfRangeError(
			"iris diameter %g outside calibrated range [%g, %g]", d, minD, maxD)
	}
	if lower.IrisDiameter == upper.IrisDiameter {
		return lower, upper, 1, nil
	}
	return lower, upper, (d - lower.IrisDiameter) / (upper.IrisDiameter - lower.IrisDiameter), nil
}

// Interpolate blends the bracketing slices for diameter d at beamspace (x, y).
func (g Grid) Interpolate(d, x, y float64) (float64, error) {
	lower, upper, s, err := g.Bracket(d)
	if err != nil {
		return 0, err
	}
	y0 := lower.Interpolate(x, y)
	y1 := upper.Interpolate(x, y)
	return y0 + (y1-y0)*s, nil
}

// LoadDirectory parses every map file in dir whose name contains MapFileMarker, in
// alphabetical order. Any unreadable or malformed file fails the whole directory.
func LoadDirectory(dir string, logger logging.Logger) (Grid, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, calibration.NewParameterInvalidError(fmt.Sprintf("unable to load efficiency map directory %q: %v", dir, err))
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && strings.Contains(e.Name(), MapFileMarker)
	})
	sort.Strings(names)
	if len(names) == 0 {
		return nil, calibration.NewParameterInvalidError(fmt.Sprintf("no efficiency maps in %q", dir))
	}

	slices := make([]*Slice, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		slice, err := loadSliceFile(path)
		if err != nil {
			logger.Errorw("unable to load efficiency map", "directory", dir, "file", name, "error", err)
			return nil, errors.Wrapf(err, "efficiency map %s", path)
		}
		slice.Name = name
		slices = append(slices, slice)
	}
	grid := NewGrid(slices...)
	minD, maxD := grid.Range()
	logger.Debugw("loaded efficiency maps", "directory", dir, "slices", len(grid), "iris_min", minD, "iris_max", maxD)
	return grid, nil
}

func loadSliceFile(path string) (*Slice, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, calibration.NewDocumentMissingError(path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return ParseSlice(f)
}
