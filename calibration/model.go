// Package calibration holds the viewscreen calibration model, the coordinate mapping between
// camera pixels, beamspace and the rectified output image, and the calibration document
// loader.
package calibration

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Camera sensor extent in pixels.
const (
	DefaultInputWidth  = 780
	DefaultInputHeight = 580
)

// MaxTargets is the number of target slots on a viewscreen.
const MaxTargets = 3

// Geometry identifies a viewscreen chamber geometry.
type Geometry string

// Known chamber geometries.
const (
	GeometryELBT Geometry = "elbt"
	GeometryEMBT Geometry = "embt"
	GeometryEHBT Geometry = "ehbt"
)

// Geometries lists every supported geometry.
var Geometries = []Geometry{GeometryELBT, GeometryEMBT, GeometryEHBT}

// ParseGeometry validates a geometry name.
func ParseGeometry(s string) (Geometry, error) {
	g := Geometry(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Geometries {
		if g == known {
			return g, nil
		}
	}
	return "", NewDocumentMalformedError(fmt.Sprintf("unsupported geometry %q", s))
}

// TargetInfo describes the screen material mounted in one target slot.
type TargetInfo struct {
	Material          string `json:"material"`
	LightDistribution string `json:"light_distribution"`
}

// Orientation describes how the sensor is mounted. Each component is -1, 0 or 1.
type Orientation struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Model is an immutable snapshot of a loaded calibration. It is replaced wholesale on
// reconfiguration and must not be mutated once published to a Mapper.
type Model struct {
	Geometry Geometry

	// Output (beamspace rectified) image size in pixels.
	OutputWidth  int
	OutputHeight int

	// Beamspace bounds mapped onto the output image corners.
	XStart, XEnd float64
	YStart, YEnd float64

	// Camera sensor size in pixels.
	InputWidth  int
	InputHeight int

	Order  int
	FX, FY Polynomial
	GU, GV Polynomial

	Targets     [MaxTargets]*TargetInfo
	Orientation Orientation

	// Source is the document the model was loaded from, if any.
	Source string
}

// Validate checks the model for values that would make the mapping meaningless.
func (m *Model) Validate() error {
	var errs error
	if _, err := ParseGeometry(string(m.Geometry)); err != nil {
		errs = multierr.Append(errs, err)
	}
	if m.OutputWidth <= 0 || m.OutputHeight <= 0 {
		errs = multierr.Append(errs, NewParameterInvalidError(
			fmt.Sprintf("output image size must be positive, got %dx%d", m.OutputWidth, m.OutputHeight)))
	}
	if m.InputWidth <= 0 || m.InputHeight <= 0 {
		errs = multierr.Append(errs, NewParameterInvalidError(
			fmt.Sprintf("input image size must be positive, got %dx%d", m.InputWidth, m.InputHeight)))
	}
	if m.XEnd == m.XStart || m.YEnd == m.YStart {
		errs = multierr.Append(errs, NewParameterInvalidError("beamspace extent is empty"))
	}
	if m.Order < 0 {
		errs = multierr.Append(errs, NewParameterInvalidError(fmt.Sprintf("mapping order %d is negative", m.Order)))
	} else {
		want := (m.Order + 1) * (m.Order + 1)
		for _, p := range []struct {
			name   string
			coeffs Polynomial
		}{{"FX", m.FX}, {"FY", m.FY}, {"GU", m.GU}, {"GV", m.GV}} {
			if len(p.coeffs) != want {
				errs = multierr.Append(errs, NewParameterInvalidError(
					fmt.Sprintf("%sCoefficients has %d entries, order %d needs %d", p.name, len(p.coeffs), m.Order, want)))
			}
		}
	}
	if !validOrientation(m.Orientation.X) || !validOrientation(m.Orientation.Y) {
		errs = multierr.Append(errs, NewParameterInvalidError(
			fmt.Sprintf("orientation must be -1, 0 or 1, got (%d, %d)", m.Orientation.X, m.Orientation.Y)))
	}
	return errs
}

func validOrientation(v int) bool {
	return v >= -1 && v <= 1
}

// Target returns the target mounted in slot n.
func (m *Model) Target(n int) (TargetInfo, error) {
	if n < 0 || n >= MaxTargets {
		return TargetInfo{}, NewParameterInvalidError(fmt.Sprintf("target number %d outside [0,%d)", n, MaxTargets))
	}
	if m.Targets[n] == nil {
		return TargetInfo{}, NewParameterInvalidError(fmt.Sprintf("no target configured in slot %d", n))
	}
	return *m.Targets[n], nil
}

// OutputToBeam maps an output pixel index to beamspace. Integer indices map to pixel centers.
func (m *Model) OutputToBeam(u, v float64) r2.Point {
	return r2.Point{
		X: m.XStart + (u+0.5)*(m.XEnd-m.XStart)/float64(m.OutputWidth),
		Y: m.YEnd - (v+0.5)*(m.YEnd-m.YStart)/float64(m.OutputHeight),
	}
}

// BeamToOutput is the inverse of OutputToBeam.
func (m *Model) BeamToOutput(p r2.Point) r2.Point {
	return r2.Point{
		X: float64(m.OutputWidth)*(p.X-m.XStart)/(m.XEnd-m.XStart) - 0.5,
		Y: float64(m.OutputHeight)*(m.YEnd-p.Y)/(m.YEnd-m.YStart) - 0.5,
	}
}

// InputToBeam maps a camera pixel coordinate to beamspace through (FX, FY).
func (m *Model) InputToBeam(u, v float64) r2.Point {
	return r2.Point{X: m.FX.Eval(m.Order, u, v), Y: m.FY.Eval(m.Order, u, v)}
}

// BeamToInput maps a beamspace coordinate to camera pixels through (GU, GV).
func (m *Model) BeamToInput(p r2.Point) r2.Point {
	return r2.Point{X: m.GU.Eval(m.Order, p.X, p.Y), Y: m.GV.Eval(m.Order, p.X, p.Y)}
}

// OutputToInput maps an output pixel coordinate to camera pixels via beamspace.
func (m *Model) OutputToInput(u, v float64) r2.Point {
	return m.BeamToInput(m.OutputToBeam(u, v))
}

// OutputCenter returns the coordinate of the output image center.
func (m *Model) OutputCenter() r2.Point {
	return r2.Point{X: float64(m.OutputWidth-1) / 2, Y: float64(m.OutputHeight-1) / 2}
}

// BeamScale returns the affine relation between output pixel indices and beamspace:
// x = a*u + b and y = c*v + d.
func (m *Model) BeamScale() (a, b, c, d float64) {
	a = (m.XEnd - m.XStart) / float64(m.OutputWidth)
	b = 0.5*a + m.XStart
	c = -(m.YEnd - m.YStart) / float64(m.OutputHeight)
	d = 0.5*c + m.YEnd
	return a, b, c, d
}

// PixelFootprintArea returns the area, in camera pixels, covered by the output pixel (u, v).
// The pixel's corners are mapped to the camera, ordered by angle about the mapped pixel
// center and the area computed from the two diagonals of the resulting quadrilateral.
func (m *Model) PixelFootprintArea(u, v float64) float64 {
	center := m.OutputToInput(u, v)
	offsets := [4]r2.Point{{X: -0.5, Y: 0.5}, {X: -0.5, Y: -0.5}, {X: 0.5, Y: 0.5}, {X: 0.5, Y: -0.5}}
	var corners [4]r2.Point
	for i, off := range offsets {
		corners[i] = m.OutputToInput(u+off.X, v+off.Y)
	}
	SortClockwise(corners[:], center)

	ac := corners[2].Sub(corners[0])
	bd := corners[3].Sub(corners[1])
	return 0.5 * math.Abs(ac.Cross(bd))
}

// PixelFootprintAreaRatio returns the footprint area of (u, v) relative to the footprint of
// the output image center.
func (m *Model) PixelFootprintAreaRatio(u, v float64) float64 {
	c := m.OutputCenter()
	ref := m.PixelFootprintArea(c.X, c.Y)
	if ref == 0 {
		return 0
	}
	return m.PixelFootprintArea(u, v) / ref
}

// SortClockwise orders points by decreasing angle about center, with the angle measured in
// image coordinates (y grows downward).
func SortClockwise(pts []r2.Point, center r2.Point) {
	sort.SliceStable(pts, func(i, j int) bool {
		return imageAngle(pts[i], center) > imageAngle(pts[j], center)
	})
}

func imageAngle(p, center r2.Point) float64 {
	return math.Atan2(center.Y-p.Y, p.X-center.X)
}

// Centroid returns the mean of the points.
func Centroid(pts []r2.Point) r2.Point {
	var sum r2.Point
	for _, p := range pts {
		sum = sum.Add(p)
	}
	if len(pts) == 0 {
		return sum
	}
	return sum.Mul(1 / float64(len(pts)))
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	cp := *m
	cp.FX = append(Polynomial(nil), m.FX...)
	cp.FY = append(Polynomial(nil), m.FY...)
	cp.GU = append(Polynomial(nil), m.GU...)
	cp.GV = append(Polynomial(nil), m.GV...)
	for i, t := range m.Targets {
		if t != nil {
			tc := *t
			cp.Targets[i] = &tc
		}
	}
	return &cp
}

func errMissing(what string) error {
	return errors.Wrapf(ErrConfigDocumentMalformed, "missing %s", what)
}
