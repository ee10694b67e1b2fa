// Package beamstats computes beam position and shape statistics from image moments.
package beamstats

import (
	"math"

	"github.com/pkg/errors"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/ndarray"
)

// Parameter names under which statistics are published.
const (
	ParamM00         = "M00"
	ParamM10         = "M10"
	ParamM01         = "M01"
	ParamM20         = "M20"
	ParamM11         = "M11"
	ParamM02         = "M02"
	ParamU00         = "U00"
	ParamU10         = "U10"
	ParamU01         = "U01"
	ParamU20         = "U20"
	ParamU11         = "U11"
	ParamU02         = "U02"
	ParamCentroidX   = "CENTROIDX"
	ParamCentroidY   = "CENTROIDY"
	ParamStdevX      = "STDEVX"
	ParamStdevY      = "STDEVY"
	ParamCorrelation = "CORRELATION"
)

// Moments are the raw image moments up to second order.
type Moments struct {
	M00, M10, M01, M11, M20, M02 float64
}

type accumulator interface {
	int64 | uint64 | float64
}

// accumulate computes raw moments over pixel indices in a single pass using A as the
// accumulator type.
func accumulate[T ndarray.Pixel, A accumulator](data []T, width, height int) Moments {
	var m00, m10, m01, m11, m20, m02 A
	for v := 0; v < height; v++ {
		row := data[v*width : (v+1)*width]
		av := A(v)
		for u, px := range row {
			au := A(u)
			su := A(px)
			sv := su
			m00 += su
			su *= au
			sv *= av
			m10 += su
			m01 += sv
			m20 += su * au
			m11 += sv * au
			m02 += sv * av
		}
	}
	return Moments{
		M00: float64(m00), M10: float64(m10), M01: float64(m01),
		M11: float64(m11), M20: float64(m20), M02: float64(m02),
	}
}

// RawMoments returns the image moments of a frame over pixel indices (u, v).
func RawMoments(frame *ndarray.Frame) (Moments, error) {
	w, h := frame.Width(), frame.Height()
	switch data := frame.Data.(type) {
	case []int8:
		return accumulate[int8, int64](data, w, h), nil
	case []uint8:
		return accumulate[uint8, uint64](data, w, h), nil
	case []int16:
		return accumulate[int16, int64](data, w, h), nil
	case []uint16:
		return accumulate[uint16, uint64](data, w, h), nil
	case []int32:
		return accumulate[int32, int64](data, w, h), nil
	case []uint32:
		return accumulate[uint32, uint64](data, w, h), nil
	case []float32:
		return accumulate[float32, float64](data, w, h), nil
	case []float64:
		return accumulate[float64, float64](data, w, h), nil
	default:
		return Moments{}, errors.Errorf("unsupported buffer type %T", frame.Data)
	}
}

// Stats are beamspace moments and the beam parameters derived from them. Raw moments other
// than M00 are normalized by M00 and central moments by U00.
type Stats struct {
	M00, M10, M01, M20, M11, M02 float64
	U00, U10, U01, U20, U11, U02 float64

	CentroidX, CentroidY float64
	StdevX, StdevY       float64
	// Correlation is NaN when either axis has zero spread.
	Correlation float64
}

// Compute derives beamspace statistics from image moments. The pixel index to beamspace
// relation is x = a*u + b, y = c*v + d as given by the model's output extents.
func Compute(model *calibration.Model, m Moments) Stats {
	a, b, c, d := model.BeamScale()

	bm00 := m.M00
	bm10 := a*m.M10 + b*m.M00
	bm01 := c*m.M01 + d*m.M00
	bm20 := a*(a*m.M20+b*m.M10) + b*bm10
	bm11 := a*(c*m.M11+d*m.M10) + b*(c*m.M01+d*m.M00)
	bm02 := c*(c*m.M02+d*m.M01) + d*bm01

	// Central moments are translation invariant, so they are taken in pixel space and
	// scaled. This keeps a zero spread exactly zero.
	u20 := a * a * nonNegative(m.M20-m.M10*m.M10/m.M00)
	u02 := c * c * nonNegative(m.M02-m.M01*m.M01/m.M00)
	u11 := a * c * (m.M11 - m.M01*m.M10/m.M00)

	correlation := math.NaN()
	if u20 > 0 && u02 > 0 {
		correlation = u11 / math.Sqrt(u20*u02)
	}

	return Stats{
		M00: bm00,
		M10: bm10 / bm00,
		M01: bm01 / bm00,
		M20: bm20 / bm00,
		M11: bm11 / bm00,
		M02: bm02 / bm00,

		U00: bm00,
		U10: 0,
		U01: 0,
		U20: u20 / bm00,
		U11: u11 / bm00,
		U02: u02 / bm00,

		CentroidX:   bm10 / bm00,
		CentroidY:   bm01 / bm00,
		StdevX:      math.Sqrt(u20 / bm00),
		StdevY:      math.Sqrt(u02 / bm00),
		Correlation: correlation,
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Calculate computes the statistics of frame under model.
func Calculate(model *calibration.Model, frame *ndarray.Frame) (Stats, error) {
	m, err := RawMoments(frame)
	if err != nil {
		return Stats{}, err
	}
	return Compute(model, m), nil
}

// Values returns the statistics keyed by parameter name, in publication order.
func (s Stats) Values() []NamedValue {
	return []NamedValue{
		{ParamM00, s.M00}, {ParamM10, s.M10}, {ParamM01, s.M01},
		{ParamM20, s.M20}, {ParamM11, s.M11}, {ParamM02, s.M02},
		{ParamU00, s.U00}, {ParamU10, s.U10}, {ParamU01, s.U01},
		{ParamU20, s.U20}, {ParamU11, s.U11}, {ParamU02, s.U02},
		{ParamCentroidX, s.CentroidX}, {ParamCentroidY, s.CentroidY},
		{ParamStdevX, s.StdevX}, {ParamStdevY, s.StdevY},
		{ParamCorrelation, s.Correlation},
	}
}

// NamedValue is one published statistic.
type NamedValue struct {
	Name  string
	Value float64
}

// Attach adds the statistics to a frame's attribute list.
func (s Stats) Attach(attrs *ndarray.AttributeList) {
	for _, nv := range s.Values() {
		attrs.Add(nv.Name, "beam statistic", nv.Value)
	}
}
