// Package efficiency builds the screen efficiency correction table from a family of
// efficiency maps ("slices"), each sampled at one iris diameter.
package efficiency

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"github.com/beamline/viewscreen/calibration"
)

// Slice file parameter names.
const (
	paramIrisDiameter      = "IrisDiameter"
	paramWidthStride       = "ROIWidthStride"
	paramHeightStride      = "ROIHeightStride"
	paramWidthNSamples     = "ROIWidthNSamples"
	paramHeightNSamples    = "ROIHeightNSamples"
	paramXCoordinates      = "ROIXCoordinates"
	paramYCoordinates      = "ROIYCoordinates"
	dataToken              = "Data"
	maxSliceTokenLineBytes = 1 << 20
)

// Slice is one efficiency map sampled on a regular beamspace grid. Row 0 of Data lies at
// beamspace y = YEnd and rows go down in y by HeightStride; column 0 lies at x = XStart
// and columns go up in x by WidthStride.
type Slice struct {
	Name         string
	IrisDiameter float64
	WidthStride  float64
	HeightStride float64
	XStart       float64
	YEnd         float64
	XCoords      []float64
	YCoords      []float64
	Data         [][]float64
}

// Rows returns the number of sample rows.
func (s *Slice) Rows() int {
	return len(s.Data)
}

// Cols returns the number of sample columns.
func (s *Slice) Cols() int {
	if len(s.Data) == 0 {
		return 0
	}
	return len(s.Data[0])
}

// SamplePoint returns the beamspace position of sample (col, row).
func (s *Slice) SamplePoint(col, row int) (float64, float64) {
	return s.XStart + float64(col)*s.WidthStride, s.YEnd - float64(row)*s.HeightStride
}

// Interpolate returns the bilinear interpolation of the slice at beamspace (x, y), or 0
// outside the sampled extent. Points lying exactly on the last sample row or column are
// inside.
func (s *Slice) Interpolate(x, y float64) float64 {
	rows, cols := s.Rows(), s.Cols()
	if rows < 2 || cols < 2 {
		return 0
	}

	ys := s.HeightStride
	ny := int(-math.Ceil((y - s.YEnd) / ys))
	yd := s.YEnd - float64(ny)*ys - y
	if ny == rows-1 && yd == 0 {
		ny, yd = rows-2, ys
	}
	if ny < 0 || ny >= rows-1 {
		return 0
	}

	xs := s.WidthStride
	nx := int(math.Floor((x - s.XStart) / xs))
	xd := x - s.XStart - float64(nx)*xs
	if nx == cols-1 && xd == 0 {
		nx, xd = cols-2, xs
	}
	if nx < 0 || nx >= cols-1 {
		return 0
	}

	lower := ((xs-xd)*s.Data[ny+1][nx] + xd*s.Data[ny+1][nx+1]) / xs
	upper := ((xs-xd)*s.Data[ny][nx] + xd*s.Data[ny][nx+1]) / xs
	return (yd*lower + (ys-yd)*upper) / ys
}

type sliceToken struct {
	text string
	line int
}

// tokenize splits r into whitespace separated tokens, remembering the line of each.
func tokenize(r io.Reader) ([]sliceToken, error) {
	var tokens []sliceToken
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSliceTokenLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		for _, field := range strings.Fields(scanner.Text()) {
			tokens = append(tokens, sliceToken{text: field, line: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read efficiency map")
	}
	return tokens, nil
}

// ParseSlice reads an efficiency map. The header is a sequence of "<name> <value(s)>"
// entries; vector entries take numbers until the next non numeric token and unknown entries
// are skipped to the end of their line. The header ends at a "Data" line, after which
// ROIHeightNSamples x ROIWidthNSamples values follow in row major order. Every header
// parameter is required.
func ParseSlice(r io.Reader) (*Slice, error) {
	tokens, err := tokenize(r)
	if err != nil {
		return nil, err
	}

	floatParams := map[string]*float64{}
	intParams := map[string]*int{}
	vectorParams := map[string]*[]float64{}
	slice := &Slice{}
	var widthSamples, heightSamples int
	floatParams[paramIrisDiameter] = &slice.IrisDiameter
	floatParams[paramWidthStride] = &slice.WidthStride
	floatParams[paramHeightStride] = &slice.HeightStride
	intParams[paramWidthNSamples] = &widthSamples
	intParams[paramHeightNSamples] = &heightSamples
	vectorParams[paramXCoordinates] = &slice.XCoords
	vectorParams[paramYCoordinates] = &slice.YCoords
	seen := map[string]bool{}

	i := 0
	dataFound := false
	for i < len(tokens) && !dataFound {
		name := tokens[i]
		i++
		switch {
		case floatParams[name.text] != nil:
			if i >= len(tokens) {
				return nil, calibration.NewParameterInvalidError(fmt.Sprintf("%s has no value", name.text))
			}
			v, err := cast.ToFloat64E(tokens[i].text)
			if err != nil {
				return nil, calibration.NewParameterInvalidError(fmt.Sprintf("line %d: %s: %v", name.line, name.text, err))
			}
			*floatParams[name.text] = v
			seen[name.text] = true
			i++
		case intParams[name.text] != nil:
			if i >= len(tokens) {
				return nil, calibration.NewParameterInvalidError(fmt.Sprintf("%s has no value", name.text))
			}
			v, err := cast.ToIntE(tokens[i].text)
			if err != nil {
				return nil, calibration.NewParameterInvalidError(fmt.Sprintf("line %d: %s: %v", name.line, name.text, err))
			}
			*intParams[name.text] = v
			seen[name.text] = true
			i++
		case vectorParams[name.text] != nil:
			var values []float64
			for ; i < len(tokens); i++ {
				v, err := cast.ToFloat64E(tokens[i].text)
				if err != nil {
					break
				}
				values = append(values, v)
			}
			*vectorParams[name.text] = values
			seen[name.text] = true
		case name.text == dataToken:
			for i < len(tokens) && tokens[i].line == name.line {
				i++
			}
			dataFound = true
		default:
			for i < len(tokens) && tokens[i].line == name.line {
				i++
			}
		}
	}

	var missing error
	for _, name := range []string{
		paramIrisDiameter, paramWidthStride, paramHeightStride,
		paramWidthNSamples, paramHeightNSamples, paramXCoordinates, paramYCoordinates,
	} {
		if !seen[name] {
			missing = multierr.Append(missing, calibration.NewParameterInvalidError(fmt.Sprintf("%s is missing", name)))
		}
	}
	if missing != nil {
		return nil, missing
	}
	if !dataFound {
		return nil, calibration.NewParameterInvalidError("efficiency map has no Data block")
	}
	if widthSamples <= 0 || heightSamples <= 0 {
		return nil, calibration.NewParameterInvalidError(
			fmt.Sprintf("grid size %dx%d is invalid", widthSamples, heightSamples))
	}
	if slice.WidthStride <= 0 || slice.HeightStride <= 0 {
		return nil, calibration.NewParameterInvalidError(
			fmt.Sprintf("grid strides %gx%g must be positive", slice.WidthStride, slice.HeightStride))
	}
	if len(slice.XCoords) == 0 || len(slice.YCoords) == 0 {
		return nil, calibration.NewParameterInvalidError("coordinate vectors must not be empty")
	}
	slice.XStart = slice.XCoords[0]
	slice.YEnd = slice.YCoords[0]

	slice.Data = make([][]float64, heightSamples)
	for row := range slice.Data {
		slice.Data[row] = make([]float64, widthSamples)
		for col := range slice.Data[row] {
			if i >= len(tokens) {
				return nil, calibration.NewParameterInvalidError(
					fmt.Sprintf("data block ends at sample (%d,%d) of %dx%d", col, row, widthSamples, heightSamples))
			}
			v, err := cast.ToFloat64E(tokens[i].text)
			if err != nil {
				return nil, calibration.NewParameterInvalidError(fmt.Sprintf("line %d: data format invalid: %v", tokens[i].line, err))
			}
			slice.Data[row][col] = v
			i++
		}
	}
	return slice, nil
}
