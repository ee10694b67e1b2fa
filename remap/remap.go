// Package remap resamples camera frames onto the rectified output grid. Each output pixel is
// a weighted sum of the camera pixels its footprint overlaps, with weights given by exact
// polygon clipping.
package remap

import (
	"context"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/geometry"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/ndarray"
	"github.com/beamline/viewscreen/utils"
)

// DefaultCapacity is the default maximum number of camera pixels contributing to one
// output pixel.
const DefaultCapacity = 8

// Contribution is one camera pixel's share of an output pixel.
type Contribution struct {
	Index  int     // linear camera pixel index, v*width+u
	Weight float64 // overlap area over the clipped footprint area
}

// Table maps every output pixel, in row major order, to its contributions.
type Table struct {
	Model    *calibration.Model
	Capacity int
	Entries  [][]Contribution
	// Overflows counts contributions that did not fit in an entry.
	Overflows int
}

// Empty reports whether the table has no entries.
func (t *Table) Empty() bool {
	return t == nil || len(t.Entries) == 0
}

// Fits reports whether the table was built from model.
func (t *Table) Fits(model *calibration.Model) bool {
	return !t.Empty() && t.Model == model && len(t.Entries) == model.OutputWidth*model.OutputHeight
}

// Entry returns the contributions of output pixel (u, v).
func (t *Table) Entry(u, v int) []Contribution {
	return t.Entries[v*t.Model.OutputWidth+u]
}

// CornerOffsets returns the four offsets which, added to an output pixel coordinate and
// mapped into the camera, give a consistently ordered quadrilateral. The order is derived from
// the output image center so that mirrored mappings do not reverse the polygon.
func CornerOffsets(model *calibration.Model) [4]r2.Point {
	offsets := [4]r2.Point{{X: 0.5, Y: 0.5}, {X: 0.5, Y: -0.5}, {X: -0.5, Y: 0.5}, {X: -0.5, Y: -0.5}}
	center := model.OutputCenter()
	var mapped [4]r2.Point
	for i, off := range offsets {
		mapped[i] = model.OutputToInput(center.X+off.X, center.Y+off.Y)
	}
	centroid := calibration.Centroid(mapped[:])

	var angles [4]float64
	for i, p := range mapped {
		angles[i] = -math.Atan2(p.Y-centroid.Y, p.X-centroid.X)
	}
	indices := []int{0, 1, 2, 3}
	sort.SliceStable(indices, func(a, b int) bool { return angles[indices[a]] < angles[indices[b]] })

	var sorted [4]r2.Point
	for i, idx := range indices {
		sorted[i] = r2.Point{X: 0.5, Y: 0.5}
		if idx >= 2 {
			sorted[i].X = -0.5
		}
		if idx%2 != 0 {
			sorted[i].Y = -0.5
		}
	}
	return sorted
}

// BuildTable computes the remap table for model, keeping at most capacity contributions per
// output pixel. When more camera pixels overlap a footprint, the smallest contribution is
// replaced by a larger newcomer and every overflow is logged.
func BuildTable(ctx context.Context, model *calibration.Model, capacity int, logger logging.Logger) (*Table, error) {
	if capacity <= 0 {
		return nil, calibration.NewParameterInvalidError("remap capacity must be positive")
	}
	width, height := model.OutputWidth, model.OutputHeight
	if width <= 0 || height <= 0 {
		return nil, calibration.NewParameterInvalidError("output image must have a positive size")
	}
	inW, inH := model.InputWidth, model.InputHeight
	imageRect := geometry.ImageRect(inW, inH)
	offsets := CornerOffsets(model)

	table := &Table{Model: model, Capacity: capacity, Entries: make([][]Contribution, width*height)}
	overflows := atomic.NewInt64(0)

	err := utils.ParallelForEachRow(ctx, height, func(vc int) error {
		clip := make(geometry.Polygon, 4)
		for uc := 0; uc < width; uc++ {
			for i, off := range offsets {
				clip[i] = model.OutputToInput(float64(uc)+off.X, float64(vc)+off.Y)
			}
			bounds := clip.Bounds()
			vcii := clampInt(int(math.Round(bounds.Y.Lo)), 0, inH-1)
			vcif := clampInt(int(math.Round(bounds.Y.Hi)), 0, inH-1)
			ucii := clampInt(int(math.Round(bounds.X.Lo)), 0, inW-1)
			ucif := clampInt(int(math.Round(bounds.X.Hi)), 0, inW-1)

			imagespaceArea := geometry.IntersectionArea(clip, imageRect)
			if imagespaceArea <= 0 {
				table.Entries[vc*width+uc] = []Contribution{{Index: vcii*inW + ucii}}
				continue
			}

			entry := make([]Contribution, 0, capacity)
			for vci := vcii; vci <= vcif; vci++ {
				for uci := ucii; uci <= ucif; uci++ {
					area := geometry.IntersectionArea(clip, geometry.PixelRect(uci, vci))
					if area <= 0 {
						continue
					}
					c := Contribution{Index: vci*inW + uci, Weight: area / imagespaceArea}
					if len(entry) < capacity {
						entry = append(entry, c)
						continue
					}
					overflows.Inc()
					minIdx := 0
					for i := 1; i < len(entry); i++ {
						if entry[i].Weight < entry[minIdx].Weight {
							minIdx = i
						}
					}
					if c.Weight > entry[minIdx].Weight {
						logger.Warnw("remap table overflow, replacing contribution",
							"u", uc, "v", vc, "replaced_index", entry[minIdx].Index, "replaced_weight", entry[minIdx].Weight,
							"index", c.Index, "weight", c.Weight)
						entry[minIdx] = c
					} else {
						logger.Warnw("remap table overflow, dropping contribution",
							"u", uc, "v", vc, "index", c.Index, "weight", c.Weight)
					}
				}
			}
			table.Entries[vc*width+uc] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	table.Overflows = int(overflows.Load())
	if table.Overflows > 0 {
		logger.Warnw("remap table built with overflowing entries",
			"error", calibration.NewTableOverflowError("%d contributions exceeded capacity %d", table.Overflows, capacity))
	}
	return table, nil
}

// Apply resamples in, a camera buffer, into out using the table.
func Apply[T ndarray.Pixel](in []T, table *Table, out []float32) {
	for p, entry := range table.Entries {
		var sum float64
		for _, c := range entry {
			if c.Weight == 0 {
				continue
			}
			sum += c.Weight * float64(in[c.Index])
		}
		out[p] = float32(sum)
	}
}

// ApplyFrame resamples a camera frame into a new Float32 frame of the output size.
func ApplyFrame(pool *ndarray.Pool, frame *ndarray.Frame, table *Table) (*ndarray.Frame, error) {
	model := table.Model
	if frame.Width() != model.InputWidth || frame.Height() != model.InputHeight {
		return nil, calibration.NewFrameShapeMismatchError("input image is %dx%d, calibration expects %dx%d",
			frame.Width(), frame.Height(), model.InputWidth, model.InputHeight)
	}
	out, err := pool.Alloc([]int{model.OutputWidth, model.OutputHeight}, ndarray.Float32)
	if err != nil {
		return nil, err
	}
	dst := out.Data.([]float32)
	switch src := frame.Data.(type) {
	case []int8:
		Apply(src, table, dst)
	case []uint8:
		Apply(src, table, dst)
	case []int16:
		Apply(src, table, dst)
	case []uint16:
		Apply(src, table, dst)
	case []int32:
		Apply(src, table, dst)
	case []uint32:
		Apply(src, table, dst)
	case []float32:
		Apply(src, table, dst)
	case []float64:
		Apply(src, table, dst)
	default:
		out.Release()
		return nil, errors.Errorf("unsupported buffer type %T", frame.Data)
	}
	out.UniqueID = frame.UniqueID
	out.TimeStamp = frame.TimeStamp
	frame.Attributes.CopyTo(out.Attributes)
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
