// Package geometry provides the planar polygon clipping used to compute pixel overlaps.
package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

// Polygon is a closed polygon given by its vertices in order. The closing edge from the
// last vertex back to the first is implicit.
type Polygon []r2.Point

// SignedArea returns the shoelace area, positive for counter-clockwise vertex order in a
// y-up frame.
func (p Polygon) SignedArea() float64 {
	if len(p) < 3 {
		return 0
	}
	var sum float64
	for i := range p {
		sum += p[i].Cross(p[(i+1)%len(p)])
	}
	return sum / 2
}

// Area returns the absolute polygon area.
func (p Polygon) Area() float64 {
	return math.Abs(p.SignedArea())
}

// Bounds returns the smallest rectangle containing every vertex.
func (p Polygon) Bounds() r2.Rect {
	if len(p) == 0 {
		return r2.EmptyRect()
	}
	return r2.RectFromPoints(p...)
}

// PixelRect returns the unit square of the pixel centered on integer coordinates (u, v).
func PixelRect(u, v int) r2.Rect {
	return r2.RectFromPoints(
		r2.Point{X: float64(u) - 0.5, Y: float64(v) - 0.5},
		r2.Point{X: float64(u) + 0.5, Y: float64(v) + 0.5},
	)
}

// ImageRect returns the area covered by a width x height image of unit pixels centered on
// integer coordinates.
func ImageRect(width, height int) r2.Rect {
	return r2.RectFromPoints(
		r2.Point{X: -0.5, Y: -0.5},
		r2.Point{X: float64(width) - 0.5, Y: float64(height) - 0.5},
	)
}

type halfPlane struct {
	axis  int // 0 for x, 1 for y
	bound float64
	lower bool // inside when coordinate >= bound
}

func (h halfPlane) coord(p r2.Point) float64 {
	if h.axis == 0 {
		return p.X
	}
	return p.Y
}

func (h halfPlane) inside(p r2.Point) bool {
	if h.lower {
		return h.coord(p) >= h.bound
	}
	return h.coord(p) <= h.bound
}

func (h halfPlane) intersect(a, b r2.Point) r2.Point {
	ca, cb := h.coord(a), h.coord(b)
	t := (h.bound - ca) / (cb - ca)
	p := a.Add(b.Sub(a).Mul(t))
	// pin the clipped coordinate exactly onto the boundary
	if h.axis == 0 {
		p.X = h.bound
	} else {
		p.Y = h.bound
	}
	return p
}

// ClipToRect clips a polygon to an axis aligned rectangle with the Sutherland-Hodgman
// algorithm. The subject may be convex or concave; the result is nil when nothing remains.
func ClipToRect(subject Polygon, rect r2.Rect) Polygon {
	if len(subject) < 3 || rect.IsEmpty() {
		return nil
	}
	planes := [4]halfPlane{
		{axis: 0, bound: rect.X.Lo, lower: true},
		{axis: 0, bound: rect.X.Hi},
		{axis: 1, bound: rect.Y.Lo, lower: true},
		{axis: 1, bound: rect.Y.Hi},
	}
	output := append(Polygon(nil), subject...)
	for _, plane := range planes {
		if len(output) == 0 {
			return nil
		}
		output = clipByHalfPlane(output, plane)
	}
	if len(output) < 3 {
		return nil
	}
	return output
}

func clipByHalfPlane(polygon Polygon, plane halfPlane) Polygon {
	clipped := make(Polygon, 0, len(polygon)+2)
	for i := range polygon {
		current := polygon[i]
		next := polygon[(i+1)%len(polygon)]
		currentInside := plane.inside(current)
		nextInside := plane.inside(next)

		if currentInside {
			clipped = append(clipped, current)
			if !nextInside {
				clipped = append(clipped, plane.intersect(current, next))
			}
		} else if nextInside {
			clipped = append(clipped, plane.intersect(current, next))
		}
	}
	return clipped
}

// IntersectionArea returns the area of the part of subject inside rect.
func IntersectionArea(subject Polygon, rect r2.Rect) float64 {
	bounds := subject.Bounds()
	if !bounds.Intersects(rect) {
		return 0
	}
	if rect.Contains(bounds) {
		return subject.Area()
	}
	return ClipToRect(subject, rect).Area()
}
