package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Triangle is a single face of a Mesh.
type Triangle struct {
	p0 r3.Vector
	p1 r3.Vector
	p2 r3.Vector

	normal r3.Vector
}

// NewTriangle creates a triangle with its normal following the right-hand rule over p0, p1, p2.
func NewTriangle(p0, p1, p2 r3.Vector) *Triangle {
	return &Triangle{
		p0:     p0,
		p1:     p1,
		p2:     p2,
		normal: PlaneNormal(p0, p1, p2),
	}
}

// Points returns the three corners.
func (t *Triangle) Points() []r3.Vector {
	return []r3.Vector{t.p0, t.p1, t.p2}
}

// Normal returns the unit normal, or the zero vector for a degenerate triangle.
func (t *Triangle) Normal() r3.Vector {
	return t.normal
}

// Area returns the surface area.
func (t *Triangle) Area() float64 {
	return t.p1.Sub(t.p0).Cross(t.p2.Sub(t.p0)).Norm() / 2
}

// Transform returns the triangle with every corner moved by pose.
func (t *Triangle) Transform(pose Pose) *Triangle {
	return NewTriangle(TransformPoint(pose, t.p0), TransformPoint(pose, t.p1), TransformPoint(pose, t.p2))
}

// SamplePoints returns points covering the triangle so that no surface point is farther than
// roughly `spacing` from a sample. Corners are always included.
func (t *Triangle) SamplePoints(spacing float64) []r3.Vector {
	longest := math.Max(t.p1.Sub(t.p0).Norm(), math.Max(t.p2.Sub(t.p1).Norm(), t.p0.Sub(t.p2).Norm()))
	steps := 1
	if spacing > 0 && longest > spacing {
		steps = int(math.Ceil(longest / spacing))
	}
	e0 := t.p1.Sub(t.p0)
	e1 := t.p2.Sub(t.p0)
	points := make([]r3.Vector, 0, (steps+1)*(steps+2)/2)
	for i := 0; i <= steps; i++ {
		for j := 0; i+j <= steps; j++ {
			u := float64(i) / float64(steps)
			v := float64(j) / float64(steps)
			points = append(points, t.p0.Add(e0.Mul(u)).Add(e1.Mul(v)))
		}
	}
	return points
}

// ClosestPointToPoint returns the point on the triangle closest to the query point.
func (t *Triangle) ClosestPointToPoint(point r3.Vector) r3.Vector {
	closestPtInside, inside := t.closestInsidePoint(point)
	if inside {
		return closestPtInside
	}

	// Outside the face the closest point lies on an edge.
	closestPt := ClosestPointSegmentPoint(t.p0, t.p1, point)
	bestDist := point.Sub(closestPt).Norm2()

	newPt := ClosestPointSegmentPoint(t.p1, t.p2, point)
	if newDist := point.Sub(newPt).Norm2(); newDist < bestDist {
		closestPt = newPt
		bestDist = newDist
	}

	newPt = ClosestPointSegmentPoint(t.p2, t.p0, point)
	if newDist := point.Sub(newPt).Norm2(); newDist < bestDist {
		return newPt
	}
	return closestPt
}

// closestInsidePoint projects the point onto the triangle's plane and reports whether the
// projection lies within the triangle. Parametrized as Q = p0 + u*e0 + v*e1.
func (t *Triangle) closestInsidePoint(point r3.Vector) (r3.Vector, bool) {
	const eps = 1e-6
	e0 := t.p1.Sub(t.p0)
	e1 := t.p2.Sub(t.p0)
	a := e0.Norm2()
	b := e0.Dot(e1)
	c := e1.Norm2()
	d := point.Sub(t.p0)
	det := a*c - b*b
	if det == 0 {
		return point, false
	}
	u := (c*e0.Dot(d) - b*e1.Dot(d)) / det
	v := (-b*e0.Dot(d) + a*e1.Dot(d)) / det
	inside := (0 <= u+eps) && (u <= 1+eps) && (0 <= v+eps) && (v <= 1+eps) && (u+v <= 1+eps)
	return t.p0.Add(e0.Mul(u)).Add(e1.Mul(v)), inside
}

// PlaneNormal returns the unit normal of the plane through three points.
func PlaneNormal(p0, p1, p2 r3.Vector) r3.Vector {
	n := p1.Sub(p0).Cross(p2.Sub(p0))
	if norm := n.Norm(); norm > 0 {
		return n.Mul(1 / norm)
	}
	return r3.Vector{}
}

// ClosestPointSegmentPoint returns the point on segment [start, end] closest to pt.
func ClosestPointSegmentPoint(start, end, pt r3.Vector) r3.Vector {
	seg := end.Sub(start)
	length2 := seg.Norm2()
	if length2 == 0 {
		return start
	}
	s := pt.Sub(start).Dot(seg) / length2
	s = math.Max(0, math.Min(1, s))
	return start.Add(seg.Mul(s))
}
