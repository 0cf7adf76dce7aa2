package spatialmath

import (
	"github.com/golang/geo/r3"
)

// Mesh is a set of triangles expressed in the frame given by its pose.
type Mesh struct {
	pose      Pose
	triangles []*Triangle
}

// NewMesh creates a mesh. A nil pose is the identity.
func NewMesh(pose Pose, triangles []*Triangle) *Mesh {
	if pose == nil {
		pose = NewZeroPose()
	}
	return &Mesh{
		pose:      pose,
		triangles: triangles,
	}
}

// Pose returns the mesh origin.
func (m *Mesh) Pose() Pose {
	return m.pose
}

// Triangles returns the faces in the mesh's own frame.
func (m *Mesh) Triangles() []*Triangle {
	return m.triangles
}

// Transform returns the mesh placed by pose. Triangles stay in the mesh frame.
func (m *Mesh) Transform(pose Pose) *Mesh {
	return &Mesh{
		pose:      Compose(pose, m.pose),
		triangles: m.triangles,
	}
}

// Scale returns a copy with every vertex multiplied component-wise by s.
func (m *Mesh) Scale(s r3.Vector) *Mesh {
	scaled := make([]*Triangle, 0, len(m.triangles))
	for _, tri := range m.triangles {
		pts := tri.Points()
		for i := range pts {
			pts[i] = r3.Vector{X: pts[i].X * s.X, Y: pts[i].Y * s.Y, Z: pts[i].Z * s.Z}
		}
		scaled = append(scaled, NewTriangle(pts[0], pts[1], pts[2]))
	}
	return &Mesh{pose: m.pose, triangles: scaled}
}

// SamplePoints returns a dense point cloud of the mesh surface in the mesh's parent frame.
// Shared vertices are emitted once.
func (m *Mesh) SamplePoints(spacing float64) []r3.Vector {
	seen := make(map[r3.Vector]struct{})
	var points []r3.Vector
	for _, tri := range m.triangles {
		for _, pt := range tri.SamplePoints(spacing) {
			if _, ok := seen[pt]; ok {
				continue
			}
			seen[pt] = struct{}{}
			points = append(points, TransformPoint(m.pose, pt))
		}
	}
	return points
}

// ClosestPoint returns the point on the mesh surface, in the parent frame, closest to pt.
func (m *Mesh) ClosestPoint(pt r3.Vector) (r3.Vector, bool) {
	local := TransformPoint(PoseInverse(m.pose), pt)
	best := r3.Vector{}
	bestDist := -1.
	for _, tri := range m.triangles {
		candidate := tri.ClosestPointToPoint(local)
		if d := candidate.Sub(local).Norm2(); bestDist < 0 || d < bestDist {
			best, bestDist = candidate, d
		}
	}
	if bestDist < 0 {
		return r3.Vector{}, false
	}
	return TransformPoint(m.pose, best), true
}
