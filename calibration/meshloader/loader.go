// Package meshloader turns the meshes attached to robot links into dense point clouds.
package meshloader

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/logging"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/spatialmath"
)

// DefaultSpacing is the maximum distance in meters between neighbouring cloud points.
const DefaultSpacing = 0.005

// ErrNoMesh is returned when a link has no mesh geometry.
var ErrNoMesh = errors.New("link has no mesh")

// Cloud is a dense sampling of a link's mesh, expressed in the link frame.
type Cloud struct {
	Frame  string
	Points []r3.Vector
}

// Closest returns the cloud point nearest to pt after moving the cloud by pose.
func (c *Cloud) Closest(pose spatialmath.Pose, pt r3.Vector) (r3.Vector, bool) {
	// Searching in the cloud frame avoids transforming every point.
	local := spatialmath.TransformPoint(spatialmath.PoseInverse(pose), pt)
	bestIdx := -1
	bestDist := 0.
	for i, p := range c.Points {
		if d := p.Sub(local).Norm2(); bestIdx < 0 || d < bestDist {
			bestIdx, bestDist = i, d
		}
	}
	if bestIdx < 0 {
		return r3.Vector{}, false
	}
	return spatialmath.TransformPoint(pose, c.Points[bestIdx]), true
}

// Loader resolves, parses and caches link meshes.
type Loader struct {
	tree         *referenceframe.Tree
	logger       logging.Logger
	packageRoots map[string]string
	searchPaths  []string
	spacing      float64
	useCollision bool

	mu    sync.Mutex
	cache map[string]*Cloud
}

// Option configures a Loader.
type Option func(*Loader)

// WithPackageRoot resolves package://name/... URIs against dir.
func WithPackageRoot(name, dir string) Option {
	return func(l *Loader) { l.packageRoots[name] = dir }
}

// WithSearchPaths adds directories that contain packages, like ROS_PACKAGE_PATH entries. Relative
// mesh filenames are also resolved against them.
func WithSearchPaths(dirs ...string) Option {
	return func(l *Loader) { l.searchPaths = append(l.searchPaths, dirs...) }
}

// WithSpacing sets the maximum distance between cloud points.
func WithSpacing(spacing float64) Option {
	return func(l *Loader) { l.spacing = spacing }
}

// WithCollisionGeometry prefers collision meshes over visual meshes.
func WithCollisionGeometry() Option {
	return func(l *Loader) { l.useCollision = true }
}

// New creates a Loader. Entries of the ROS_PACKAGE_PATH environment variable are searched last.
func New(tree *referenceframe.Tree, logger logging.Logger, opts ...Option) *Loader {
	l := &Loader{
		tree:         tree,
		logger:       logger,
		packageRoots: map[string]string{},
		spacing:      DefaultSpacing,
		cache:        map[string]*Cloud{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if env := os.Getenv("ROS_PACKAGE_PATH"); env != "" {
		l.searchPaths = append(l.searchPaths, filepath.SplitList(env)...)
	}
	return l
}

// Load returns the cloud for a link, parsing it on first use.
func (l *Loader) Load(frame string) (*Cloud, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.cache[frame]; ok {
		return c, nil
	}

	link, err := l.tree.Link(frame)
	if err != nil {
		return nil, err
	}
	refs := link.Visuals
	if l.useCollision && len(link.Collisions) > 0 || len(refs) == 0 {
		refs = link.Collisions
	}
	if len(refs) == 0 {
		return nil, errors.Wrapf(ErrNoMesh, "link %q", frame)
	}

	cloud := &Cloud{Frame: frame}
	for _, ref := range refs {
		path, err := l.resolve(ref.Filename)
		if err != nil {
			return nil, err
		}
		//nolint:gosec
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read mesh for link %q", frame)
		}
		if ext := strings.ToLower(filepath.Ext(path)); ext != ".stl" {
			return nil, errors.Errorf("unsupported mesh file format: %s (must be .stl)", ext)
		}
		triangles, err := ParseSTL(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "mesh %s", path)
		}
		mesh := spatialmath.NewMesh(ref.Origin, triangles).Scale(ref.Scale)
		cloud.Points = append(cloud.Points, mesh.SamplePoints(l.spacing)...)
	}
	if l.logger != nil {
		l.logger.Debugw("loaded mesh", "frame", frame, "points", len(cloud.Points))
	}
	l.cache[frame] = cloud
	return cloud, nil
}

// resolve maps package://, file:// and relative mesh filenames onto disk.
func (l *Loader) resolve(filename string) (string, error) {
	switch {
	case strings.HasPrefix(filename, "package://"):
		rest := strings.TrimPrefix(filename, "package://")
		pkg, rel, found := strings.Cut(rest, "/")
		if !found {
			return "", errors.Errorf("mesh uri %q has no path", filename)
		}
		if root, ok := l.packageRoots[pkg]; ok {
			return filepath.Join(root, rel), nil
		}
		for _, dir := range l.searchPaths {
			candidate := filepath.Join(dir, pkg, rel)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		return "", errors.Errorf("cannot resolve package %q of mesh %q", pkg, filename)
	case strings.HasPrefix(filename, "file://"):
		return strings.TrimPrefix(filename, "file://"), nil
	case filepath.IsAbs(filename):
		return filename, nil
	}
	for _, dir := range l.searchPaths {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return filename, nil
}
