package models

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MarqRazz/robot-calibration/calibration/offsets"
	"github.com/MarqRazz/robot-calibration/data"
	"github.com/MarqRazz/robot-calibration/referenceframe"
	"github.com/MarqRazz/robot-calibration/rimage/transform"
)

// Intrinsic offset names, appended to the camera name with an underscore.
const (
	IntrinsicFx      = "fx"
	IntrinsicFy      = "fy"
	IntrinsicCx      = "cx"
	IntrinsicCy      = "cy"
	IntrinsicZScale  = "z_scale"
	IntrinsicZOffset = "z_offset"
)

var distortionNames = []string{"k1", "k2", "k3", "p1", "p2"}

// IntrinsicNames returns the intrinsic offsets a camera of the given config exposes, in
// registration order. Depth cameras add depth scale and offset, distorted 2D cameras add the
// distortion coefficients.
func IntrinsicNames(cfg Config) []string {
	names := []string{IntrinsicFx, IntrinsicFy, IntrinsicCx, IntrinsicCy}
	switch cfg.Type {
	case TypeCamera3d:
		names = append(names, IntrinsicZScale, IntrinsicZOffset)
	case TypeCamera2d:
		if cfg.Distortion != nil && cfg.Distortion.Type != transform.NoDistortionType {
			names = append(names, distortionNames...)
		}
	}
	return names
}

// IntrinsicSlot returns the offset slot name of one camera intrinsic.
func IntrinsicSlot(camera, intrinsic string) string {
	return camera + "_" + intrinsic
}

// CameraModel observes features through a pinhole camera at the end of a chain. camera3d models
// measure points in the optical frame, camera2d models measure pixels.
type CameraModel struct {
	chain
	typ     Type
	nominal transform.PinholeCameraModel
	// current is nominal with the intrinsic corrections applied.
	current     transform.PinholeCameraModel
	depthScale  float64
	depthOffset float64
}

// NewCameraModel returns a camera model whose optical frame is cfg.Frame. Feature points default
// to the root frame.
func NewCameraModel(cfg Config, tree *referenceframe.Tree, root string, clouds CloudSource) (*CameraModel, error) {
	if !IsCamera(cfg.Type) {
		return nil, errors.Wrapf(ErrUnknownModelType, "%q is not a camera type", cfg.Type)
	}
	if err := cfg.Intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	c, err := newChain(cfg.Name, tree, root, cfg.Frame, clouds)
	if err != nil {
		return nil, err
	}
	intrinsics := *cfg.Intrinsics
	nominal := transform.PinholeCameraModel{PinholeCameraIntrinsics: &intrinsics}
	if cfg.Distortion != nil {
		d, err := transform.NewDistorter(cfg.Distortion.Type, cfg.Distortion.Parameters)
		if err != nil {
			return nil, errors.Wrapf(err, "model %q", cfg.Name)
		}
		nominal.Distortion = d
	}
	if err := nominal.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "model %q", cfg.Name)
	}
	m := &CameraModel{chain: c, typ: cfg.Type, nominal: nominal}
	m.SetCorrections(nil)
	return m, nil
}

// Name returns the model name.
func (m *CameraModel) Name() string { return m.name }

// Type returns TypeCamera3d or TypeCamera2d.
func (m *CameraModel) Type() Type { return m.typ }

// Dim returns 3 for depth cameras and 2 for image cameras.
func (m *CameraModel) Dim() int {
	if m.typ == TypeCamera2d {
		return 2
	}
	return 3
}

// Root returns the default feature frame.
func (m *CameraModel) Root() string { return m.root }

// Frame returns the optical frame.
func (m *CameraModel) Frame() string { return m.frame }

// Clone returns a copy sharing the tree and mesh cache.
func (m *CameraModel) Clone() Model {
	clone := *m
	intrinsics := *m.current.PinholeCameraIntrinsics
	clone.current.PinholeCameraIntrinsics = &intrinsics
	return &clone
}

// SetCorrections replaces the working corrections and recomputes the corrected intrinsics.
func (m *CameraModel) SetCorrections(c *offsets.Corrections) {
	m.corrections = c
	slot := func(name string) float64 {
		return c.Scalar(IntrinsicSlot(m.name, name))
	}

	nominal := m.nominal.PinholeCameraIntrinsics
	m.current = transform.PinholeCameraModel{PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
		Width:  nominal.Width,
		Height: nominal.Height,
		Fx:     nominal.Fx * (1 + slot(IntrinsicFx)),
		Fy:     nominal.Fy * (1 + slot(IntrinsicFy)),
		Ppx:    nominal.Ppx + slot(IntrinsicCx),
		Ppy:    nominal.Ppy + slot(IntrinsicCy),
	}}
	if m.nominal.Distortion != nil {
		params := m.nominal.Distortion.Parameters()
		for i, name := range distortionNames {
			params[i] += slot(name)
		}
		// The parameter count is fixed by the nominal model, so this cannot fail.
		m.current.Distortion, _ = transform.NewDistorter(m.nominal.Distortion.ModelType(), params)
	}
	m.depthScale = 1 + slot(IntrinsicZScale)
	m.depthOffset = slot(IntrinsicZOffset)
}

// Intrinsics returns the camera model with the current corrections applied.
func (m *CameraModel) Intrinsics() transform.PinholeCameraModel {
	out := m.current
	intrinsics := *m.current.PinholeCameraIntrinsics
	out.PinholeCameraIntrinsics = &intrinsics
	return out
}

// DepthCorrection returns the current depth scale and offset of a depth camera.
func (m *CameraModel) DepthCorrection() (float64, float64) {
	return m.depthScale, m.depthOffset
}

// DependsOn returns the joints between the camera and the feature frame.
func (m *CameraModel) DependsOn(f *data.Feature) ([]string, error) {
	featureFrame := f.Frame
	if featureFrame == "" {
		featureFrame = m.root
	}
	return m.joints(m.frame, featureFrame)
}

// Project returns the measurement the camera would report for the feature.
func (m *CameraModel) Project(positions referenceframe.JointPositions, f *data.Feature) ([]float64, error) {
	if m.typ == TypeCamera2d {
		if f.Mesh {
			return nil, errors.Errorf("model %q cannot observe mesh features in 2D", m.name)
		}
		pt, err := m.reference(positions, f, m.frame, m.root, r3.Vector{})
		if err != nil {
			return nil, err
		}
		px, err := m.current.Project(pt)
		if err != nil {
			return nil, referenceframe.NewSingularChainError(m.name, err.Error())
		}
		return []float64{px.X, px.Y}, nil
	}

	pt, err := m.reference(positions, f, m.frame, m.root, observedPoint(f))
	if err != nil {
		return nil, err
	}
	return m.measure(pt)
}

// measure maps a true point in the optical frame to what the depth camera reports. The pixel is
// formed by the corrected intrinsics, while the camera back-projects with its nominal ones.
func (m *CameraModel) measure(pt r3.Vector) ([]float64, error) {
	if pt.Z <= 0 {
		return nil, referenceframe.NewSingularChainError(m.name, "point is not in front of the camera")
	}
	u, v := m.current.PointToPixel(pt.X, pt.Y, pt.Z)
	z := pt.Z*m.depthScale + m.depthOffset
	x, y, z := m.nominal.PixelToPoint(u, v, z)
	return []float64{x, y, z}, nil
}
