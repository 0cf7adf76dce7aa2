package transform

// InverseBrownConrady undoes a BrownConrady distortion with Newton iterations.
type InverseBrownConrady struct {
	BrownConrady
}

// NewInverseBrownConrady takes the parameters of the forward model in BrownConrady order.
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	bc, err := NewBrownConrady(inp)
	if err != nil {
		return nil, err
	}
	return &InverseBrownConrady{*bc}, nil
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Transform finds the undistorted normalized coordinates that the forward model maps onto (xd, yd).
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}
	const maxIterations = 20
	const tolerance = 1e-12
	k1, k2, k3 := ibc.RadialK1, ibc.RadialK2, ibc.RadialK3
	p1, p2 := ibc.TangentialP1, ibc.TangentialP2

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		xEst, yEst := ibc.BrownConrady.Transform(xu, yu)
		errX, errY := xEst-xd, yEst-yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		r2 := xu*xu + yu*yu
		radDist := 1 + k1*r2 + k2*r2*r2 + k3*r2*r2*r2
		dRad := 2 * (k1 + 2*k2*r2 + 3*k3*r2*r2) // d(radDist)/d(r2) * 2
		j00 := radDist + xu*xu*dRad + 2*p1*yu + 6*p2*xu
		j01 := xu*yu*dRad + 2*p1*xu + 2*p2*yu
		j10 := xu*yu*dRad + 2*p2*yu + 2*p1*xu
		j11 := radDist + yu*yu*dRad + 2*p2*xu + 6*p1*yu

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}
