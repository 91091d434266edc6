package providers

import (
	"errors"
	"fmt"
	"math"
)

// LCCParams describes a spherical Lambert conformal conic projection.
// Angles are in degrees, the radius in metres.
type LCCParams struct {
	StandardParallel1 float64
	StandardParallel2 float64
	CentralMeridian   float64
	OriginLatitude    float64
	EarthRadius       float64
}

// MEPSProjection is the grid mapping of the MEPS model archive.
var MEPSProjection = LCCParams{
	StandardParallel1: 63.3,
	StandardParallel2: 63.3,
	CentralMeridian:   15.0,
	OriginLatitude:    63.3,
	EarthRadius:       6371000.0,
}

var errProjection = errors.New("projection failed")

// LambertConformal projects geographic coordinates onto a conic grid.
type LambertConformal struct {
	n, f, rho0 float64
	lambda0    float64
	radius     float64
}

// NewLambertConformal validates p and precomputes the cone constants.
func NewLambertConformal(p LCCParams) (*LambertConformal, error) {
	if p.EarthRadius <= 0 {
		return nil, fmt.Errorf("%w: earth radius %g", errProjection, p.EarthRadius)
	}
	phi1, phi2 := rad(p.StandardParallel1), rad(p.StandardParallel2)
	phi0 := rad(p.OriginLatitude)

	var n float64
	if math.Abs(phi1-phi2) < 1e-10 {
		n = math.Sin(phi1)
	} else {
		n = math.Log(math.Cos(phi1)/math.Cos(phi2)) /
			math.Log(math.Tan(math.Pi/4+phi2/2)/math.Tan(math.Pi/4+phi1/2))
	}
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("%w: degenerate cone constant for parallels %g/%g",
			errProjection, p.StandardParallel1, p.StandardParallel2)
	}

	f := math.Cos(phi1) * math.Pow(math.Tan(math.Pi/4+phi1/2), n) / n
	rho0 := p.EarthRadius * f / math.Pow(math.Tan(math.Pi/4+phi0/2), n)
	if !finite(f) || !finite(rho0) {
		return nil, fmt.Errorf("%w: non-finite cone constants", errProjection)
	}

	return &LambertConformal{
		n:       n,
		f:       f,
		rho0:    rho0,
		lambda0: rad(p.CentralMeridian),
		radius:  p.EarthRadius,
	}, nil
}

// Forward returns projected x, y in metres for lon, lat in degrees.
func (l *LambertConformal) Forward(lon, lat float64) (x, y float64, err error) {
	if math.Abs(lat) >= 90 {
		return 0, 0, fmt.Errorf("%w: latitude %g at pole", errProjection, lat)
	}
	phi := rad(lat)
	rho := l.radius * l.f / math.Pow(math.Tan(math.Pi/4+phi/2), l.n)

	dLambda := rad(lon) - l.lambda0
	for dLambda > math.Pi {
		dLambda -= 2 * math.Pi
	}
	for dLambda < -math.Pi {
		dLambda += 2 * math.Pi
	}
	theta := l.n * dLambda

	x = rho * math.Sin(theta)
	y = l.rho0 - rho*math.Cos(theta)
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("%w: non-finite result for (%g, %g)", errProjection, lon, lat)
	}
	return x, y, nil
}

func rad(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
