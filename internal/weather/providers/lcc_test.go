package providers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLambertConformalMEPS(t *testing.T) {
	proj, err := NewLambertConformal(MEPSProjection)
	require.NoError(t, err)

	x, y, err := proj.Forward(15.0, 63.3)
	require.NoError(t, err)
	assert.InDelta(t, 0, x, 1e-6, "projection origin")
	assert.InDelta(t, 0, y, 1e-6, "projection origin")

	// Scale is true on the standard parallel, so one degree north is about
	// one degree of arc.
	_, y, err = proj.Forward(15.0, 64.3)
	require.NoError(t, err)
	assert.InDelta(t, 6371000*math.Pi/180, y, 10)

	x, y, err = proj.Forward(10.7522, 59.9139)
	require.NoError(t, err)
	assert.InDelta(t, -237007.1, x, 0.5)
	assert.InDelta(t, -368878.8, y, 0.5)
}

func TestLambertConformalErrors(t *testing.T) {
	_, err := NewLambertConformal(LCCParams{StandardParallel1: 0, StandardParallel2: 0, EarthRadius: 6371000})
	assert.ErrorIs(t, err, errProjection)

	_, err = NewLambertConformal(LCCParams{StandardParallel1: 63.3, StandardParallel2: 63.3})
	assert.ErrorIs(t, err, errProjection)

	proj, err := NewLambertConformal(MEPSProjection)
	require.NoError(t, err)
	_, _, err = proj.Forward(0, 90)
	assert.ErrorIs(t, err, errProjection)
	_, _, err = proj.Forward(0, -90)
	assert.ErrorIs(t, err, errProjection)
}

func TestLambertConformalSecant(t *testing.T) {
	proj, err := NewLambertConformal(LCCParams{
		StandardParallel1: 33,
		StandardParallel2: 45,
		CentralMeridian:   -96,
		OriginLatitude:    23,
		EarthRadius:       6371000,
	})
	require.NoError(t, err)

	x, y, err := proj.Forward(-96, 23)
	require.NoError(t, err)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	east, _, err := proj.Forward(-90, 40)
	require.NoError(t, err)
	west, _, err := proj.Forward(-102, 40)
	require.NoError(t, err)
	assert.InDelta(t, -west, east, 1e-6, "symmetric about the central meridian")
}
