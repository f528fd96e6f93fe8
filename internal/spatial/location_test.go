package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	budapest  = GpsLocation{Lat: 47.4979, Lon: 19.0402}
	wien      = GpsLocation{Lat: 48.2082, Lon: 16.3738}
	london    = GpsLocation{Lat: 51.5074, Lon: -0.1278}
	newYork   = GpsLocation{Lat: 40.7128, Lon: -74.0060}
	capeTown  = GpsLocation{Lat: -33.9249, Lon: 18.4241}
	kecskemet = GpsLocation{Lat: 46.9065, Lon: 19.6913}
)

func withinPercent(t *testing.T, want, got, pct float64) {
	t.Helper()
	delta := want * pct
	assert.InDelta(t, want, got, delta)
}

// S1 — distance scenario from SPEC_FULL.md / spec.md §8.
func TestDistanceKm_Scenarios(t *testing.T) {
	withinPercent(t, 82.12, DistanceKm(budapest, kecskemet), 0.01)
	withinPercent(t, 212.24, DistanceKm(budapest, wien), 0.01)
	withinPercent(t, 1449.57, DistanceKm(budapest, london), 0.01)
	withinPercent(t, 7005.61, DistanceKm(budapest, newYork), 0.01)
	withinPercent(t, 9053.66, DistanceKm(budapest, capeTown), 0.01)
}

func TestDistanceKm_SymmetricAndNonNegative(t *testing.T) {
	locs := []GpsLocation{budapest, wien, london, newYork, capeTown, kecskemet}
	for _, a := range locs {
		for _, b := range locs {
			d1 := DistanceKm(a, b)
			d2 := DistanceKm(b, a)
			assert.Equal(t, d1, d2)
			assert.GreaterOrEqual(t, d1, 0.0)
			if a.Equal(b) {
				assert.Zero(t, d1)
			}
		}
	}
}

func TestNewGpsLocation_Validation(t *testing.T) {
	_, err := NewGpsLocation(100.0, 1.0)
	require.Error(t, err)
	assert.True(t, ValidationErr.Has(err))

	_, err = NewGpsLocation(1.0, 200.0)
	require.Error(t, err)

	loc, err := NewGpsLocation(47.4979, 19.0402)
	require.NoError(t, err)
	assert.Equal(t, budapest, loc)
}

func TestSector_CoversFullCircle(t *testing.T) {
	for _, to := range []GpsLocation{wien, london, newYork, capeTown, kecskemet} {
		sector := Sector(budapest, to)
		assert.GreaterOrEqual(t, sector, 0)
		assert.Less(t, sector, SectorCount)
	}
}
