// Package spatial implements the great-circle geometry the overlay needs:
// GPS coordinates, the haversine distance between two of them, and the
// sector bucketing used by the colleague-coverage policy.
package spatial

import (
	"fmt"
	"math"

	"github.com/zeebo/errs"
)

// ValidationErr is returned for malformed spatial values (maps to
// ERROR_INVALID_VALUE on the wire).
var ValidationErr = errs.Class("spatial validation")

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// GpsLocation is a latitude/longitude pair in degrees.
type GpsLocation struct {
	Lat float64
	Lon float64
}

// NewGpsLocation validates and constructs a GpsLocation.
func NewGpsLocation(lat, lon float64) (GpsLocation, error) {
	loc := GpsLocation{Lat: lat, Lon: lon}
	if err := loc.Validate(); err != nil {
		return GpsLocation{}, err
	}
	return loc, nil
}

// Validate checks the -90..90 / -180..180 invariants.
func (l GpsLocation) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return ValidationErr.New("latitude %f out of range [-90, 90]", l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return ValidationErr.New("longitude %f out of range [-180, 180]", l.Lon)
	}
	return nil
}

// Equal reports numeric coincidence of both coordinates.
func (l GpsLocation) Equal(o GpsLocation) bool {
	return l.Lat == o.Lat && l.Lon == o.Lon
}

func (l GpsLocation) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", l.Lat, l.Lon)
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }
func radToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceKm returns the great-circle (haversine) distance in kilometres
// between two locations. Symmetric, non-negative, and zero iff the two
// coordinate pairs are numerically identical.
func DistanceKm(a, b GpsLocation) float64 {
	if a.Equal(b) {
		return 0
	}
	lat1, lon1 := degToRad(a.Lat), degToRad(a.Lon)
	lat2, lon2 := degToRad(b.Lat), degToRad(b.Lon)

	dLat := lat2 - lat1
	dLon := lon2 - lon1

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// BearingDegrees returns the initial compass bearing (0..360, 0 = north)
// from a to b, used by the colleague-coverage sector bucketing.
func BearingDegrees(a, b GpsLocation) float64 {
	lat1, lat2 := degToRad(a.Lat), degToRad(b.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	theta := math.Atan2(y, x)

	bearing := math.Mod(radToDeg(theta)+360, 360)
	return bearing
}

// SectorCount is the number of angular buckets the colleague-coverage
// policy divides the compass into (22.5 degrees each).
const SectorCount = 16

// Sector returns which of SectorCount angular buckets around origin the
// location "to" falls into, based on compass bearing.
func Sector(origin, to GpsLocation) int {
	bearing := BearingDegrees(origin, to)
	width := 360.0 / SectorCount
	sector := int(bearing / width)
	if sector >= SectorCount {
		sector = SectorCount - 1
	}
	return sector
}
