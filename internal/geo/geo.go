// Package geo provides spherical-earth navigation primitives and the planar
// reprojection used for velocity-field integration.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by all great-circle
// calculations (kilometres).
const EarthRadiusKm = 6371.0

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Bearing returns the initial great-circle bearing from (lat1, lon1) to
// (lat2, lon2) in degrees, in the range [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dLon := radians(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	return normalizeBearing(degrees(math.Atan2(y, x)))
}

// BearingDiff returns the signed smallest angle from b2 to b1 in degrees, in
// the range (-180, 180].
func BearingDiff(b1, b2 float64) float64 {
	r := math.Mod(b1-b2, 360)
	if r <= -180 {
		r += 360
	} else if r > 180 {
		r -= 360
	}
	return r
}

// Destination returns the point reached by travelling distanceKm along a
// great circle from (lat, lon) at the given initial bearing.
func Destination(lat, lon, bearing, distanceKm float64) (float64, float64) {
	if distanceKm == 0 {
		return lat, lon
	}
	phi1, lambda1 := radians(lat), radians(lon)
	theta := radians(bearing)
	delta := distanceKm / EarthRadiusKm

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)
	return degrees(phi2), normalizeLon(degrees(lambda2))
}

// DistanceKm returns the haversine great-circle distance in kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push a fractionally above 1 for antipodal points.
	a = math.Min(1, a)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

func normalizeBearing(b float64) float64 {
	b = math.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	if b >= 360 {
		b = 0
	}
	return b
}

// normalizeLon wraps a longitude into [-180, 180).
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
