// Package spatial provides the geometry predicates the analyses depend on:
// point-in-polygon region association, distance functions for both supported
// reference frames, and neighbor search over an in-memory grid index.
package spatial

import (
	"math"

	"github.com/spatial-research/gwr-cli/internal/model"
)

const (
	earthRadiusKm = 6371.0
	kmPerDegLat   = 110.574
	kmPerDegLon   = 111.320 // at the equator, scaled by cos(lat)
)

// Distance returns the distance between two coordinates: great-circle
// kilometers for lonlat datasets, Euclidean dataset units for planar ones.
func Distance(crs model.CRS, x1, y1, x2, y2 float64) float64 {
	if crs == model.CRSLonLat {
		return haversineKm(x1, y1, x2, y2)
	}
	dx, dy := x2-x1, y2-y1
	return math.Sqrt(dx*dx + dy*dy)
}

func haversineKm(lon1, lat1, lon2, lat2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// radiusSpan converts a search radius into per-axis coordinate spans at the
// given latitude. For planar data the span is the radius itself.
func radiusSpan(crs model.CRS, radius, y float64) (dx, dy float64) {
	if crs != model.CRSLonLat {
		return radius, radius
	}
	dy = radius / kmPerDegLat
	cos := math.Cos(y * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dx = radius / (kmPerDegLon * cos)
	return dx, dy
}
