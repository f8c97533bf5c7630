package spatial

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Contains reports whether the multipolygon contains the point. A point
// inside a hole ring is outside.
func Contains(mp *geom.MultiPolygon, x, y float64) bool {
	if mp == nil {
		return false
	}
	coord := geom.Coord{x, y}
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(poly.Layout(), coord, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for r := 1; r < poly.NumLinearRings(); r++ {
			if xy.IsPointInRing(poly.Layout(), coord, poly.LinearRing(r).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}
