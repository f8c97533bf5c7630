package spatial

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/spatial-research/gwr-cli/internal/model"
	"github.com/spatial-research/gwr-cli/internal/shape"
)

// RegionIndex resolves points to dissolved region names. Bounding boxes are
// checked before the ring test.
type RegionIndex struct {
	names  []string
	geoms  []*geom.MultiPolygon
	bounds []*geom.Bounds
}

// NewRegionIndex decodes stored region geometries into a lookup structure.
func NewRegionIndex(regions []model.Region) (*RegionIndex, error) {
	ri := &RegionIndex{
		names:  make([]string, 0, len(regions)),
		geoms:  make([]*geom.MultiPolygon, 0, len(regions)),
		bounds: make([]*geom.Bounds, 0, len(regions)),
	}
	for _, r := range regions {
		mp, err := shape.DecodeEWKB(r.GeomEWKB)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: region %q", r.Name)
		}
		ri.names = append(ri.names, r.Name)
		ri.geoms = append(ri.geoms, mp)
		ri.bounds = append(ri.bounds, mp.Bounds())
	}
	return ri, nil
}

// Locate returns the name of the region containing the point. The boolean is
// false when no region contains it.
func (ri *RegionIndex) Locate(x, y float64) (string, bool) {
	coord := geom.Coord{x, y}
	for i, b := range ri.bounds {
		if !b.OverlapsPoint(geom.XY, coord) {
			continue
		}
		if Contains(ri.geoms[i], x, y) {
			return ri.names[i], true
		}
	}
	return "", false
}

// Associate assigns each observation its enclosing region name, in place.
// Observations outside every region keep an empty name and are excluded from
// per-region fits. Returns the assigned and unassigned counts.
func Associate(obs []model.Observation, ri *RegionIndex) (assigned, unassigned int) {
	for i := range obs {
		name, ok := ri.Locate(obs[i].X, obs[i].Y)
		if !ok {
			obs[i].Region = ""
			unassigned++
			continue
		}
		obs[i].Region = name
		assigned++
	}

	if unassigned > 0 {
		zap.L().Info("spatial: observations outside all regions",
			zap.Int("assigned", assigned),
			zap.Int("unassigned", unassigned),
		)
	}
	return assigned, unassigned
}
