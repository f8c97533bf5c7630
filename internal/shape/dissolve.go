package shape

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// Dissolve merges polygons sharing a name into one multipolygon per name.
// County boundary files ship islands and mainland as separate records; an
// observation lookup against the raw records would double-count or miss
// fragments, so association always runs against the dissolved set.
// The result is sorted by name.
func Dissolve(polys []NamedPolygon) []NamedPolygon {
	byName := make(map[string]*geom.MultiPolygon)
	var order []string

	for _, np := range polys {
		dst, ok := byName[np.Name]
		if !ok {
			dst = geom.NewMultiPolygon(geom.XY).SetSRID(np.Geom.SRID())
			byName[np.Name] = dst
			order = append(order, np.Name)
		}
		for i := 0; i < np.Geom.NumPolygons(); i++ {
			if err := dst.Push(np.Geom.Polygon(i)); err != nil {
				zap.L().Debug("shape: dropping polygon during dissolve",
					zap.String("name", np.Name),
					zap.Error(err),
				)
			}
		}
	}

	sort.Strings(order)
	out := make([]NamedPolygon, 0, len(byName))
	for _, name := range order {
		out = append(out, NamedPolygon{Name: name, Geom: byName[name]})
	}
	return out
}

// EncodeEWKB serializes a geometry as little-endian EWKB for storage.
func EncodeEWKB(g geom.T) ([]byte, error) {
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "shape: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB parses stored EWKB back into a multipolygon.
func DecodeEWKB(data []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "shape: decode EWKB")
	}
	mp, ok := g.(*geom.MultiPolygon)
	if !ok {
		return nil, eris.Errorf("shape: expected MultiPolygon, got %T", g)
	}
	return mp, nil
}
