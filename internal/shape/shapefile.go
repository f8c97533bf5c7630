// Package shape reads polygon shapefiles into go-geom geometries and merges
// fragmented features into one multipolygon per attribute value.
package shape

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// NamedPolygon is one shapefile feature: an attribute value (typically the
// county name) and its geometry. Before Dissolve the same name may appear on
// several records.
type NamedPolygon struct {
	Name string
	Geom *geom.MultiPolygon
}

// ReadPolygons reads all polygon records from a shapefile, keyed by the given
// attribute. Records with an empty key or unusable geometry are skipped.
func ReadPolygons(shpPath, nameAttr string) ([]NamedPolygon, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "shape: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), nameAttr) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("shape: attribute %q not found in %s", nameAttr, shpPath)
	}

	var out []NamedPolygon
	var skipped int

	for reader.Next() {
		_, s := reader.Shape()

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			skipped++
			continue
		}

		poly, ok := s.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}

		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		out = append(out, NamedPolygon{Name: name, Geom: mp})
	}

	if skipped > 0 {
		zap.L().Debug("shape: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return out, nil
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Each part becomes a single-ring polygon.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("shape: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("shape: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
