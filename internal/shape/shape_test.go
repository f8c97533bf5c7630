package shape

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func squareMP(t *testing.T, x0, y0, size float64) *geom.MultiPolygon {
	t.Helper()
	poly := &shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points: []shp.Point{
			{X: x0, Y: y0},
			{X: x0, Y: y0 + size},
			{X: x0 + size, Y: y0 + size},
			{X: x0 + size, Y: y0},
			{X: x0, Y: y0},
		},
	}
	mp := polygonToMultiPolygon(poly)
	require.NotNil(t, mp)
	return mp
}

func TestPolygonToMultiPolygon(t *testing.T) {
	mp := squareMP(t, -120, 34, 1)
	assert.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 4326, mp.SRID())
}

func TestPolygonToMultiPolygonMultiPart(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			{X: -120, Y: 34}, {X: -120, Y: 35}, {X: -119, Y: 35}, {X: -119, Y: 34}, {X: -120, Y: 34},
			{X: -118, Y: 33}, {X: -118, Y: 34}, {X: -117, Y: 34}, {X: -117, Y: 33}, {X: -118, Y: 33},
		},
	}
	mp := polygonToMultiPolygon(poly)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestPolygonToMultiPolygonEmpty(t *testing.T) {
	assert.Nil(t, polygonToMultiPolygon(nil))
	assert.Nil(t, polygonToMultiPolygon(&shp.Polygon{}))
}

func TestDissolveMergesByName(t *testing.T) {
	// Two fragments of "Santa Barbara" (mainland + island) and one "Ventura".
	polys := []NamedPolygon{
		{Name: "Ventura", Geom: squareMP(t, -119, 34, 1)},
		{Name: "Santa Barbara", Geom: squareMP(t, -120, 34, 1)},
		{Name: "Santa Barbara", Geom: squareMP(t, -120.5, 33.9, 0.2)},
	}

	dissolved := Dissolve(polys)
	require.Len(t, dissolved, 2)

	// Sorted by name; same-named fragments merged into one multipolygon.
	assert.Equal(t, "Santa Barbara", dissolved[0].Name)
	assert.Equal(t, 2, dissolved[0].Geom.NumPolygons())
	assert.Equal(t, "Ventura", dissolved[1].Name)
	assert.Equal(t, 1, dissolved[1].Geom.NumPolygons())
}

func TestDissolveNoDuplicateKeys(t *testing.T) {
	polys := []NamedPolygon{
		{Name: "Kern", Geom: squareMP(t, -119, 35, 1)},
		{Name: "Kern", Geom: squareMP(t, -118, 35, 1)},
		{Name: "Kern", Geom: squareMP(t, -117, 35, 1)},
	}
	dissolved := Dissolve(polys)
	require.Len(t, dissolved, 1)
	assert.Equal(t, 3, dissolved[0].Geom.NumPolygons())
}

func TestEWKBRoundTrip(t *testing.T) {
	mp := squareMP(t, -121, 36, 2)

	data, err := EncodeEWKB(mp)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := DecodeEWKB(data)
	require.NoError(t, err)
	assert.Equal(t, mp.NumPolygons(), decoded.NumPolygons())
	assert.Equal(t, mp.FlatCoords(), decoded.FlatCoords())
}

func TestDecodeEWKBRejectsGarbage(t *testing.T) {
	_, err := DecodeEWKB([]byte{0x01, 0x02})
	require.Error(t, err)
}
