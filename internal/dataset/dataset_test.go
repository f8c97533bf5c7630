package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatial-research/gwr-cli/internal/model"
)

func TestBuiltinSchemas(t *testing.T) {
	for _, name := range BuiltinSchemaNames() {
		s, err := BuiltinSchema(name)
		require.NoError(t, err)
		assert.NoError(t, s.Validate())
	}

	_, err := BuiltinSchema("nope")
	require.Error(t, err)
}

func TestLoadSchemaYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `
name: test-planar
crs: planar
x_column: x
y_column: y
covariates: [elev, slope]
response: precip
na_values: ["", "NA"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, model.CRSPlanar, s.CRS)
	assert.Equal(t, []string{"elev", "slope"}, s.Covariates)
}

func TestLoadSchemaInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\ncrs: utm\n"), 0o644))
	_, err := LoadSchema(path)
	require.Error(t, err)

	_, err = LoadSchema(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func precipSchema() Schema {
	return Schema{
		Name:       "test",
		CRS:        model.CRSLonLat,
		XColumn:    "LONGITUDE",
		YColumn:    "LATITUDE",
		Covariates: []string{"ALT"},
		Response:   "ANNUAL",
		NAValues:   []string{"", "NA"},
	}
}

func TestParseRows(t *testing.T) {
	header := []string{"ID", "LONGITUDE", "LATITUDE", "ALT", "ANNUAL"}
	rows := [][]string{
		{"ORO", "-117.2", "34.1", "500", "320.5"},
		{"DAG", "-116.9", "34.9", "600", "101.2"},
	}

	obs, skipped, err := ParseRows(precipSchema(), header, rows)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, obs, 2)
	assert.Equal(t, -117.2, obs[0].X)
	assert.Equal(t, 34.1, obs[0].Y)
	assert.Equal(t, []float64{500}, obs[0].Covariates)
	assert.Equal(t, 320.5, obs[0].Response)
}

func TestParseRowsSkipsNAAndGarbage(t *testing.T) {
	header := []string{"LONGITUDE", "LATITUDE", "ALT", "ANNUAL"}
	rows := [][]string{
		{"-117.2", "34.1", "500", "320.5"},
		{"-116.9", "34.9", "NA", "101.2"},  // NA covariate
		{"-116.0", "35.0", "x", "90"},      // unparseable
		{"-115.5", "35.5", "700"},          // short row
		{"-115.0", "36.0", "800", "210.0"},
	}

	obs, skipped, err := ParseRows(precipSchema(), header, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	assert.Len(t, obs, 2)
}

func TestParseRowsMissingColumn(t *testing.T) {
	header := []string{"LONGITUDE", "LATITUDE", "ANNUAL"}
	_, _, err := ParseRows(precipSchema(), header, nil)
	require.Error(t, err)
}

func TestParseRowsAllSkipped(t *testing.T) {
	header := []string{"LONGITUDE", "LATITUDE", "ALT", "ANNUAL"}
	rows := [][]string{{"NA", "NA", "NA", "NA"}}
	_, skipped, err := ParseRows(precipSchema(), header, rows)
	require.Error(t, err)
	assert.Equal(t, 1, skipped)
}

func TestFromCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "precip.csv")
	csv := "ID,LONGITUDE,LATITUDE,ALT,ANNUAL\nORO,-117.2,34.1,500,320.5\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	obs, skipped, err := FromFile(context.Background(), precipSchema(), path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, obs, 1)
	assert.Equal(t, 320.5, obs[0].Response)
}

func TestFromCSVFileStreamsManyRows(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("ID,LONGITUDE,LATITUDE,ALT,ANNUAL\n")
	for i := 0; i < 500; i++ {
		sb.WriteString("STN,-117.2,34.1,500,320.5\n")
	}
	sb.WriteString("BAD,NA,34.1,500,320.5\n")

	path := filepath.Join(t.TempDir(), "precip.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	obs, skipped, err := FromCSVFile(context.Background(), precipSchema(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, obs, 500)
}
