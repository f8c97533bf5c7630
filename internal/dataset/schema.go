// Package dataset maps raw tabular files onto observation tables: a schema
// names the coordinate columns, the covariates, and the response, and the
// parser turns rows into model.Observation values.
package dataset

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/spatial-research/gwr-cli/internal/model"
)

// Schema describes how to read one observation table.
type Schema struct {
	Name       string    `yaml:"name"`
	CRS        model.CRS `yaml:"crs"`
	XColumn    string    `yaml:"x_column"`
	YColumn    string    `yaml:"y_column"`
	Covariates []string  `yaml:"covariates"`
	Response   string    `yaml:"response"`
	NAValues   []string  `yaml:"na_values"`
}

// builtinSchemas covers the two datasets the analyses were written around.
var builtinSchemas = map[string]Schema{
	"ca-precipitation": {
		Name:       "ca-precipitation",
		CRS:        model.CRSLonLat,
		XColumn:    "LONGITUDE",
		YColumn:    "LATITUDE",
		Covariates: []string{"ALT"},
		Response:   "ANNUAL",
		NAValues:   []string{"", "NA", "-9999"},
	},
	"ca-houseprice": {
		Name:       "ca-houseprice",
		CRS:        model.CRSLonLat,
		XColumn:    "longitude",
		YColumn:    "latitude",
		Covariates: []string{"income", "houseAge", "rooms", "bedrooms", "population", "households"},
		Response:   "houseValue",
		NAValues:   []string{"", "NA"},
	},
}

// BuiltinSchema returns one of the packaged schemas.
func BuiltinSchema(name string) (Schema, error) {
	s, ok := builtinSchemas[name]
	if !ok {
		return Schema{}, eris.Errorf("dataset: no builtin schema %q", name)
	}
	return s, nil
}

// BuiltinSchemaNames lists the packaged schema names.
func BuiltinSchemaNames() []string {
	return []string{"ca-houseprice", "ca-precipitation"}
}

// LoadSchema reads a schema definition from a YAML file.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, eris.Wrapf(err, "dataset: read schema %s", path)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, eris.Wrapf(err, "dataset: parse schema %s", path)
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate checks the schema is complete enough to parse rows.
func (s Schema) Validate() error {
	switch {
	case s.Name == "":
		return eris.New("dataset: schema needs a name")
	case s.XColumn == "" || s.YColumn == "":
		return eris.New("dataset: schema needs coordinate columns")
	case s.Response == "":
		return eris.New("dataset: schema needs a response column")
	case len(s.Covariates) == 0:
		return eris.New("dataset: schema needs at least one covariate")
	}
	switch s.CRS {
	case model.CRSLonLat, model.CRSPlanar:
	default:
		return eris.Errorf("dataset: unknown crs %q", s.CRS)
	}
	return nil
}

func (s Schema) isNA(v string) bool {
	for _, na := range s.NAValues {
		if v == na {
			return true
		}
	}
	return false
}
