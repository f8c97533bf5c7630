package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Boundaries BoundariesConfig `yaml:"boundaries" mapstructure:"boundaries"`
	Fit        FitConfig        `yaml:"fit" mapstructure:"fit"`
	Grid       GridConfig       `yaml:"grid" mapstructure:"grid"`
	GWR        GWRConfig        `yaml:"gwr" mapstructure:"gwr"`
	Interp     InterpConfig     `yaml:"interp" mapstructure:"interp"`
	Moran      MoranConfig      `yaml:"moran" mapstructure:"moran"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FetchConfig configures dataset and boundary downloads.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TempDir     string  `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// BoundariesConfig configures the county boundary load.
type BoundariesConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Set      string `yaml:"set" mapstructure:"set"`
	NameAttr string `yaml:"name_attr" mapstructure:"name_attr"`
}

// FitConfig configures the per-region OLS fits.
type FitConfig struct {
	MinObservations int `yaml:"min_observations" mapstructure:"min_observations"`
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
}

// GridConfig configures the grid-cell scan.
type GridConfig struct {
	CellSize        float64 `yaml:"cell_size" mapstructure:"cell_size"`
	Radius          float64 `yaml:"radius" mapstructure:"radius"`
	MinObservations int     `yaml:"min_observations" mapstructure:"min_observations"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// GWRConfig configures geographically weighted regression.
type GWRConfig struct {
	Kernel    string  `yaml:"kernel" mapstructure:"kernel"`
	Bandwidth float64 `yaml:"bandwidth" mapstructure:"bandwidth"` // 0 = select by CV
}

// InterpConfig configures the interpolation comparison.
type InterpConfig struct {
	IDWPower    float64 `yaml:"idw_power" mapstructure:"idw_power"`
	Neighbors   int     `yaml:"neighbors" mapstructure:"neighbors"`
	TrendDegree int     `yaml:"trend_degree" mapstructure:"trend_degree"`
	Folds       int     `yaml:"folds" mapstructure:"folds"`
	Seed        int64   `yaml:"seed" mapstructure:"seed"`
}

// MoranConfig configures the spatial autocorrelation test.
type MoranConfig struct {
	Permutations int     `yaml:"permutations" mapstructure:"permutations"`
	Seed         int64   `yaml:"seed" mapstructure:"seed"`
	BandKm       float64 `yaml:"band_km" mapstructure:"band_km"`
	KNN          int     `yaml:"knn" mapstructure:"knn"`
}

// ServerConfig configures the results HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GWR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "gwr.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.user_agent", "gwr-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.rate_per_sec", 4)
	v.SetDefault("fetch.temp_dir", "/tmp/gwr")
	v.SetDefault("boundaries.set", "counties")
	v.SetDefault("boundaries.name_attr", "NAME")
	v.SetDefault("fit.min_observations", 5)
	v.SetDefault("fit.concurrency", 4)
	v.SetDefault("grid.min_observations", 50)
	v.SetDefault("grid.concurrency", 4)
	v.SetDefault("gwr.kernel", "gauss")
	v.SetDefault("interp.idw_power", 2.0)
	v.SetDefault("interp.neighbors", 5)
	v.SetDefault("interp.trend_degree", 2)
	v.SetDefault("interp.folds", 5)
	v.SetDefault("interp.seed", 1)
	v.SetDefault("moran.permutations", 999)
	v.SetDefault("moran.seed", 1)
	v.SetDefault("moran.knn", 8)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
