package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/safezone-cli/internal/project"
)

// Config holds the full application configuration.
type Config struct {
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Cluster ClusterConfig `yaml:"cluster" mapstructure:"cluster"`
	Zone    ZoneConfig    `yaml:"zone" mapstructure:"zone"`
	Plot    PlotConfig    `yaml:"plot" mapstructure:"plot"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// InputConfig locates the boundary and event datasets.
type InputConfig struct {
	BoundaryPath    string `yaml:"boundary_path" mapstructure:"boundary_path"`
	EventsPath      string `yaml:"events_path" mapstructure:"events_path"`
	Sheet           string `yaml:"sheet" mapstructure:"sheet"`
	Delimiter       string `yaml:"delimiter" mapstructure:"delimiter"`
	LongitudeColumn string `yaml:"longitude_column" mapstructure:"longitude_column"`
	LatitudeColumn  string `yaml:"latitude_column" mapstructure:"latitude_column"`
	RowPolicy       string `yaml:"row_policy" mapstructure:"row_policy"`
}

// OutputConfig locates the project container and optional side outputs.
type OutputConfig struct {
	ProjectPath string `yaml:"project_path" mapstructure:"project_path"`
	PlotDir     string `yaml:"plot_dir" mapstructure:"plot_dir"`
	GeoJSONDir  string `yaml:"geojson_dir" mapstructure:"geojson_dir"`
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file"`
	PointsLayer string `yaml:"points_layer" mapstructure:"points_layer"`
	ZonesLayer  string `yaml:"zones_layer" mapstructure:"zones_layer"`
}

// ClusterConfig configures k-means.
type ClusterConfig struct {
	Count         int     `yaml:"count" mapstructure:"count"`
	Seed          uint64  `yaml:"seed" mapstructure:"seed"`
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" mapstructure:"tolerance"`
	Restarts      int     `yaml:"restarts" mapstructure:"restarts"`
}

// ZoneConfig configures the safe-zone buffers.
type ZoneConfig struct {
	BufferDistance float64 `yaml:"buffer_distance" mapstructure:"buffer_distance"`
	Units          string  `yaml:"units" mapstructure:"units"`
	Segments       int     `yaml:"segments" mapstructure:"segments"`
	SkipUnassigned bool    `yaml:"skip_unassigned" mapstructure:"skip_unassigned"`
}

// PlotConfig sizes the rendered PNGs, in inches.
type PlotConfig struct {
	Width  float64 `yaml:"width" mapstructure:"width"`
	Height float64 `yaml:"height" mapstructure:"height"`
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
	v.SetEnvPrefix("SAFEZONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.boundary_path", "")
	v.SetDefault("input.events_path", "")
	v.SetDefault("input.sheet", "")
	v.SetDefault("input.delimiter", "")
	v.SetDefault("input.longitude_column", "longitude")
	v.SetDefault("input.latitude_column", "latitude")
	v.SetDefault("input.row_policy", "strict")
	v.SetDefault("output.project_path", "")
	v.SetDefault("output.plot_dir", "")
	v.SetDefault("output.geojson_dir", "")
	v.SetDefault("output.metrics_file", "")
	v.SetDefault("output.points_layer", "Landslide Clusters")
	v.SetDefault("output.zones_layer", "Safe Evacuation Zones")
	v.SetDefault("cluster.count", 5)
	v.SetDefault("cluster.seed", 0)
	v.SetDefault("cluster.max_iterations", 300)
	v.SetDefault("cluster.tolerance", 1e-4)
	v.SetDefault("cluster.restarts", 10)
	v.SetDefault("zone.buffer_distance", 0.05)
	v.SetDefault("zone.units", "degrees")
	v.SetDefault("zone.segments", 16)
	v.SetDefault("zone.skip_unassigned", true)
	v.SetDefault("plot.width", 12.0)
	v.SetDefault("plot.height", 8.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a pipeline run depends on.
func (c *Config) Validate() error {
	if c.Input.BoundaryPath == "" {
		return eris.New("config: input.boundary_path is required")
	}
	if c.Input.EventsPath == "" {
		return eris.New("config: input.events_path is required")
	}
	if c.Output.ProjectPath == "" {
		return eris.New("config: output.project_path is required")
	}
	if c.Cluster.Count < 1 {
		return eris.Errorf("config: cluster.count must be at least 1, got %d", c.Cluster.Count)
	}
	if c.Cluster.MaxIterations < 1 {
		return eris.Errorf("config: cluster.max_iterations must be at least 1, got %d", c.Cluster.MaxIterations)
	}
	if c.Cluster.Restarts < 1 {
		return eris.Errorf("config: cluster.restarts must be at least 1, got %d", c.Cluster.Restarts)
	}
	if c.Zone.BufferDistance <= 0 || math.IsInf(c.Zone.BufferDistance, 0) || math.IsNaN(c.Zone.BufferDistance) {
		return eris.Errorf("config: zone.buffer_distance must be a positive number, got %v", c.Zone.BufferDistance)
	}
	switch c.Zone.Units {
	case "degrees", "meters":
	default:
		return eris.Errorf("config: zone.units must be degrees or meters, got %q", c.Zone.Units)
	}
	switch c.Input.RowPolicy {
	case "strict", "skip":
	default:
		return eris.Errorf("config: input.row_policy must be strict or skip, got %q", c.Input.RowPolicy)
	}
	if len([]rune(c.Input.Delimiter)) > 1 {
		return eris.Errorf("config: input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	if c.Output.PointsLayer == "" || c.Output.ZonesLayer == "" {
		return eris.New("config: output layer names must not be empty")
	}
	if c.Output.PointsLayer == c.Output.ZonesLayer {
		return eris.Errorf("config: output layer names must differ, both are %q", c.Output.PointsLayer)
	}
	if project.TableName(c.Output.PointsLayer) == project.TableName(c.Output.ZonesLayer) {
		return eris.Errorf("config: output layer names %q and %q map to the same table %q",
			c.Output.PointsLayer, c.Output.ZonesLayer, project.TableName(c.Output.PointsLayer))
	}
	return nil
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
