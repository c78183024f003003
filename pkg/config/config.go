package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dsmforge/dsm/pkg/observability"
)

// Sentinel validation errors.
var (
	ErrInvalidIngestWorkers  = errors.New("ingest workers must be non-negative")
	ErrInvalidPageRankParams = errors.New("pagerank damping must be in (0,1) and tolerance must be positive")
	ErrInvalidCouplingThresh = errors.New("coupling change threshold must be non-negative")
	ErrInvalidAvgCommits     = errors.New("average commits affected must be positive")
)

// Config is the explicit, single configuration value threaded through
// pkg/engine. There is no process-wide/ambient configuration (spec.md §9):
// every component that needs configuration receives its slice of this value.
type Config struct {
	Filter        FilterSpec           `mapstructure:"filter"`
	Cache         CacheConfig          `mapstructure:"cache"`
	Analysis      AnalysisConfig       `mapstructure:"analysis"`
	Observability observability.Config `mapstructure:"-"`
	Logging       LoggingConfig        `mapstructure:"logging"`
}

// FilterSpec configures C1 path classification and inclusion filtering.
// Patterns are glob syntax per spec.md §4.1 (`*`, `**`, `?`); serialized
// with yaml.v3 so a project can ship a standalone filter file alongside its
// compile database, matching the teacher's own use of yaml.v3 for project
// configuration.
type FilterSpec struct {
	Include         []string `mapstructure:"include" yaml:"include"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude"`
	SystemPrefixes  []string `mapstructure:"system_prefixes" yaml:"system_prefixes"`
	ThirdPartyGlobs []string `mapstructure:"third_party_globs" yaml:"third_party_globs"`
	ProjectRoot     string   `mapstructure:"project_root" yaml:"project_root"`
}

// MarshalYAML serializes a FilterSpec's fields under their yaml tags; yaml.v3
// calls it from MarshalFilterYAML.
func (f FilterSpec) MarshalYAML() (any, error) {
	type plain FilterSpec

	return plain(f), nil
}

// CacheConfig configures C10, the content-addressed ingest/graph cache.
type CacheConfig struct {
	Backend         string        `mapstructure:"backend"`
	Directory       string        `mapstructure:"directory"`
	MaxSize         string        `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	LRUHotSetSize   int           `mapstructure:"lru_hot_set_size"`
	BloomFalsePosPR float64       `mapstructure:"bloom_false_positive_rate"`
	Enabled         bool          `mapstructure:"enabled"`
}

// AnalysisConfig configures C2 (ingest), C4 (metrics), C5/C8 (impact/diff),
// and C9 (advisor) knobs.
type AnalysisConfig struct {
	// IngestWorkers bounds the C2 worker pool; 0 means runtime.GOMAXPROCS(0).
	IngestWorkers int `mapstructure:"ingest_workers"`

	// ScannerTimeout bounds a single external scanner invocation (spec.md §5).
	ScannerTimeout time.Duration `mapstructure:"scanner_timeout"`

	// CMSProxyThreshold is the inclusion-set size above which C3 switches
	// the co-occurrence tally to a count-min sketch.
	CMSProxyThreshold int `mapstructure:"cms_proxy_threshold"`

	// PageRankDamping/Tolerance/MaxIterations are fixed at 0.85/1e-6/100 by
	// spec.md §4.2; exposed here so tests can probe convergence behavior at
	// tighter bounds without touching pkg/dsm's production constants.
	PageRankDamping       float64 `mapstructure:"pagerank_damping"`
	PageRankTolerance     float64 `mapstructure:"pagerank_tolerance"`
	PageRankMaxIterations int     `mapstructure:"pagerank_max_iterations"`

	// BetweennessNodeCeiling is the |V| above which betweenness sampling
	// kicks in; BetweennessSampleSize is the fixed source-vertex sample.
	BetweennessNodeCeiling int `mapstructure:"betweenness_node_ceiling"`
	BetweennessSampleSize  int `mapstructure:"betweenness_sample_size"`

	// CouplingChangeThreshold is C8's |Δcoupling| reporting cutoff.
	CouplingChangeThreshold int `mapstructure:"coupling_change_threshold"`

	// AverageCommitsAffected is C9's break-even divisor (spec.md §4.6 Open
	// Question: "empirical basis ... not documented ... make it configurable").
	AverageCommitsAffected int `mapstructure:"average_commits_affected"`

	// MaxGraphMemory is the hard ceiling internal/graphbudget enforces
	// before construction (0 disables it). LargeGraphNodes is the
	// non-fatal warning threshold from spec.md §5 (default 50,000).
	MaxGraphMemory  int64 `mapstructure:"max_graph_memory_bytes"`
	LargeGraphNodes int   `mapstructure:"large_graph_nodes"`
}

// LoggingConfig is folded into observability.Config by LoadConfig; kept as
// a separate mapstructure-tagged block so a project's YAML file reads
// naturally ("logging: level: debug") without exposing OTel internals.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`

	// Prometheus registers a Prometheus metric reader alongside whatever
	// OTLP exporter is configured (observability.Config.PrometheusEnabled).
	Prometheus bool `mapstructure:"prometheus"`
}

// LoadConfig loads configuration from an optional file plus `DSM_`-prefixed
// environment variables, applying defaults first (spf13/viper, matching the
// teacher's own config-loading shape).
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("dsm")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
	}

	viperCfg.SetEnvPrefix("DSM")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if readErr := viperCfg.ReadInConfig(); readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var cfg Config

	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Observability = observability.DefaultConfig()
	if cfg.Logging.Level != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Logging.Level)); err == nil {
			cfg.Observability.LogLevel = lvl
		}
	}

	cfg.Observability.LogJSON = cfg.Logging.JSON
	cfg.Observability.PrometheusEnabled = cfg.Logging.Prometheus

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("filter.third_party_globs", []string{DefaultThirdPartyGlob})
	viperCfg.SetDefault("filter.system_prefixes", DefaultSystemPrefixes)

	viperCfg.SetDefault("cache.enabled", true)
	viperCfg.SetDefault("cache.backend", DefaultCacheBackend)
	viperCfg.SetDefault("cache.directory", DefaultCacheDirectory)
	viperCfg.SetDefault("cache.max_size", DefaultCacheMaxSize)
	viperCfg.SetDefault("cache.ttl", DefaultCacheTTL.String())
	viperCfg.SetDefault("cache.lru_hot_set_size", DefaultLRUHotSetEntries)
	viperCfg.SetDefault("cache.bloom_false_positive_rate", DefaultBloomFalsePosRate)

	viperCfg.SetDefault("analysis.ingest_workers", DefaultIngestWorkers)
	viperCfg.SetDefault("analysis.scanner_timeout", DefaultScannerTimeout.String())
	viperCfg.SetDefault("analysis.cms_proxy_threshold", DefaultCMSProxyThreshold)
	viperCfg.SetDefault("analysis.pagerank_damping", DefaultPageRankDamping)
	viperCfg.SetDefault("analysis.pagerank_tolerance", DefaultPageRankTolerance)
	viperCfg.SetDefault("analysis.pagerank_max_iterations", DefaultPageRankMaxIterations)
	viperCfg.SetDefault("analysis.betweenness_node_ceiling", DefaultBetweennessNodeCeiling)
	viperCfg.SetDefault("analysis.betweenness_sample_size", DefaultBetweennessSampleSize)
	viperCfg.SetDefault("analysis.coupling_change_threshold", DefaultCouplingChangeThreshold)
	viperCfg.SetDefault("analysis.average_commits_affected", DefaultAverageCommitsAffected)
	viperCfg.SetDefault("analysis.max_graph_memory_bytes", DefaultMaxGraphMemory)
	viperCfg.SetDefault("analysis.large_graph_nodes", DefaultLargeGraphNodes)

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.json", false)
	viperCfg.SetDefault("logging.prometheus", false)
}

func validateConfig(cfg *Config) error {
	if cfg.Analysis.IngestWorkers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIngestWorkers, cfg.Analysis.IngestWorkers)
	}

	if cfg.Analysis.PageRankDamping <= 0 || cfg.Analysis.PageRankDamping >= 1 || cfg.Analysis.PageRankTolerance <= 0 {
		return fmt.Errorf("%w: damping=%g tolerance=%g",
			ErrInvalidPageRankParams, cfg.Analysis.PageRankDamping, cfg.Analysis.PageRankTolerance)
	}

	if cfg.Analysis.CouplingChangeThreshold < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCouplingThresh, cfg.Analysis.CouplingChangeThreshold)
	}

	if cfg.Analysis.AverageCommitsAffected <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAvgCommits, cfg.Analysis.AverageCommitsAffected)
	}

	return nil
}

// MarshalFilterYAML serializes a FilterSpec the way a project would ship it
// as a standalone file (gopkg.in/yaml.v3), independent of the viper-loaded
// Config it's normally embedded in.
func MarshalFilterYAML(f FilterSpec) ([]byte, error) {
	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal filter spec: %w", err)
	}

	return out, nil
}

// UnmarshalFilterYAML parses a standalone FilterSpec YAML file.
func UnmarshalFilterYAML(data []byte) (FilterSpec, error) {
	var f FilterSpec

	if err := yaml.Unmarshal(data, &f); err != nil {
		return FilterSpec{}, fmt.Errorf("unmarshal filter spec: %w", err)
	}

	return f, nil
}
