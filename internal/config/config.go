// Package config loads application configuration from config.yaml and
// EVIDENCE_-prefixed environment variables, and initializes logging.
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
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Seeds     SeedsConfig     `yaml:"seeds" mapstructure:"seeds"`
	MediaWiki MediaWikiConfig `yaml:"mediawiki" mapstructure:"mediawiki"`
	Dip       DipConfig       `yaml:"dip" mapstructure:"dip"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Neo4j     Neo4jConfig     `yaml:"neo4j" mapstructure:"neo4j"`
	Meili     MeiliConfig     `yaml:"meili" mapstructure:"meili"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the revision cache on disk.
type CacheConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	ExportDir string `yaml:"export_dir" mapstructure:"export_dir"`
}

// SeedsConfig locates the seed registry and override files.
type SeedsConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`
	RegistryPath  string `yaml:"registry_path" mapstructure:"registry_path"`
}

// MediaWikiConfig configures the MediaWiki Action API client.
type MediaWikiConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateRPS   float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// DipConfig configures the DIP open-data API client.
type DipConfig struct {
	BaseURL  string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey   string  `yaml:"api_key" mapstructure:"api_key"`
	RateRPS  float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	PageSize int     `yaml:"page_size" mapstructure:"page_size"`
}

// StoreConfig configures the evidence index / bookkeeping store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	Path        string `yaml:"path" mapstructure:"path"`     // sqlite file
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// Neo4jConfig configures the graph sink.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// MeiliConfig configures the search sink.
type MeiliConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	MasterKey string `yaml:"master_key" mapstructure:"master_key"`
}

// PipelineConfig configures pipeline concurrency and matching.
type PipelineConfig struct {
	MaxConcurrentSeeds int    `yaml:"max_concurrent_seeds" mapstructure:"max_concurrent_seeds"`
	FetchPersonPages   bool   `yaml:"fetch_person_pages" mapstructure:"fetch_person_pages"`
	GivenNameTable     string `yaml:"given_name_table" mapstructure:"given_name_table"`
}

// ServerConfig configures the citation HTTP server.
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

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("EVIDENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.export_dir", "data/exports")
	v.SetDefault("seeds.path", "config/seeds.yaml")
	v.SetDefault("seeds.overrides_path", "config/link_overrides.yaml")
	v.SetDefault("seeds.registry_path", "config/landtage_registry.yaml")
	v.SetDefault("mediawiki.base_url", "https://de.wikipedia.org/w/api.php")
	v.SetDefault("mediawiki.user_agent", "evidence-cli/1.0 (parliamentary provenance pipeline)")
	v.SetDefault("mediawiki.rate_rps", 2.0)
	v.SetDefault("dip.base_url", "https://search.dip.bundestag.de/api/v1")
	v.SetDefault("dip.rate_rps", 2.0)
	v.SetDefault("dip.page_size", 100)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/evidence.db")
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("meili.url", "http://localhost:7700")
	v.SetDefault("pipeline.max_concurrent_seeds", 4)
	v.SetDefault("pipeline.fetch_person_pages", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
