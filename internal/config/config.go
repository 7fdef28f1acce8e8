package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const envPrefix = "MIXOPT"

type Config struct {
	LogLevel string                           `mapstructure:"log_level"`
	Server   ServerConfig                     `mapstructure:"server"`
	Database DatabaseConfig                   `mapstructure:"database"`
	Cache    CacheConfig                      `mapstructure:"cache"`
	Storage  StorageConfig                    `mapstructure:"storage"`
	Drive    DriveConfig                      `mapstructure:"drive"`
	Inputs   InputsConfig                     `mapstructure:"inputs"`
	Model    ModelConfig                      `mapstructure:"model"`
	Solver   SolverConfig                     `mapstructure:"solver"`
	Analysis AnalysisConfig                   `mapstructure:"analysis"`
	Output   OutputConfig                     `mapstructure:"output"`
	Pipeline PipelineConfig                   `mapstructure:"pipeline"`
	Columns  map[string]map[string]ColumnRule `mapstructure:"columns"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	ReadTimeout    int      `mapstructure:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	URL            string `mapstructure:"url"`
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"name"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConcurrency int64  `mapstructure:"max_concurrency"`
}

// DSN returns URL when set, otherwise a key/value connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type CacheConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RedisURL      string `mapstructure:"redis_url"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     string `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
}

type StorageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	InputPrefix  string `mapstructure:"input_prefix"`
	ReportPrefix string `mapstructure:"report_prefix"`
}

type DriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
	FolderPath      string `mapstructure:"folder_path"`
}

// InputsConfig locates the input tables. Files, Tables and Locales are
// keyed by table name (stock, classes, orders, compatibility, prices,
// costs, demand). Source is file, storage or postgres.
type InputsConfig struct {
	Source    string            `mapstructure:"source"`
	Dir       string            `mapstructure:"dir"`
	StockType string            `mapstructure:"stock_type"`
	Files     map[string]string `mapstructure:"files"`
	Tables    map[string]string `mapstructure:"tables"`
	Locales   map[string]string `mapstructure:"locales"`
}

type DemandConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Granularity string  `mapstructure:"granularity"`
	Method      string  `mapstructure:"method"`
	Percentile  float64 `mapstructure:"percentile"`
	Factor      float64 `mapstructure:"factor"`
}

type ModelConfig struct {
	Objective           string       `mapstructure:"objective"`
	ReallocationLimit   float64      `mapstructure:"reallocation_limit"`
	HonorOrders         bool         `mapstructure:"honor_orders"`
	OrderPriorityBonus  float64      `mapstructure:"order_priority_bonus"`
	PricePriority       []string     `mapstructure:"price_priority"`
	PriceFill           string       `mapstructure:"price_fill"`
	TechCompatTolerance float64      `mapstructure:"tech_compat_tolerance"`
	Demand              DemandConfig `mapstructure:"demand"`
}

type SolverConfig struct {
	TimeLimit time.Duration `mapstructure:"time_limit"`
	Gap       float64       `mapstructure:"gap"`
}

type AnalysisConfig struct {
	NoiseEpsilon          float64 `mapstructure:"noise_epsilon"`
	ConservationTolerance float64 `mapstructure:"conservation_tolerance"`
}

type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	Format   string `mapstructure:"format"`
	Locale   string `mapstructure:"locale"`
	Decimals int    `mapstructure:"decimals"`
}

type PipelineConfig struct {
	Workers  int `mapstructure:"workers"`
	TopDates int `mapstructure:"top_dates"`
}

// ColumnRule describes how a logical field is found in a table header.
// Aliases are matched exactly after header normalization. Each Contains
// group matches when all of its tokens occur in the header and none of
// Excludes does.
type ColumnRule struct {
	Aliases  []string   `mapstructure:"aliases"`
	Contains [][]string `mapstructure:"contains"`
	Excludes []string   `mapstructure:"excludes"`
	Required bool       `mapstructure:"required"`
}

var (
	once     sync.Once
	instance *Config
)

// Load returns the process-wide configuration. It reads the embedded
// defaults, the file named by MIXOPT_CONFIG when set, .env and the
// environment. A broken configuration is fatal.
func Load() *Config {
	once.Do(func() {
		cfg, err := LoadFrom(os.Getenv(envPrefix + "_CONFIG"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
		instance = cfg
	})

	return instance
}

// LoadFrom builds a fresh Config from the embedded defaults, an optional
// YAML file at path, .env and the environment.
func LoadFrom(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return decode(v)
}

// Defaults returns the embedded configuration without file or environment
// overrides.
func Defaults() *Config {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		panic(fmt.Sprintf("embedded defaults are invalid: %v", err))
	}
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("embedded defaults are invalid: %v", err))
	}
	return cfg
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for deployments that share a .env with other services.
	_ = v.BindEnv("database.url", envPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("database.host", envPrefix+"_DATABASE_HOST", "DB_HOST")
	_ = v.BindEnv("database.port", envPrefix+"_DATABASE_PORT", "DB_PORT")
	_ = v.BindEnv("database.user", envPrefix+"_DATABASE_USER", "DB_USER")
	_ = v.BindEnv("database.password", envPrefix+"_DATABASE_PASSWORD", "DB_PASSWORD")
	_ = v.BindEnv("database.name", envPrefix+"_DATABASE_NAME", "DB_NAME")
	_ = v.BindEnv("cache.redis_url", envPrefix+"_CACHE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "SERVER_PORT")

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the optimizer cannot honor.
func (c *Config) Validate() error {
	switch c.Model.Objective {
	case "maximize_margin", "minimize_cost":
	default:
		return fmt.Errorf("model.objective: unknown objective %q", c.Model.Objective)
	}

	if math.IsNaN(c.Model.ReallocationLimit) || c.Model.ReallocationLimit < 1 {
		return fmt.Errorf("model.reallocation_limit must be >= 1, got %v", c.Model.ReallocationLimit)
	}

	switch strings.ToUpper(c.Model.Demand.Granularity) {
	case "M", "S", "W", "D":
	default:
		return fmt.Errorf("model.demand.granularity: unknown granularity %q", c.Model.Demand.Granularity)
	}

	switch strings.ToLower(c.Model.Demand.Method) {
	case "max", "maximo", "percentile":
	default:
		return fmt.Errorf("model.demand.method: unknown method %q", c.Model.Demand.Method)
	}

	if c.Model.Demand.Percentile < 0 || c.Model.Demand.Percentile > 100 {
		return fmt.Errorf("model.demand.percentile must be within [0, 100], got %v", c.Model.Demand.Percentile)
	}

	if c.Model.Demand.Factor <= 0 {
		return fmt.Errorf("model.demand.factor must be positive, got %v", c.Model.Demand.Factor)
	}

	switch c.Model.PriceFill {
	case "none", "sku_mean", "sku_then_global":
	default:
		return fmt.Errorf("model.price_fill: unknown policy %q", c.Model.PriceFill)
	}

	if c.Model.TechCompatTolerance < 0 {
		return fmt.Errorf("model.tech_compat_tolerance must not be negative")
	}

	if c.Solver.TimeLimit <= 0 {
		return fmt.Errorf("solver.time_limit must be positive")
	}

	if c.Solver.Gap < 0 {
		return fmt.Errorf("solver.gap must not be negative")
	}

	switch c.Inputs.Source {
	case "file", "storage", "postgres":
	default:
		return fmt.Errorf("inputs.source: unknown source %q", c.Inputs.Source)
	}

	switch c.Output.Format {
	case "csv", "xlsx":
	default:
		return fmt.Errorf("output.format: unknown format %q", c.Output.Format)
	}

	return nil
}

// EnsureDir creates dir when missing.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
