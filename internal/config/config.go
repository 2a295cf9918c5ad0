package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var ErrUnknownStoreDriver = errors.New("unknown store driver")

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type StoreConfig struct {
	Driver    string        `mapstructure:"driver"`
	URI       string        `mapstructure:"uri"`
	Database  string        `mapstructure:"database"`
	Timeout   time.Duration `mapstructure:"timeout"`
	QueueSize int           `mapstructure:"queue_size"`
}

// TelemetryConfig points the OTLP/gRPC exporters at a collector. An empty
// endpoint leaves telemetry off.
type TelemetryConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	ServiceName string        `mapstructure:"service_name"`
	Insecure    bool          `mapstructure:"insecure"`
	Interval    time.Duration `mapstructure:"interval"`
}

type Config struct {
	Mode         string          `mapstructure:"mode"`
	Port         int             `mapstructure:"port"`
	StaticPath   string          `mapstructure:"static_path"`
	ReadLimit    int64           `mapstructure:"read_limit"`
	PingPeriod   time.Duration   `mapstructure:"ping_period"`
	PongWait     time.Duration   `mapstructure:"pong_wait"`
	WriteWait    time.Duration   `mapstructure:"write_wait"`
	SendBuffer   int             `mapstructure:"send_buffer"`
	Secret       string          `mapstructure:"secret"`
	LogLevel     string          `mapstructure:"log_level"`
	SlowConsumer string          `mapstructure:"slow_consumer"`
	ICEServers   []ICEServer     `mapstructure:"ice_servers"`
	InviteRate   RateConfig      `mapstructure:"invite_rate"`
	Store        StoreConfig     `mapstructure:"store"`
	Telemetry    TelemetryConfig `mapstructure:"otel"`

	// AdminToken guards room eviction. Empty disables it.
	AdminToken string `mapstructure:"admin_token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "meshroom-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("slow_consumer", "drop")
	v.SetDefault("invite_rate.limit", 5)
	v.SetDefault("invite_rate.interval", "10s")
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.database", "meshroom")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("store.queue_size", 256)
	v.SetDefault("admin_token", "")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "meshroom")
	v.SetDefault("otel.insecure", true)
	v.SetDefault("otel.interval", "30s")
}

// Load reads config/config.<CONFIG_ENV>.yaml unless path is given.
// MESHROOM_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("MESHROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("static", cfg.StaticPath).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreMongo, StorePostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreDriver, c.Store.Driver)
	}
	if c.Store.Driver != StoreMemory && c.Store.URI == "" {
		return fmt.Errorf("store.uri is required for driver %q", c.Store.Driver)
	}
	if c.Store.QueueSize < 0 {
		return fmt.Errorf("store.queue_size must not be negative")
	}
	if c.PongWait <= c.PingPeriod {
		return fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	return nil
}
