package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Worker  WorkerConfig
	Drift   DriftConfig
	Alerts  AlertsConfig
	Costs   CostsConfig
	Slack   SlackConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	RateLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type AuthConfig struct {
	Enabled bool
	APIKey  string
	Header  string
}

type WorkerConfig struct {
	IntervalSec     int
	DayOffset       int
	TZ              string
	Overwrite       bool
	CycleTimeoutSec int
}

type DriftConfig struct {
	Bins       int
	MinSamples int
}

// Thresholds disable their alert kind when zero.
type AlertsConfig struct {
	DriftThreshold float64
	LatencyP95MS   float64
	CostSpikeRatio float64
}

type CostsConfig struct {
	Enabled    bool
	Region     string
	Metric     string
	TimeoutSec int
	MaxRetries int
}

type SlackConfig struct {
	Enabled    bool
	WebhookURL string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/mlguard")

	viper.SetEnvPrefix("MLGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)
	viper.SetDefault("server.rateLimit", 120)

	viper.SetDefault("sqlite.path", "./data/mlguard.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 300)

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.apiKey", "demo-key")
	viper.SetDefault("auth.header", "X-API-Key")

	viper.SetDefault("worker.intervalSec", 300)
	viper.SetDefault("worker.dayOffset", 1)
	viper.SetDefault("worker.tz", "UTC")
	viper.SetDefault("worker.overwrite", true)
	viper.SetDefault("worker.cycleTimeoutSec", 120)

	viper.SetDefault("drift.bins", 10)
	viper.SetDefault("drift.minSamples", 10)

	viper.SetDefault("alerts.driftThreshold", 0.25)
	viper.SetDefault("alerts.latencyP95MS", 0)
	viper.SetDefault("alerts.costSpikeRatio", 0)

	viper.SetDefault("costs.enabled", false)
	viper.SetDefault("costs.region", "us-east-1")
	viper.SetDefault("costs.metric", "UnblendedCost")
	viper.SetDefault("costs.timeoutSec", 20)
	viper.SetDefault("costs.maxRetries", 2)

	viper.SetDefault("slack.enabled", false)
	viper.SetDefault("slack.webhookURL", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
