package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CLIMATE_GUARD"

// Config is the service configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Influx     InfluxConfig     `mapstructure:"influx"`
	ChirpStack ChirpStackConfig `mapstructure:"chirpstack"`
	Buzzer     BuzzerConfig     `mapstructure:"buzzer"`
	Alarm      AlarmConfig      `mapstructure:"alarm"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Log        LogConfig        `mapstructure:"log"`
	Offline    OfflineConfig    `mapstructure:"offline"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// StorageConfig selects the persistence driver: "postgres" or "memory".
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type ChirpStackConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CommandPair holds the opaque downlink payloads for one signal.
type CommandPair struct {
	On  string `mapstructure:"on"`
	Off string `mapstructure:"off"`
}

type BuzzerConfig struct {
	DevEUI     string        `mapstructure:"dev_eui"`
	FPort      int           `mapstructure:"fport"`
	RetryAfter time.Duration `mapstructure:"retry_after"`
	Commands   struct {
		Temperature CommandPair `mapstructure:"temperature"`
		Humidity    CommandPair `mapstructure:"humidity"`
	} `mapstructure:"commands"`
}

// Range is a closed [Min, Max] interval.
type Range struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

type AlarmConfig struct {
	Temperature Range `mapstructure:"temperature"`
	Humidity    Range `mapstructure:"humidity"`
}

type IngestConfig struct {
	Token     string `mapstructure:"token"`
	QueueSize int    `mapstructure:"queue_size"`
	Workers   int    `mapstructure:"workers"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type NotifyConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	Template     string        `mapstructure:"template"`
	TemplateFile string        `mapstructure:"template_file"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OfflineConfig struct {
	After time.Duration `mapstructure:"after"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":1704")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("influx.bucket", "readings")
	v.SetDefault("chirpstack.timeout", 10*time.Second)
	v.SetDefault("buzzer.fport", 7)
	v.SetDefault("buzzer.retry_after", 30*time.Second)
	v.SetDefault("buzzer.commands.temperature.on", "+gcMRE00PTRJ")
	v.SetDefault("buzzer.commands.temperature.off", "+gcMRE00PTNI")
	v.SetDefault("buzzer.commands.humidity.on", "+gcMRE01PTRK")
	v.SetDefault("buzzer.commands.humidity.off", "+gcMRE01PTNJ")
	v.SetDefault("alarm.temperature.min", 20.0)
	v.SetDefault("alarm.temperature.max", 26.0)
	v.SetDefault("alarm.humidity.min", 40.0)
	v.SetDefault("alarm.humidity.max", 60.0)
	v.SetDefault("ingest.queue_size", 0)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("offline.after", 2*time.Hour)
}

// Load reads .env, the optional YAML file at path and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about; keys without a
// default must be bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"database.url",
		"redis.addr", "redis.password", "redis.db",
		"influx.url", "influx.token", "influx.org",
		"chirpstack.base_url", "chirpstack.token",
		"buzzer.dev_eui",
		"ingest.token",
		"auth.jwt_secret",
		"cors.allowed_origins",
		"notify.webhook_url", "notify.template", "notify.template_file",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate checks required settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("config: database.url is required for postgres storage")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Buzzer.DevEUI == "" {
		return errors.New("config: buzzer.dev_eui is required")
	}
	if c.Buzzer.FPort <= 0 || c.Buzzer.FPort > 223 {
		return fmt.Errorf("config: buzzer.fport %d out of range", c.Buzzer.FPort)
	}
	if c.ChirpStack.BaseURL == "" {
		return errors.New("config: chirpstack.base_url is required")
	}
	if c.Alarm.Temperature.Min > c.Alarm.Temperature.Max {
		return errors.New("config: alarm.temperature.min exceeds max")
	}
	if c.Alarm.Humidity.Min > c.Alarm.Humidity.Max {
		return errors.New("config: alarm.humidity.min exceeds max")
	}
	if c.Ingest.QueueSize < 0 {
		return errors.New("config: ingest.queue_size must not be negative")
	}
	return nil
}
