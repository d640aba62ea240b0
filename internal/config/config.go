package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerCfg struct {
	Port                string `mapstructure:"port"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
	Development         bool   `mapstructure:"development"`
}

type JwtCfg struct {
	Secret        string `mapstructure:"secret"`
	SigningMethod string `mapstructure:"signing_method"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type MongoCfg struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type KafkaCfg struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type NatsCfg struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type TransportCfg struct {
	Endpoint              string `mapstructure:"endpoint"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	PublishTimeoutSeconds int    `mapstructure:"publish_timeout_seconds"`
	ReconnectBaseMillis   int    `mapstructure:"reconnect_base_millis"`
	ReconnectMaxMillis    int    `mapstructure:"reconnect_max_millis"`
	MaxReconnectAttempts  int    `mapstructure:"max_reconnect_attempts"`
}

type CollaboratorsCfg struct {
	ChatAPIBase           string `mapstructure:"chat_api_base"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	RetryMaxElapsedSecs   int    `mapstructure:"retry_max_elapsed_seconds"`
}

type ConsulCfg struct {
	Addr        string `mapstructure:"addr"`
	ChatService string `mapstructure:"chat_service"`
}

type RateLimitCfg struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type Config struct {
	Server        ServerCfg        `mapstructure:"server"`
	JWT           JwtCfg           `mapstructure:"jwt"`
	Redis         RedisCfg         `mapstructure:"redis"`
	Mongo         MongoCfg         `mapstructure:"mongo"`
	Kafka         KafkaCfg         `mapstructure:"kafka"`
	Nats          NatsCfg          `mapstructure:"nats"`
	Transport     TransportCfg     `mapstructure:"transport"`
	Collaborators CollaboratorsCfg `mapstructure:"collaborators"`
	Consul        ConsulCfg        `mapstructure:"consul"`
	RateLimit     RateLimitCfg     `mapstructure:"rate_limit"`

	// Derived
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8081"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if cfg.Transport.ConnectTimeoutSeconds == 0 {
		cfg.Transport.ConnectTimeoutSeconds = 10
	}
	if cfg.Transport.PublishTimeoutSeconds == 0 {
		cfg.Transport.PublishTimeoutSeconds = 5
	}
	if cfg.Transport.ReconnectBaseMillis == 0 {
		cfg.Transport.ReconnectBaseMillis = 3000
	}
	if cfg.Transport.ReconnectMaxMillis == 0 {
		cfg.Transport.ReconnectMaxMillis = 30000
	}
	if cfg.Transport.MaxReconnectAttempts == 0 {
		cfg.Transport.MaxReconnectAttempts = 5
	}
	if cfg.Collaborators.RequestTimeoutSeconds == 0 {
		cfg.Collaborators.RequestTimeoutSeconds = 10
	}
	if cfg.Collaborators.RetryMaxElapsedSecs == 0 {
		cfg.Collaborators.RetryMaxElapsedSecs = 20
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 30
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "request-events"
	}
	if cfg.Nats.Subject == "" {
		cfg.Nats.Subject = "bridge.room.ready"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "bridge"
	}

	cfg.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	cfg.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	cfg.ConnectTimeout = time.Duration(cfg.Transport.ConnectTimeoutSeconds) * time.Second
	cfg.PublishTimeout = time.Duration(cfg.Transport.PublishTimeoutSeconds) * time.Second
	cfg.ReconnectBase = time.Duration(cfg.Transport.ReconnectBaseMillis) * time.Millisecond
	cfg.ReconnectMax = time.Duration(cfg.Transport.ReconnectMaxMillis) * time.Millisecond
}
