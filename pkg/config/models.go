package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Registry  RegistryConfig
	Database  DatabaseConfig
	Firehose  FirehoseConfig
	Push      PushConfig
	Alerts    AlertsConfig
	Workers   WorkerConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerRider int    `mapstructure:"maxPerRider"`
	Mode        string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// RegistryConfig selects the vehicle registry backing store.
type RegistryConfig struct {
	Store        string        `mapstructure:"store"` // "memory" or "redis"
	AutoRegister bool          `mapstructure:"autoRegister"`
	Expiry       time.Duration `mapstructure:"expiry"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	URL string
}

// FirehoseConfig mirrors broadcast events to NATS when URL is set.
type FirehoseConfig struct {
	URL string
}

type PushConfig struct {
	ServerKey string `mapstructure:"serverKey"`
	Endpoint  string
}

type AlertsConfig struct {
	LeadStops      int `mapstructure:"leadStops"`
	MinutesPerStop int `mapstructure:"minutesPerStop"`
}

type WorkerConfig struct {
	Size       int
	QueueDepth int `mapstructure:"queueDepth"`
}
