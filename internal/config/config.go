package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSuperEmail is used when no super administrator address is configured.
const DefaultSuperEmail = "css@gmail.com"

// Config stores all the configuration of the portal.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Email     EmailConfig     `mapstructure:"email"`
	Log       LogConfig       `mapstructure:"log"`
	Trace     TraceConfig     `mapstructure:"trace"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TrustedProxies lists the CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// AuthConfig holds everything the token service, the authorization engine
// and the login flow read at startup.
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	Issuer           string        `mapstructure:"issuer"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	SuperEmail       string        `mapstructure:"super_email"`
	MaxLoginAttempts int           `mapstructure:"max_login_attempts"`
	LockoutBase      time.Duration `mapstructure:"lockout_base"`
	LockoutMax       time.Duration `mapstructure:"lockout_max"`
	ActivationTTL    time.Duration `mapstructure:"activation_ttl"`
	ActivationURL    string        `mapstructure:"activation_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EmailConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TraceConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type RateLimitConfig struct {
	LoginPerMinute int `mapstructure:"login_per_minute"`
	LoginBurst     int `mapstructure:"login_burst"`
}

var errMissingSecret = errors.New("config: auth.jwt_secret (AUTH_JWT_SECRET or JWT_KEY) is not set")

// Load reads configuration from an optional config.yaml and the environment.
// Environment keys are the upper-cased config keys with dots replaced by
// underscores, e.g. AUTH_TOKEN_TTL.
func Load() (*Config, error) {
	v := viper.New()
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "society_portal")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "society-portal")
	v.SetDefault("auth.token_ttl", 3*time.Hour)
	v.SetDefault("auth.super_email", DefaultSuperEmail)
	v.SetDefault("auth.max_login_attempts", 5)
	v.SetDefault("auth.lockout_base", time.Minute)
	v.SetDefault("auth.lockout_max", time.Hour)
	v.SetDefault("auth.activation_ttl", 48*time.Hour)
	v.SetDefault("auth.activation_url", "http://localhost:5173/activate")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.from", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("trace.endpoint", "")
	v.SetDefault("trace.service_name", "society-portal")
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.login_burst", 5)

	// Names the previous deployment used.
	_ = v.BindEnv("mongo.uri", "MONGO_URI", "MONGO_URL")
	_ = v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET", "JWT_KEY", "JWT_SECRET")
	_ = v.BindEnv("auth.super_email", "AUTH_SUPER_EMAIL", "SUPER_ADMIN_EMAIL")
	_ = v.BindEnv("email.resend_api_key", "EMAIL_RESEND_API_KEY", "RESEND_API_KEY")
	_ = v.BindEnv("email.from", "EMAIL_FROM", "FROM_EMAIL")
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errMissingSecret
	}
	if strings.TrimSpace(cfg.Auth.SuperEmail) == "" {
		cfg.Auth.SuperEmail = DefaultSuperEmail
	}
	return &cfg, nil
}

// NewConfig is the fx provider for Config.
func NewConfig() (*Config, error) {
	return Load()
}
