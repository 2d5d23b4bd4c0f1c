package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	minJWTSecretLength = 32
)

type Config struct {
	ServerPort    int            `koanf:"server_port"`
	Environment   string         `koanf:"environment"`
	JWTSecret     string         `koanf:"jwt_secret"`
	PublicBaseURL string         `koanf:"public_base_url"`
	CookieSecure  bool           `koanf:"cookie_secure"`
	Database      DatabaseConfig `koanf:"database"`
	KV            KVConfig       `koanf:"kv"`
	MQ            MQConfig       `koanf:"mq"`
	Storage       StorageConfig  `koanf:"storage"`
	SMTP          SMTPConfig     `koanf:"smtp"`
	Log           LogConfig      `koanf:"log"`
}

type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"name"`
	UseSSL   bool   `koanf:"use_ssl"`
}

// KVConfig selects the key/value store used for rate limits and revoked sessions.
type KVConfig struct {
	Backend string      `koanf:"backend"`
	Redis   RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// MQConfig selects the broker used to hand notifications to the worker.
type MQConfig struct {
	Backend  string         `koanf:"backend"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
	PubSub   PubSubConfig   `koanf:"pubsub"`
}

type RabbitMQConfig struct {
	URL             string `koanf:"url"`
	QueueDurable    bool   `koanf:"queue_durable"`
	QueueAutoDelete bool   `koanf:"queue_auto_delete"`
	PrefetchCount   int    `koanf:"prefetch_count"`
}

type PubSubConfig struct {
	ProjectID          string `koanf:"project_id"`
	CredentialsFile    string `koanf:"credentials_file"`
	SubscriptionSuffix string `koanf:"subscription_suffix"`
}

// StorageConfig selects the object store that receives archived audit events.
type StorageConfig struct {
	Backend string      `koanf:"backend"`
	Minio   MinioConfig `koanf:"minio"`
	GCS     GCSConfig   `koanf:"gcs"`
}

type MinioConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `koanf:"bucket"`
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
}

type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	Timeout  time.Duration `koanf:"timeout"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// IsDevelopment reports whether development-only echoes (dev_code, dev_link) are enabled.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

// Validate checks the settings the HTTP server cannot start without.
func (c Config) Validate() error {
	secret := strings.TrimSpace(c.JWTSecret)
	if secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(secret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	switch c.KV.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown KV_BACKEND %q", c.KV.Backend)
	}
	switch c.MQ.Backend {
	case "none", "rabbitmq", "pubsub":
	default:
		return fmt.Errorf("unknown MQ_BACKEND %q", c.MQ.Backend)
	}
	return nil
}

var defaults = map[string]any{
	"server_port":                   8080,
	"environment":                   EnvProduction,
	"public_base_url":               "http://localhost:8080",
	"cookie_secure":                 false,
	"database.host":                 "localhost",
	"database.port":                 5432,
	"database.user":                 "authserver",
	"database.password":             "password",
	"database.name":                 "authserver_db",
	"database.use_ssl":              false,
	"kv.backend":                    "memory",
	"kv.redis.addr":                 "localhost:6379",
	"kv.redis.db":                   0,
	"mq.backend":                    "none",
	"mq.rabbitmq.queue_durable":     true,
	"mq.rabbitmq.prefetch_count":    10,
	"mq.pubsub.subscription_suffix": "-sub",
	"storage.backend":               "minio",
	"storage.minio.endpoint":        "localhost:9000",
	"storage.minio.bucket":          "authserver-audit",
	"smtp.host":                     "localhost",
	"smtp.port":                     1025,
	"smtp.from":                     "no-reply@localhost",
	"smtp.timeout":                  "10s",
	"log.format":                    "json",
	"log.level":                     "info",
}

// envKeys maps environment variables onto config paths.
var envKeys = map[string]string{
	"SERVER_PORT":                "server_port",
	"ENVIRONMENT":                "environment",
	"JWT_SECRET":                 "jwt_secret",
	"PUBLIC_BASE_URL":            "public_base_url",
	"COOKIE_SECURE":              "cookie_secure",
	"DB_HOST":                    "database.host",
	"DB_PORT":                    "database.port",
	"DB_USER":                    "database.user",
	"DB_PASSWORD":                "database.password",
	"DB_NAME":                    "database.name",
	"DB_USE_SSL":                 "database.use_ssl",
	"KV_BACKEND":                 "kv.backend",
	"REDIS_ADDR":                 "kv.redis.addr",
	"REDIS_PASSWORD":             "kv.redis.password",
	"REDIS_DB":                   "kv.redis.db",
	"MQ_BACKEND":                 "mq.backend",
	"RABBITMQ_URL":               "mq.rabbitmq.url",
	"RABBITMQ_QUEUE_DURABLE":     "mq.rabbitmq.queue_durable",
	"RABBITMQ_QUEUE_AUTO_DELETE": "mq.rabbitmq.queue_auto_delete",
	"RABBITMQ_PREFETCH_COUNT":    "mq.rabbitmq.prefetch_count",
	"PUBSUB_PROJECT_ID":          "mq.pubsub.project_id",
	"PUBSUB_CREDENTIALS_FILE":    "mq.pubsub.credentials_file",
	"PUBSUB_SUBSCRIPTION_SUFFIX": "mq.pubsub.subscription_suffix",
	"STORAGE_BACKEND":            "storage.backend",
	"MINIO_ENDPOINT":             "storage.minio.endpoint",
	"MINIO_ACCESS_KEY":           "storage.minio.access_key",
	"MINIO_SECRET_KEY":           "storage.minio.secret_key",
	"MINIO_BUCKET":               "storage.minio.bucket",
	"MINIO_USE_SSL":              "storage.minio.use_ssl",
	"GCS_BUCKET":                 "storage.gcs.bucket",
	"GCS_PROJECT_ID":             "storage.gcs.project_id",
	"GCS_CREDENTIALS_FILE":       "storage.gcs.credentials_file",
	"SMTP_HOST":                  "smtp.host",
	"SMTP_PORT":                  "smtp.port",
	"SMTP_USERNAME":              "smtp.username",
	"SMTP_PASSWORD":              "smtp.password",
	"SMTP_FROM":                  "smtp.from",
	"SMTP_TIMEOUT":               "smtp.timeout",
	"LOG_FORMAT":                 "log.format",
	"LOG_LEVEL":                  "log.level",
}

// flagKeys maps command-line flags onto config paths. Flags not listed are ignored.
var flagKeys = map[string]string{
	"port":        "server_port",
	"environment": "environment",
	"log-format":  "log.format",
	"log-level":   "log.level",
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment and finally any flags the user set explicitly.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return Config{}, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if strings.TrimSpace(path) != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	for env, key := range envKeys {
		if value, exists := os.LookupEnv(env); exists {
			if err := k.Set(key, value); err != nil {
				return Config{}, fmt.Errorf("set %s: %w", env, err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.KV.Backend = strings.ToLower(strings.TrimSpace(cfg.KV.Backend))
	cfg.MQ.Backend = strings.ToLower(strings.TrimSpace(cfg.MQ.Backend))
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return cfg, nil
}
