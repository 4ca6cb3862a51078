package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	BackendSQLite = "sqlite"
	BackendDynamo = "dynamo"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Changes  ChangesConfig  `yaml:"changes"`
	Media    MediaConfig    `yaml:"media"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Location LocationConfig `yaml:"location"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-default:"*"`
	MaxRequestBytes int           `yaml:"max_request_bytes" env:"HTTP_MAX_REQUEST_BYTES" env-default:"26214400"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type StorageConfig struct {
	Backend  string        `yaml:"backend" env:"STORAGE_BACKEND" env-default:"sqlite"`
	Path     string        `yaml:"path" env:"DB_PATH" env-default:"./data/mapchat.db"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"STORAGE_CACHE_TTL" env-default:"5m"`
	Timeout  time.Duration `yaml:"timeout" env:"STORAGE_TIMEOUT" env-default:"10s"`
	Dynamo   DynamoConfig  `yaml:"dynamo"`
}

type DynamoConfig struct {
	Table    string `yaml:"table" env:"DYNAMO_TABLE" env-default:"mapchat-documents"`
	Region   string `yaml:"region" env:"DYNAMO_REGION" env-default:"us-east-1"`
	Endpoint string `yaml:"endpoint" env:"DYNAMO_ENDPOINT"`
	// CreateTable creates the table on startup when it does not exist.
	CreateTable bool `yaml:"create_table" env:"DYNAMO_CREATE_TABLE"`
}

// ChangesConfig enables cross-process change delivery. An empty URL keeps
// listeners in-process.
type ChangesConfig struct {
	AMQPURL  string `yaml:"amqp_url" env:"AMQP_URL"`
	Exchange string `yaml:"exchange" env:"AMQP_EXCHANGE" env-default:"mapchat.changes"`
}

// MediaConfig enables uploads. An empty bucket disables them.
type MediaConfig struct {
	Bucket        string        `yaml:"bucket" env:"MEDIA_BUCKET"`
	Region        string        `yaml:"region" env:"MEDIA_REGION" env-default:"us-east-1"`
	Endpoint      string        `yaml:"endpoint" env:"MEDIA_ENDPOINT"`
	Prefix        string        `yaml:"prefix" env:"MEDIA_PREFIX" env-default:"chat"`
	PublicBaseURL string        `yaml:"public_base_url" env:"MEDIA_PUBLIC_BASE_URL"`
	URLExpiry     time.Duration `yaml:"url_expiry" env:"MEDIA_URL_EXPIRY" env-default:"168h"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL       time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL" env-default:"24h"`
	AppleClientID  string        `yaml:"apple_client_id" env:"APPLE_CLIENT_ID"`
	GoogleClientID string        `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID"`
	// DevProvider accepts "dev" sign-ins without a real identity provider.
	DevProvider bool `yaml:"dev_provider" env:"AUTH_DEV_PROVIDER"`
}

type ChatConfig struct {
	// EncryptionKey is a base64 chacha20poly1305 key. Empty stores messages in the clear.
	EncryptionKey string `yaml:"encryption_key" env:"CHAT_ENCRYPTION_KEY"`
}

type LocationConfig struct {
	FixTimeout time.Duration `yaml:"fix_timeout" env:"LOCATION_FIX_TIMEOUT" env-default:"2s"`
}

type TracingConfig struct {
	// OTLPEndpoint is a host:port of an OTLP gRPC collector. Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool   `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"mapchat-syncd"`
}

// MustLoad loads .env if present, then the config file named by -config or
// CONFIG_PATH. Without a file the configuration comes from the environment.
func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	return cfg
}

// MustLoadPath is MustLoad for a known path.
func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	return cfg
}

// Load reads configPath, or only the environment when configPath is empty.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
	} else if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.StringVar(&res, "config", "", "path to config file")
	_ = fs.Parse(os.Args[1:])

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}
	switch c.Storage.Backend {
	case BackendSQLite, BackendDynamo:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Auth.JWTSecret == "" {
		if c.Env == EnvProd {
			return errors.New("auth.jwt_secret is required in prod")
		}
		c.Auth.JWTSecret = "local-development-secret"
	}
	if c.Env == EnvProd && c.Auth.DevProvider {
		return errors.New("auth.dev_provider cannot be enabled in prod")
	}
	return nil
}

// MediaEnabled reports whether uploads are configured.
func (c *Config) MediaEnabled() bool {
	return c.Media.Bucket != ""
}
