package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	CORS         CORSConfig
	MercadoPago  MercadoPagoConfig
	Pix          PixConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.ensureWebhookSecret(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ensureWebhookSecret refuses to start a production profile with permissive
// webhook verification. Dev/test may opt in explicitly.
func (c *Config) ensureWebhookSecret() error {
	if c.MercadoPago.WebhookSecret != "" {
		return nil
	}
	if c.App.IsProd() {
		return fmt.Errorf("%s is required when %s=%s", EnvMPWebhookSecret, EnvAppEnv, AppEnvProd)
	}
	if !c.MercadoPago.AllowInsecureWebhooks {
		return fmt.Errorf("%s is required unless %s=true", EnvMPWebhookSecret, EnvMPAllowInsecure)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"PIXGATE_APP_ENV" required:"true"`
	Port         string `envconfig:"PIXGATE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PIXGATE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PIXGATE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PIXGATE_DB_DSN"`
	Driver string `envconfig:"PIXGATE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PIXGATE_DB_HOST"`
	LegacyPort     int    `envconfig:"PIXGATE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PIXGATE_DB_USER"`
	LegacyPassword string `envconfig:"PIXGATE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PIXGATE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PIXGATE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PIXGATE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PIXGATE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PIXGATE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PIXGATE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PIXGATE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PIXGATE_REDIS_ADDR"`
	Password     string        `envconfig:"PIXGATE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PIXGATE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PIXGATE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PIXGATE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PIXGATE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PIXGATE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PIXGATE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"PIXGATE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type MercadoPagoConfig struct {
	AccessToken           string        `envconfig:"PIXGATE_MP_ACCESS_TOKEN" required:"true"`
	WebhookSecret         string        `envconfig:"PIXGATE_MP_WEBHOOK_SECRET"`
	BaseURL               string        `envconfig:"PIXGATE_MP_BASE_URL" default:"https://api.mercadopago.com"`
	Timeout               time.Duration `envconfig:"PIXGATE_MP_TIMEOUT" default:"10s"`
	AllowInsecureWebhooks bool          `envconfig:"PIXGATE_MP_ALLOW_INSECURE_WEBHOOKS" default:"false"`
	NotificationURL       string        `envconfig:"PIXGATE_MP_NOTIFICATION_URL"`
}

type PixConfig struct {
	Expiry       time.Duration `envconfig:"PIXGATE_PIX_EXPIRY" default:"30m"`
	PollInterval time.Duration `envconfig:"PIXGATE_PIX_POLL_INTERVAL" default:"5s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"PIXGATE_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"PIXGATE_CRON_LOCK_TTL" default:"5m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PIXGATE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PIXGATE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
