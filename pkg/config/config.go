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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Tokens       TokensConfig
	Ledger       LedgerConfig
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
	if err := cfg.Tokens.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"INVENTRACK_APP_ENV" required:"true"`
	Port         string `envconfig:"INVENTRACK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"INVENTRACK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INVENTRACK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"INVENTRACK_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"INVENTRACK_DB_DSN"`
	Driver string `envconfig:"INVENTRACK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"INVENTRACK_DB_HOST"`
	LegacyPort     int    `envconfig:"INVENTRACK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"INVENTRACK_DB_USER"`
	LegacyPassword string `envconfig:"INVENTRACK_DB_PASSWORD"`
	LegacyName     string `envconfig:"INVENTRACK_DB_NAME"`
	LegacySSLMode  string `envconfig:"INVENTRACK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INVENTRACK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INVENTRACK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INVENTRACK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INVENTRACK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected (local runs and tests).
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"INVENTRACK_REDIS_URL"`
	Address      string        `envconfig:"INVENTRACK_REDIS_ADDR"`
	Password     string        `envconfig:"INVENTRACK_REDIS_PASSWORD"`
	DB           int           `envconfig:"INVENTRACK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INVENTRACK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INVENTRACK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INVENTRACK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INVENTRACK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INVENTRACK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type TokensConfig struct {
	RefreshTTL         time.Duration `envconfig:"INVENTRACK_REFRESH_TOKEN_TTL" default:"720h"`
	TokenBytes         int           `envconfig:"INVENTRACK_REFRESH_TOKEN_BYTES" default:"32"`
	HashKey            string        `envconfig:"INVENTRACK_REFRESH_TOKEN_HASH_KEY" required:"true"`
	RevokeChainOnReuse bool          `envconfig:"INVENTRACK_REVOKE_CHAIN_ON_REUSE" default:"true"`
}

func (t TokensConfig) validate() error {
	if t.RefreshTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvRefreshTokenTTL)
	}
	if t.TokenBytes < minTokenBytes {
		return fmt.Errorf("%s must be at least %d", EnvRefreshTokenBytes, minTokenBytes)
	}
	// blake2b keys are capped at 64 bytes
	if n := len(t.HashKey); n == 0 || n > 64 {
		return fmt.Errorf("%s must be between 1 and 64 bytes", EnvRefreshTokenHashKey)
	}
	return nil
}

type LedgerConfig struct {
	MaxAttempts int `envconfig:"INVENTRACK_LEDGER_MAX_ATTEMPTS" default:"3"`
}

type CronConfig struct {
	Interval      time.Duration `envconfig:"INVENTRACK_CRON_INTERVAL" default:"1h"`
	LockTTL       time.Duration `envconfig:"INVENTRACK_CRON_LOCK_TTL" default:"50m"`
	LowStockBatch int           `envconfig:"INVENTRACK_CRON_LOW_STOCK_BATCH" default:"500"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"INVENTRACK_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = defaultSQLiteDSN
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
