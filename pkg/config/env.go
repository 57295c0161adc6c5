package config

const (
	EnvPrefix = "INVENTRACK"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:inventrack.db?cache=shared&_busy_timeout=5000"
	minTokenBytes    = 16
)

const (
	EnvAppEnv = "INVENTRACK_APP_ENV"
	EnvPort   = "INVENTRACK_APP_PORT"

	EnvDBDSN    = "INVENTRACK_DB_DSN"
	EnvDBDriver = "INVENTRACK_DB_DRIVER"
	EnvDBHost   = "INVENTRACK_DB_HOST"
	EnvDBUser   = "INVENTRACK_DB_USER"
	EnvDBName   = "INVENTRACK_DB_NAME"

	EnvRedisURL = "INVENTRACK_REDIS_URL"

	EnvRefreshTokenTTL     = "INVENTRACK_REFRESH_TOKEN_TTL"
	EnvRefreshTokenBytes   = "INVENTRACK_REFRESH_TOKEN_BYTES"
	EnvRefreshTokenHashKey = "INVENTRACK_REFRESH_TOKEN_HASH_KEY"
	EnvRevokeChainOnReuse  = "INVENTRACK_REVOKE_CHAIN_ON_REUSE"

	EnvLedgerMaxAttempts = "INVENTRACK_LEDGER_MAX_ATTEMPTS"
	EnvCronInterval      = "INVENTRACK_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
