package config

// EnvPrefix is passed to envconfig; individual fields carry fully prefixed
// names so the prefix stays empty here.
const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvTest = "test"
	AppEnvProd = "production"
)

const (
	EnvAppEnv          = "PIXGATE_APP_ENV"
	EnvDBDSN           = "PIXGATE_DB_DSN"
	EnvDBHost          = "PIXGATE_DB_HOST"
	EnvDBUser          = "PIXGATE_DB_USER"
	EnvDBName          = "PIXGATE_DB_NAME"
	EnvMPWebhookSecret = "PIXGATE_MP_WEBHOOK_SECRET"
	EnvMPAllowInsecure = "PIXGATE_MP_ALLOW_INSECURE_WEBHOOKS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
