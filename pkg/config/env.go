package config

const (
	EnvPrefix = "PAYRECON"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "PAYRECON_APP_ENV"
	EnvPort     = "PAYRECON_APP_PORT"
	EnvLogLevel = "PAYRECON_LOG_LEVEL"

	EnvDBDSN  = "PAYRECON_DB_DSN"
	EnvDBHost = "PAYRECON_DB_HOST"
	EnvDBUser = "PAYRECON_DB_USER"
	EnvDBName = "PAYRECON_DB_NAME"

	EnvRedisURL = "PAYRECON_REDIS_URL"

	EnvLockBackend = "PAYRECON_LOCK_BACKEND"

	EnvGatewayEnabled    = "PAYRECON_GATEWAY_ENABLED"
	EnvGatewayMerchantID = "PAYRECON_GATEWAY_MERCHANT_ID"
	EnvGatewaySecret     = "PAYRECON_GATEWAY_SECRET"
	EnvGatewayBaseURL    = "PAYRECON_GATEWAY_BASE_URL"
	EnvGatewayCallback   = "PAYRECON_GATEWAY_CALLBACK_URL"

	EnvPollingInterval    = "PAYRECON_POLLING_INTERVAL"
	EnvPollingMaxAttempts = "PAYRECON_POLLING_MAX_ATTEMPTS"

	EnvGCPProjectID       = "PAYRECON_GCP_PROJECT_ID"
	EnvPubSubPaymentTopic = "PAYRECON_PUBSUB_PAYMENT_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)
