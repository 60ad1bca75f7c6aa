package config

const (
	EnvPrefix = "ORDERFLOW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BrokerPubSub = "pubsub"
	BrokerKafka  = "kafka"

	EnvAppEnv   = "ORDERFLOW_APP_ENV"
	EnvPort     = "ORDERFLOW_APP_PORT"
	EnvLogLevel = "ORDERFLOW_LOG_LEVEL"

	EnvDBDSN  = "ORDERFLOW_DB_DSN"
	EnvDBHost = "ORDERFLOW_DB_HOST"
	EnvDBUser = "ORDERFLOW_DB_USER"
	EnvDBName = "ORDERFLOW_DB_NAME"

	EnvRedisURL = "ORDERFLOW_REDIS_URL"

	EnvJWTSecret = "ORDERFLOW_JWT_SECRET"
	EnvJWTIssuer = "ORDERFLOW_JWT_ISSUER"

	EnvEventingBroker = "ORDERFLOW_EVENTING_BROKER"
	EnvKafkaBrokers   = "ORDERFLOW_KAFKA_BROKERS"

	EnvWalletSecret      = "ORDERFLOW_WALLET_SECRET"
	EnvBankWebhookSecret = "ORDERFLOW_BANK_WEBHOOK_SECRET"
	EnvBankQRTTL         = "ORDERFLOW_PAYMENTS_BANK_QR_TTL"

	EnvReconcileInterval = "ORDERFLOW_RECONCILE_INTERVAL_SECONDS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
