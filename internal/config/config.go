package config

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Init wires configuration from the .env file and the process
// environment. Every binary calls it once before touching viper.
func Init() {
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.skip_migrations", "DATABASE_SKIP_MIGRATIONS")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	viper.BindEnv("rabbitmq.password", "RABBITMQ_PASSWORD")
	viper.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	viper.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	viper.BindEnv("rabbitmq.queue", "RABBITMQ_QUEUE")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("token.bridge_url", "TOKEN_BRIDGE_URL")
	viper.BindEnv("ledger.system_account", "LEDGER_SYSTEM_ACCOUNT")

	viper.BindEnv("access.guardians", "ACCESS_GUARDIANS")
	viper.BindEnv("access.servers", "ACCESS_SERVERS")
	viper.BindEnv("access.trusted", "ACCESS_TRUSTED")

	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", "5672")
	viper.SetDefault("rabbitmq.queue", "platform.events")
	viper.SetDefault("token.bridge_url", "http://localhost:9090")
	viper.SetDefault("ledger.system_account", "SYSTEM")

	if err := viper.ReadInConfig(); err != nil {
		logrus.Warnf("Config file not found, using defaults: %v", err)
	}
}
