package events

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// InitRabbitMQ dials the broker with retry logic. It returns nil once
// the retries are exhausted so callers can fall back to the audit log
// instead of refusing to start.
func InitRabbitMQ() *amqp.Connection {
	url := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		viper.GetString("rabbitmq.user"),
		viper.GetString("rabbitmq.password"),
		viper.GetString("rabbitmq.host"),
		viper.GetString("rabbitmq.port"),
	)

	maxRetries := 10
	retryDelay := 3 * time.Second

	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			logrus.Infof("[EVENTS] Connected to RabbitMQ at %s", viper.GetString("rabbitmq.host"))
			return conn
		}

		if i < maxRetries-1 {
			logrus.Warnf("[EVENTS] Failed to connect to RabbitMQ (attempt %d/%d): %v. Retrying in %v...",
				i+1, maxRetries, err, retryDelay)
			time.Sleep(retryDelay)
		}
	}

	logrus.Errorf("[EVENTS] Failed to connect to RabbitMQ after %d attempts: %v. Continuing with audit-log publishing.",
		maxRetries, err)
	return nil
}
