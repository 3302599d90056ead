package events

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Publisher carries domain events to the audit stream. Publishing
// happens after the owning database transaction commits; a lost event
// is an observability gap, never a ledger inconsistency.
type Publisher interface {
	Publish(event Event) error
	Close() error
}

// AMQPPublisher publishes events onto a durable RabbitMQ queue.
type AMQPPublisher struct {
	channel *amqp.Channel
	queue   string
}

// NewAMQPPublisher opens a channel on an established broker connection.
func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection not initialized")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &AMQPPublisher{
		channel: ch,
		queue:   viper.GetString("rabbitmq.queue"),
	}, nil
}

// Publish declares the queue and sends the event as a persistent
// JSON message.
func (p *AMQPPublisher) Publish(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	_, err := p.channel.QueueDeclare(
		p.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.Publish(
		"",      // exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	logrus.Infof("[EVENTS] Published %s to queue %s", event.EventType, p.queue)
	return nil
}

// Close closes the publisher channel.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

// LogPublisher writes events to the audit log. It backs deployments
// that run without a broker.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	logrus.Infof("AUDIT: %s", string(data))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
