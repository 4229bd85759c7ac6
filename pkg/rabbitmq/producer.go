/**
 * @description
 * This package provides the RabbitMQ plumbing for the usage-service: a producer
 * that publishes usage telemetry events (recorded usage, quota denials,
 * degraded-mode signals, audit gaps) and a consumer for inbound billing events.
 *
 * Key features:
 * - Manages the AMQP connection and channel.
 * - Declares a durable topic exchange once at construction, so every publish
 *   is a single channel call.
 * - Provides a `Publish` method that marshals a Go struct into JSON and sends it.
 *
 * @dependencies
 * - context, encoding/json: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The official Go client for RabbitMQ.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/rabbitmq/amqp091-go"
)

// EventProducer publishes events to a topic exchange.
type EventProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer connects to RabbitMQ and declares the topic exchange all
// events are published through.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// Topic exchanges route on patterns (e.g. "usage.*"), which lets the
	// analytics and alerting consumers bind independently.
	if err := channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return &EventProducer{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

// Publish marshals the body into JSON and sends it with the given routing key.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        jsonBody,
		})
}

// Close gracefully closes the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
