/**
 * @description
 * This file implements the publishing side of the settlement message flow.
 * The ledger server publishes settlement requests to a durable topic
 * exchange; routing keys carry the transfer type so the worker can bind
 * per-type handlers.
 *
 * Publish failures here are never fatal to the ledger decision: the
 * dispatcher logs and moves on, and the re-scan job re-dispatches anything
 * that never reached the worker.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish
// settlement messages.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// Producer publishes settlement messages over a single AMQP channel.
type Producer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// FallbackPublisher is the no-op publisher installed when RabbitMQ is
// unreachable at startup. Skipped publishes are logged; the re-scan job
// picks those settlements up once the broker is back.
type FallbackPublisher struct{}

func (p *FallbackPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=settlement_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *FallbackPublisher) Close() {}

// sanitizeAMQPURL strips quoting and stray prefixes that tend to leak into
// broker URLs through env files, then validates the scheme.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
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

// NewProducer dials the broker and opens the publishing channel. The dial is
// bounded so a down broker cannot hang server startup.
func NewProducer(amqpURL string) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Producer{conn: conn, channel: ch}, nil
}

// Publish sends a JSON message to the exchange under the routing key. A
// broker error closes the AMQP channel, so the failed attempt is retried
// once on a fresh channel before the error is surfaced to the caller.
func (p *Producer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=settlement_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	firstErr := p.publishOnce(ctx, exchange, routingKey, jsonBody)
	if firstErr == nil {
		return nil
	}
	log.Printf("level=warn component=settlement_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, firstErr)

	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.publishOnce(ctx, exchange, routingKey, jsonBody)
}

// publishOnce declares the durable topic exchange and publishes on the
// current channel. Declaration is idempotent and keeps publishing safe
// against broker restarts that dropped the exchange.
func (p *Producer) publishOnce(ctx context.Context, exchange, routingKey string, jsonBody []byte) error {
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	})
}

// Close shuts down the channel and connection.
func (p *Producer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
