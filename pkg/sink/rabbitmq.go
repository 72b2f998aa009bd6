// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Thermoquad/sbsmon/pkg/config"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ publishes snapshots to a topic exchange. The routing key is the
// configured key followed by the battery name, e.g. "telemetry.house".
type RabbitMQ struct {
	conn     *amqp.Connection
	ch       amqpPublisher
	exchange string
	key      string
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ Sink = (*RabbitMQ)(nil)

// NewRabbitMQ connects to the broker and declares the exchange
func NewRabbitMQ(cfg config.RabbitMQConfig, logger *zap.Logger) (*RabbitMQ, error) {
	connURL, masked, err := amqpURL(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("Connecting to RabbitMQ", zap.String("url", masked))
	conn, err := amqp.Dial(connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("Connected to RabbitMQ", zap.String("url", masked), zap.String("exchange", cfg.Exchange))
	r := newRabbitMQ(ch, cfg.Exchange, cfg.RoutingKey, logger)
	r.conn = conn
	return r, nil
}

func newRabbitMQ(ch amqpPublisher, exchange, key string, logger *zap.Logger) *RabbitMQ {
	return &RabbitMQ{ch: ch, exchange: exchange, key: key, logger: logger}
}

// amqpURL applies the virtual host to the URL and returns it together with
// a copy safe for logging
func amqpURL(cfg config.RabbitMQConfig) (string, string, error) {
	uri, err := amqp.ParseURI(cfg.URL)
	if err != nil {
		return "", "", fmt.Errorf("invalid RabbitMQ URL: %w", err)
	}
	if cfg.VirtualHost != "" {
		uri.Vhost = cfg.VirtualHost
	}
	connURL := uri.String()
	uri.Password = "******"
	return connURL, uri.String(), nil
}

func (r *RabbitMQ) Name() string { return config.SinkRabbitMQ }

func (r *RabbitMQ) routingKey(battery string) string {
	if r.key == "" {
		return battery
	}
	return r.key + "." + battery
}

func (r *RabbitMQ) Publish(ctx context.Context, snap sbs.Snapshot) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return fmt.Errorf("rabbitmq sink: closed")
	}

	body, err := encode(snap)
	if err != nil {
		return err
	}

	key := r.routingKey(snap.Battery)
	err = r.ch.PublishWithContext(ctx,
		r.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   snap.Timestamp,
		})
	if err != nil {
		return fmt.Errorf("rabbitmq sink: publish to %s/%s: %w", r.exchange, key, err)
	}

	r.logger.Debug("Published snapshot to RabbitMQ", zap.String("exchange", r.exchange), zap.String("routing_key", key))
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.ch.Close()
	if r.conn != nil {
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
