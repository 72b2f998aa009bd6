// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Thermoquad/sbsmon/pkg/config"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes each snapshot as a JSON message keyed by battery name, so
// all snapshots of one battery land in the same partition.
type Kafka struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

var _ Sink = (*Kafka)(nil)

// NewKafka creates a Kafka sink. Connections are made lazily on the first
// write.
func NewKafka(cfg config.KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink: no topic configured")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Info("Initialized Kafka sink", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return newKafka(w, cfg.Topic, logger), nil
}

func newKafka(w messageWriter, topic string, logger *zap.Logger) *Kafka {
	return &Kafka{writer: w, topic: topic, logger: logger}
}

func (k *Kafka) Name() string { return config.SinkKafka }

func (k *Kafka) Publish(ctx context.Context, snap sbs.Snapshot) error {
	body, err := encode(snap)
	if err != nil {
		return err
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(snap.Battery),
		Value: body,
		Time:  snap.Timestamp,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka sink: write to %s: %w", k.topic, err)
	}

	k.logger.Debug("Produced snapshot to Kafka", zap.String("topic", k.topic), zap.String("key", snap.Battery))
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
