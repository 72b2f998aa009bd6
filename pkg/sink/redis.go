// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Thermoquad/sbsmon/pkg/config"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
)

// Redis keeps the latest snapshot of each battery in a hash
// (<key_prefix><battery>) and publishes the JSON snapshot on a channel.
type Redis struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
	logger  *zap.Logger
}

var _ Sink = (*Redis)(nil)

// NewRedis connects and pings the server
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &Redis{
		client:  client,
		prefix:  cfg.KeyPrefix,
		channel: cfg.Channel,
		ttl:     cfg.TTL,
		logger:  logger,
	}, nil
}

func (r *Redis) Name() string { return config.SinkRedis }

// Key returns the hash key for a battery
func (r *Redis) Key(battery string) string {
	return r.prefix + battery
}

func (r *Redis) Publish(ctx context.Context, snap sbs.Snapshot) error {
	key := r.Key(snap.Battery)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, snapshotFields(snap))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if r.channel != "" {
		body, err := encode(snap)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, r.channel, body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sink: write %s: %w", key, err)
	}
	return nil
}

// Commands subscribes to a channel carrying control state names such as
// "CHARGE". The returned cancel function closes the subscription.
func (r *Redis) Commands(ctx context.Context, channel string) (<-chan string, func()) {
	pubsub := r.client.Subscribe(ctx, channel)
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { pubsub.Close() }
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// snapshotFields flattens a snapshot into hash fields
func snapshotFields(snap sbs.Snapshot) map[string]any {
	cells := make([]string, len(snap.CellVoltages))
	for i, v := range snap.CellVoltages {
		cells[i] = strconv.Itoa(int(v))
	}
	balancing := make([]string, len(snap.BalancingCells))
	for i, c := range snap.BalancingCells {
		balancing[i] = strconv.Itoa(c)
	}

	return map[string]any{
		"timestamp":            snap.Timestamp.UTC().Format(time.RFC3339Nano),
		"pack-voltage":         strconv.FormatFloat(snap.PackVoltage, 'f', -1, 64),
		"pack-current":         strconv.FormatFloat(snap.PackCurrent, 'f', -1, 64),
		"state":                snap.State,
		"state-code":           int(snap.StateCode),
		"state-of-charge":      int(snap.StateOfCharge),
		"state-of-health":      strconv.FormatFloat(snap.StateOfHealth, 'f', -1, 64),
		"remaining-capacity":   int(snap.RemainingCapacity),
		"full-capacity":        int(snap.FullCapacity),
		"error-active":         strconv.FormatBool(snap.ErrorActive),
		"errors":               strings.Join(snap.Errors, ","),
		"charge-plug-detected": strconv.FormatBool(snap.ChargePlugDetected),
		"cell-voltages":        strings.Join(cells, ","),
		"balancing-cells":      strings.Join(balancing, ","),
		"temp-powerstage-1":    int(snap.TempPowerstage1),
		"temp-powerstage-2":    int(snap.TempPowerstage2),
		"temp-mcu":             int(snap.TempMCU),
		"temp-cell-1":          int(snap.TempCell1),
		"temp-cell-2":          int(snap.TempCell2),
	}
}
