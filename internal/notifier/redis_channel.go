package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// PubSub is the raw message transport under RedisChannel.
type PubSub interface {
	Publish(ctx context.Context, channel string, msg []byte) error
	Subscribe(ctx context.Context, channel string, handle func([]byte)) error
}

type relayMessage struct {
	Origin string          `json:"origin"`
	Group  string          `json:"group"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// RedisChannel shares events between replicas over a pub/sub channel.
// Publishing goes through a circuit breaker so a Redis outage fails fast.
type RedisChannel struct {
	pubsub  PubSub
	channel string
	origin  string
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *observability.Metrics
	logger  zerolog.Logger
}

type RedisChannelConfig struct {
	Channel string
	// Origin identifies this replica. Relay skips messages it published.
	Origin           string
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

func NewRedisChannel(pubsub PubSub, cfg RedisChannelConfig, metrics *observability.Metrics, logger zerolog.Logger) *RedisChannel {
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	r := &RedisChannel{
		pubsub:  pubsub,
		channel: cfg.Channel,
		origin:  cfg.Origin,
		metrics: metrics,
		logger:  observability.Component(logger, "redis_channel"),
	}

	threshold := cfg.BreakerThreshold
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "redis-notify",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			if r.metrics != nil {
				r.metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			}
		},
	})
	return r
}

func (r *RedisChannel) Publish(ctx context.Context, group, event string, payload []byte) error {
	msg, err := json.Marshal(relayMessage{Origin: r.origin, Group: group, Event: event, Data: payload})
	if err != nil {
		return err
	}

	_, err = r.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, r.pubsub.Publish(ctx, r.channel, msg)
	})
	r.observe(err)
	if err != nil {
		return fmt.Errorf("redis channel publish: %w", err)
	}
	return nil
}

// Relay delivers events published by other replicas to local. It blocks
// until ctx is done or the subscription fails.
func (r *RedisChannel) Relay(ctx context.Context, local Channel) error {
	r.logger.Info().Str("channel", r.channel).Msg("relaying notifications from peers")
	return r.pubsub.Subscribe(ctx, r.channel, func(raw []byte) {
		var msg relayMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			r.logger.Warn().Err(err).Msg("ignoring malformed relay message")
			return
		}
		if msg.Origin == r.origin {
			return
		}
		if err := local.Publish(ctx, msg.Group, msg.Event, msg.Data); err != nil {
			r.logger.Warn().Err(err).Str("group", msg.Group).Msg("failed to deliver relayed notification")
		}
	})
}

// State exposes the breaker state.
func (r *RedisChannel) State() gobreaker.State {
	return r.breaker.State()
}

func (r *RedisChannel) observe(err error) {
	if r.metrics == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	r.metrics.CircuitBreakerRequests.WithLabelValues(r.breaker.Name(), result).Inc()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
