// Package relay fans room messages out between server instances over Redis
// pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

// Envelope is what travels on the channel. Origin identifies the publishing
// instance so it can skip its own messages.
type Envelope struct {
	Origin  string          `json:"origin"`
	RoomID  string          `json:"room_id"`
	Message json.RawMessage `json:"message"`
}

type Redis struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(redisURL, channel, origin string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, channel, origin), nil
}

func NewRedisWithClient(client *redis.Client, channel, origin string) *Redis {
	return &Redis{
		client:  client,
		channel: channel,
		origin:  origin,
	}
}

func (r *Redis) Origin() string {
	return r.origin
}

func (r *Redis) Publish(ctx context.Context, roomID string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}

	data, err := json.Marshal(Envelope{
		Origin:  r.origin,
		RoomID:  roomID,
		Message: payload,
	})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe starts delivering envelopes published by other instances to
// handle. It returns once the subscription is confirmed; delivery stops when
// ctx is done.
func (r *Redis) Subscribe(ctx context.Context, handle func(Envelope)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					glog.Warningf("relay: dropping malformed envelope: %v", err)
					continue
				}
				if env.Origin == r.origin {
					continue
				}
				handle(env)
			}
		}
	}()

	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
