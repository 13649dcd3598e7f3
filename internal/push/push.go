// Package push fans swap lifecycle events out to interested clients over
// Redis pub/sub. Delivery is fire-and-forget: a publish failure is logged
// and never surfaces to the request that caused the event.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Notifier publishes an event to everyone subscribed to a room.
type Notifier interface {
	Publish(ctx context.Context, room, event string, payload any)
}

// UserRoom is the private room each member's clients join after login.
func UserRoom(userID string) string {
	return "user_" + userID
}

// SwapRoom is shared by both participants of a swap for chat delivery.
func SwapRoom(swapID string) string {
	return "swap_" + swapID
}

// Envelope is the wire format published on room channels.
type Envelope struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisNotifier publishes envelopes on "room:<name>" channels. A gateway
// process subscribes and forwards them to connected websockets.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisNotifierWithClient(client), nil
}

func NewRedisNotifierWithClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Channel returns the pub/sub channel name for a room.
func Channel(room string) string {
	return "room:" + room
}

func (n *RedisNotifier) Publish(ctx context.Context, room, event string, payload any) {
	data, err := json.Marshal(Envelope{Event: event, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		log.Printf("push: marshal %s event: %v", event, err)
		return
	}
	if err := n.client.Publish(ctx, Channel(room), data).Err(); err != nil {
		log.Printf("push: publish %s to %s: %v", event, room, err)
	}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Noop satisfies Notifier when Redis is unavailable or disabled.
type Noop struct{}

func (Noop) Publish(ctx context.Context, room, event string, payload any) {}
