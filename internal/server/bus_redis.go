package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans envelopes out to every instance subscribed to the same
// pub/sub channel, this one included.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     *log.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

func NewRedisBus(client *redis.Client, channel string, logger *log.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		log:     logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Printf("redis bus: discarding malformed envelope: %v", err)
					continue
				}
				h(&env)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if err := sub.Close(); err != nil {
			b.log.Printf("redis bus: close subscription: %v", err)
		}
	}
	b.subs = nil
	return nil
}
