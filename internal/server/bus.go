package server

import (
	"context"
	"sync"
)

// Envelope addresses a frame to a set of connections. A connection is a
// target when it joined one of Rooms, owns one of the personal channels in
// Users, or All is set. Exclusions are applied after the union.
type Envelope struct {
	Rooms       []string       `json:"rooms,omitempty"`
	Users       []string       `json:"users,omitempty"`
	All         bool           `json:"all,omitempty"`
	ExcludeUser string         `json:"excludeUser,omitempty"`
	ExcludeConn string         `json:"excludeConn,omitempty"`
	Frame       *ServerMessage `json:"frame"`
}

type Handler func(env *Envelope)

// Bus carries envelopes to every subscribed chat server instance.
type Bus interface {
	Publish(ctx context.Context, env *Envelope) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// LocalBus delivers envelopes synchronously to in-process subscribers.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, env *Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers {
		h(env)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, h)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = nil
	return nil
}
