// Package transport is the ephemeral real-time channel: at-most-once
// delivery, no replay, no ordering guarantee across peers. WSClient talks
// to the gateway service; LoopbackHub wires peers directly in memory.
package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

type Handler func(data json.RawMessage)

type Transport interface {
	Connect(ctx context.Context) error
	// Emit sends an event without waiting for delivery. Returns a
	// TransportUnavailable error while disconnected; the caller's durable
	// path is expected to proceed regardless.
	Emit(event string, data any) error
	// On registers a handler and returns its cancellation func. Handlers
	// must be revoked through the returned func, never re-registered on
	// top of a live one.
	On(event string, h Handler) (cancel func())
	// OnReconnect registers a hook fired after the transport re-establishes
	// a dropped connection. Subscriptions survive the reconnect but any
	// server-side session state (identity bind, room membership) does not.
	OnReconnect(fn func())
	Connected() bool
	Close() error
}

// handlerSet is the subscription registry shared by both implementations:
// cancellation tokens instead of naked repeated registration.
type handlerSet struct {
	mu       sync.Mutex
	handlers map[string]map[int]Handler
	next     int
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[string]map[int]Handler)}
}

func (s *handlerSet) add(event string, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.handlers[event][id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *handlerSet) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

func marshalData(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal transport payload: %v", err)
		return nil, err
	}
	return b, nil
}
