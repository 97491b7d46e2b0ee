package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
)

// LoopbackHub connects peers in memory with the same routing rules the
// gateway applies: room broadcast for chat-scoped events, user-addressed
// delivery for request/response events. Delivery is asynchronous and
// at-most-once, matching the real channel's guarantees.
type LoopbackHub struct {
	mu    sync.Mutex
	peers map[string]*LoopbackPeer
	rooms map[int64]map[string]bool
}

func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{
		peers: make(map[string]*LoopbackPeer),
		rooms: make(map[int64]map[string]bool),
	}
}

// Peer registers a transport endpoint for the given user.
func (h *LoopbackHub) Peer(userID string) *LoopbackPeer {
	p := &LoopbackPeer{
		hub:    h,
		userID: userID,
		subs:   newHandlerSet(),
		queue:  make(chan model.Envelope, 64),
	}
	h.mu.Lock()
	h.peers[userID] = p
	h.mu.Unlock()
	return p
}

func (h *LoopbackHub) join(userID string, chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// One room per peer, the open chat.
	for _, members := range h.rooms {
		delete(members, userID)
	}
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[string]bool)
	}
	h.rooms[chatID][userID] = true
}

func (h *LoopbackHub) toRoom(chatID int64, except string, event string, data json.RawMessage) {
	h.mu.Lock()
	var targets []*LoopbackPeer
	for userID := range h.rooms[chatID] {
		if userID == except {
			continue
		}
		if p, ok := h.peers[userID]; ok {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()
	for _, p := range targets {
		p.enqueue(event, data)
	}
}

func (h *LoopbackHub) toUser(userID, event string, data json.RawMessage) {
	h.mu.Lock()
	p, ok := h.peers[userID]
	h.mu.Unlock()
	if ok {
		p.enqueue(event, data)
	}
}

// route mirrors the gateway's event switch.
func (h *LoopbackHub) route(from *LoopbackPeer, event string, data json.RawMessage) {
	switch event {
	case model.EventUserConnect:
		// Identity is bound at Peer creation in the loopback.

	case model.EventChatJoin:
		var chatID int64
		if err := json.Unmarshal(data, &chatID); err != nil {
			log.Printf("loopback: bad chat:join payload: %v", err)
			return
		}
		h.join(from.userID, chatID)

	case model.EventMessageSend:
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		h.toRoom(m.ChatID, from.userID, model.EventMessageReceived, data)

	case model.EventTypingStart:
		var t model.TypingEvent
		if err := json.Unmarshal(data, &t); err != nil {
			return
		}
		out, _ := json.Marshal(model.TypingNotice{ChatID: t.ChatID, UserID: t.UserID, Username: t.Username})
		h.toRoom(t.ChatID, from.userID, model.EventTypingStarted, out)

	case model.EventTypingStop:
		var t model.TypingEvent
		if err := json.Unmarshal(data, &t); err != nil {
			return
		}
		out, _ := json.Marshal(model.TypingNotice{ChatID: t.ChatID, UserID: t.UserID})
		h.toRoom(t.ChatID, from.userID, model.EventTypingStopped, out)

	case model.EventMessageUpdate:
		var u model.MessageUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return
		}
		h.toRoom(u.ChatID, from.userID, model.EventMessageUpdate, data)

	case model.EventMessageDelete:
		var d model.MessageDelete
		if err := json.Unmarshal(data, &d); err != nil {
			return
		}
		h.toRoom(d.ChatID, from.userID, model.EventMessageDelete, data)

	case model.EventRequestJoin:
		var r model.JoinRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return
		}
		out, _ := json.Marshal(model.JoinReceived{ChatID: r.ChatID, RequesterID: r.UserID})
		h.toRoom(r.ChatID, from.userID, model.EventRequestReceived, out)

	case model.EventRequestRespond:
		var r model.JoinRespond
		if err := json.Unmarshal(data, &r); err != nil {
			return
		}
		out, _ := json.Marshal(model.JoinResponse{ChatID: r.ChatID, Status: r.Accept})
		h.toUser(r.RequesterID, model.EventRequestResponse, out)

	case model.EventFriendRequestSend:
		var f model.FriendRequest
		if err := json.Unmarshal(data, &f); err != nil {
			return
		}
		h.toUser(f.RecipientID, model.EventFriendRequestReceived, data)

	case model.EventFriendRequestRespond:
		var f model.FriendResponse
		if err := json.Unmarshal(data, &f); err != nil {
			return
		}
		h.toUser(f.RequesterID, model.EventFriendRequestResponse, data)
	}
}

// LoopbackPeer implements Transport for one user.
type LoopbackPeer struct {
	hub    *LoopbackHub
	userID string
	subs   *handlerSet
	queue  chan model.Envelope

	mu           sync.Mutex
	connected    bool
	started      bool
	closed       bool
	reconnectFns []func()
}

func (p *LoopbackPeer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperrors.TransportUnavailable("peer closed")
	}
	p.connected = true
	if !p.started {
		p.started = true
		go p.dispatchLoop()
	}
	return nil
}

func (p *LoopbackPeer) dispatchLoop() {
	for env := range p.queue {
		p.subs.dispatch(env.Event, env.Data)
	}
}

func (p *LoopbackPeer) enqueue(event string, data json.RawMessage) {
	p.mu.Lock()
	connected := p.connected && !p.closed
	p.mu.Unlock()
	if !connected {
		// At-most-once: events sent while disconnected are simply lost.
		return
	}
	select {
	case p.queue <- model.Envelope{Event: event, Data: data}:
	default:
	}
}

func (p *LoopbackPeer) Emit(event string, data any) error {
	p.mu.Lock()
	connected := p.connected && !p.closed
	p.mu.Unlock()
	if !connected {
		return apperrors.TransportUnavailable("not connected, %s not broadcast", event)
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	p.hub.route(p, event, raw)
	return nil
}

func (p *LoopbackPeer) On(event string, h Handler) (cancel func()) {
	return p.subs.add(event, h)
}

func (p *LoopbackPeer) OnReconnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnectFns = append(p.reconnectFns, fn)
}

func (p *LoopbackPeer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && !p.closed
}

// Drop simulates a lost connection: emits fail and deliveries are lost
// until Reconnect.
func (p *LoopbackPeer) Drop() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

// Reconnect restores the connection and fires the reconnect hooks, the
// way WSClient does after a successful redial.
func (p *LoopbackPeer) Reconnect() {
	p.mu.Lock()
	p.connected = true
	fns := append([]func(){}, p.reconnectFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Deliver injects a raw server->client event, bypassing routing. Tests
// use it to replay duplicates and out-of-order deltas.
func (p *LoopbackPeer) Deliver(event string, data any) {
	raw, err := marshalData(data)
	if err != nil {
		return
	}
	p.enqueue(event, raw)
}

func (p *LoopbackPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	return nil
}
