// Package engine is the client-side synchronization core. It merges two
// channels with different guarantees — the durable store (source of
// truth, read on demand) and the real-time transport (at-most-once,
// unordered deltas) — into one consistent view per open chat, and emits
// render intents to a RenderSink that owns no business logic.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
	"github.com/mahaj/chatsync/pkg/transport"
)

const (
	defaultTypingDebounce = 2 * time.Second
	defaultTypingExpiry   = 6 * time.Second
)

// Identity is the current user's stable identity, supplied externally
// after authentication completes.
type Identity struct {
	ID       string
	Username string
	Email    string
	Mobile   string
}

// RenderSink consumes the engine's render intents. Implementations render;
// they never decide.
type RenderSink interface {
	// ChatOpened replaces the visible timeline wholesale (chat selection,
	// refresh after a transport gap).
	ChatOpened(chat model.Chat, timeline []model.Message)
	// MessageAppended inserts a message at index in timestamp order.
	MessageAppended(m model.Message, index int)
	// MessageConfirmed replaces the optimistic local echo identified by
	// localID with the store-confirmed record at index.
	MessageConfirmed(localID string, m model.Message, index int)
	// MessageDiscarded drops a local echo whose durable write failed.
	MessageDiscarded(chatID int64, localID string)
	MessageRemoved(chatID, messageID int64)
	// PinnedBanner shows the given message as the pinned banner; nil
	// clears it.
	PinnedBanner(chatID int64, banner *model.Message)
	TypingLine(chatID int64, line string)
	ChatListChanged()
	// Notice surfaces a non-fatal condition to the user.
	Notice(text string)
}

// Confirmer asks the user a yes/no question (pin notification, join
// request approval). It may block.
type Confirmer func(prompt string) bool

type Config struct {
	Self      Identity
	Store     store.Store
	Transport transport.Transport
	Sink      RenderSink
	// Confirm defaults to declining every prompt.
	Confirm Confirmer

	// Overridable for tests.
	TypingDebounce time.Duration
	TypingExpiry   time.Duration
}

// ReplyRef is the composer's pending reply target. Local-only, never
// persisted.
type ReplyRef struct {
	MessageID int64
	Sender    string
	Text      string
}

type typingEntry struct {
	username string
	timer    *time.Timer
}

// openChat is the per-chat state torn down wholesale on chat switch.
type openChat struct {
	chat     model.Chat
	timeline []model.Message
	present  map[int64]bool
	typing   map[string]*typingEntry
}

// Session is the synchronization engine for one signed-in user. A single
// mutex serializes every state mutation across the three event sources
// (local intents, store callbacks, transport callbacks), so handlers run
// to completion before the next one touches the timeline.
type Session struct {
	mu sync.Mutex

	self      Identity
	store     store.Store
	transport transport.Transport
	sink      RenderSink
	confirm   Confirmer

	typingDebounce time.Duration
	typingExpiry   time.Duration

	current      *openChat
	pendingReply *ReplyRef

	typingTimer     *time.Timer
	typingAnnounced bool

	// Cancellation tokens for transport subscriptions and the store live
	// query, revoked on Teardown.
	cancels []func()
	started bool
}

func NewSession(cfg Config) *Session {
	confirm := cfg.Confirm
	if confirm == nil {
		confirm = func(string) bool { return false }
	}
	debounce := cfg.TypingDebounce
	if debounce == 0 {
		debounce = defaultTypingDebounce
	}
	expiry := cfg.TypingExpiry
	if expiry == 0 {
		expiry = defaultTypingExpiry
	}
	return &Session{
		self:           cfg.Self,
		store:          cfg.Store,
		transport:      cfg.Transport,
		sink:           cfg.Sink,
		confirm:        confirm,
		typingDebounce: debounce,
		typingExpiry:   expiry,
	}
}

// Start connects the transport, binds identity, subscribes the event
// handlers and opens the store live query for incoming friend requests.
// A transport that cannot connect is a standing, non-fatal condition:
// intents still persist durably and the session keeps working.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.Validation("session already started")
	}
	s.started = true
	s.mu.Unlock()

	s.subscribe(model.EventMessageReceived, s.onMessageReceived)
	s.subscribe(model.EventMessageUpdate, s.onMessageUpdate)
	s.subscribe(model.EventMessageDelete, s.onMessageDelete)
	s.subscribe(model.EventTypingStarted, s.onTypingStarted)
	s.subscribe(model.EventTypingStopped, s.onTypingStopped)
	s.subscribe(model.EventRequestReceived, s.onJoinReceived)
	s.subscribe(model.EventRequestResponse, s.onJoinResponse)
	s.subscribe(model.EventFriendRequestReceived, s.onFriendRequestReceived)
	s.subscribe(model.EventFriendRequestResponse, s.onFriendRequestResponse)
	s.transport.OnReconnect(s.handleReconnect)

	if err := s.transport.Connect(ctx); err != nil {
		log.Printf("Transport unavailable at start: %v", err)
		s.sink.Notice("Real-time updates unavailable; messages will still be saved")
	} else {
		s.announce()
	}

	cancel, err := s.store.WatchPendingRequests(ctx, s.self.ID, s.onPendingChat)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
	return nil
}

func (s *Session) subscribe(event string, h transport.Handler) {
	cancel := s.transport.On(event, h)
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
}

// announce binds this connection to the user id on the gateway.
func (s *Session) announce() {
	if err := s.transport.Emit(model.EventUserConnect, model.UserConnect{UserID: s.self.ID}); err != nil {
		log.Printf("Failed to announce identity: %v", err)
	}
}

// handleReconnect re-binds identity and re-joins the open chat's room.
// The typing set is reset: stop events missed during the gap can never
// be recovered, so stale state must not survive the reconnect.
func (s *Session) handleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.announce()
	if cur := s.current; cur != nil {
		if err := s.transport.Emit(model.EventChatJoin, cur.chat.ID); err != nil {
			log.Printf("Failed to re-join chat %d: %v", cur.chat.ID, err)
		}
		s.resetTypingLocked(cur)
	}
}

// Teardown revokes every subscription and clears all per-session state.
// This is the explicit logout path; nothing survives it.
func (s *Session) Teardown() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.closeCurrentLocked()
	s.pendingReply = nil
	s.started = false
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// closeCurrentLocked tears down the open chat's private state: timeline,
// typing set and timers. Reset, not incrementally patched.
func (s *Session) closeCurrentLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingAnnounced = false
	if cur := s.current; cur != nil {
		for _, e := range cur.typing {
			e.timer.Stop()
		}
	}
	s.current = nil
}

// Self returns the session's identity context.
func (s *Session) Self() Identity {
	return s.self
}

// CurrentChat returns the open chat, or nil when none is open.
func (s *Session) CurrentChat() *model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	chat := s.current.chat
	chat.Participants = append([]string(nil), chat.Participants...)
	return &chat
}
