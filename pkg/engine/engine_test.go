package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
	"github.com/mahaj/chatsync/pkg/transport"
)

const (
	testDebounce = 40 * time.Millisecond
	testExpiry   = 120 * time.Millisecond

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recordingSink captures every render intent for assertions.
type recordingSink struct {
	mu          sync.Mutex
	opened      []model.Chat
	appended    []model.Message
	confirmed   []model.Message
	discarded   []string
	removed     []int64
	banners     []*model.Message
	typingLines []string
	listChanges int
	notices     []string
}

func (r *recordingSink) ChatOpened(chat model.Chat, timeline []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, chat)
}

func (r *recordingSink) MessageAppended(m model.Message, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, m)
}

func (r *recordingSink) MessageConfirmed(localID string, m model.Message, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, m)
}

func (r *recordingSink) MessageDiscarded(chatID int64, localID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, localID)
}

func (r *recordingSink) MessageRemoved(chatID, messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, messageID)
}

func (r *recordingSink) PinnedBanner(chatID int64, banner *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if banner != nil {
		b := *banner
		banner = &b
	}
	r.banners = append(r.banners, banner)
}

func (r *recordingSink) TypingLine(chatID int64, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typingLines = append(r.typingLines, line)
}

func (r *recordingSink) ChatListChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listChanges++
}

func (r *recordingSink) Notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *recordingSink) lastBanner() *model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.banners) == 0 {
		return nil
	}
	return r.banners[len(r.banners)-1]
}

func (r *recordingSink) lastTypingLine() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.typingLines) == 0 {
		return ""
	}
	return r.typingLines[len(r.typingLines)-1]
}

func (r *recordingSink) nonEmptyTypingLines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.typingLines {
		if l != "" {
			n++
		}
	}
	return n
}

func (r *recordingSink) discardedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.discarded)
}

func (r *recordingSink) appendedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.appended)
}

func (r *recordingSink) hasNotice(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

// harness wires sessions together through a shared in-memory store and
// a loopback hub that mirrors the gateway's routing.
type harness struct {
	t     *testing.T
	store *store.MemoryStore
	hub   *transport.LoopbackHub
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, store: store.NewMemoryStore(), hub: transport.NewLoopbackHub()}
}

func (h *harness) user(id string) {
	err := h.store.CreateUser(context.Background(), &model.User{
		ID:       id,
		Username: id,
		Email:    id + "@example.com",
	})
	require.NoError(h.t, err)
}

func (h *harness) session(id string, confirm Confirmer) (*Session, *recordingSink, *transport.LoopbackPeer) {
	sink := &recordingSink{}
	peer := h.hub.Peer(id)
	s := NewSession(Config{
		Self:           Identity{ID: id, Username: id},
		Store:          h.store,
		Transport:      peer,
		Sink:           sink,
		Confirm:        confirm,
		TypingDebounce: testDebounce,
		TypingExpiry:   testExpiry,
	})
	require.NoError(h.t, s.Start(context.Background()))
	h.t.Cleanup(s.Teardown)
	return s, sink, peer
}

// sessionWithStore is session with the shared store swapped for a
// wrapper, used to interleave store calls deterministically.
func (h *harness) sessionWithStore(id string, st store.Store) (*Session, *recordingSink) {
	sink := &recordingSink{}
	s := NewSession(Config{
		Self:           Identity{ID: id, Username: id},
		Store:          st,
		Transport:      h.hub.Peer(id),
		Sink:           sink,
		TypingDebounce: testDebounce,
		TypingExpiry:   testExpiry,
	})
	require.NoError(h.t, s.Start(context.Background()))
	h.t.Cleanup(s.Teardown)
	return s, sink
}

// activeDM creates an established direct chat between two users.
func (h *harness) activeDM(a, b string) int64 {
	chat := &model.Chat{
		Type:         model.ChatDM,
		Participants: []string{a, b},
		CreatorID:    a,
		Status:       model.StatusActive,
	}
	require.NoError(h.t, h.store.CreateChat(context.Background(), chat))
	return chat.ID
}
