package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/snowflake"
)

// MemoryStore implements Store in memory. It backs the engine tests and
// doubles as an executable description of the store contract.
type MemoryStore struct {
	mu       sync.Mutex
	node     *snowflake.Node
	users    map[string]model.User
	chats    map[int64]model.Chat
	messages map[int64][]model.Message

	watchers []*pendingWatcher
}

type pendingWatcher struct {
	userID    string
	fn        func(model.Chat)
	seen      map[int64]bool
	cancelled bool
}

func NewMemoryStore() *MemoryStore {
	node, err := snowflake.NewNode(0)
	if err != nil {
		panic(err)
	}
	return &MemoryStore{
		node:     node,
		users:    make(map[string]model.User),
		chats:    make(map[int64]model.Chat),
		messages: make(map[int64][]model.Message),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return apperrors.Conflict("email %s already registered", u.Email)
		}
		if existing.Username == u.Username {
			return apperrors.Conflict("username %s already taken", u.Username)
		}
		if u.Mobile != "" && existing.Mobile == u.Mobile {
			return apperrors.Conflict("mobile %s already registered", u.Mobile)
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user %s not found", id)
	}
	return &u, nil
}

func (s *MemoryStore) FindUserByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == identifier || u.Username == identifier || (u.Mobile != "" && u.Mobile == identifier) {
			u := u
			return &u, nil
		}
	}
	return nil, apperrors.NotFound("no user matches %s", identifier)
}

func (s *MemoryStore) SearchUsers(ctx context.Context, term, selfID string) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	term = strings.ToLower(term)
	var out []model.User
	for _, u := range s.users {
		if u.ID == selfID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), term) ||
			(u.Mobile != "" && strings.Contains(u.Mobile, term)) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperrors.NotFound("user %s not found", id)
	}
	u.LastLogin = at
	s.users[id] = u
	return nil
}

func (s *MemoryStore) CreateChat(ctx context.Context, c *model.Chat) error {
	s.mu.Lock()
	c.ID = s.node.Generate()
	c.CreatedAt = snowflake.Time(c.ID)
	s.chats[c.ID] = cloneChat(*c)

	// Collect matching watchers but notify outside the lock so callbacks
	// may call back into the store.
	var notify []func(model.Chat)
	if c.Status == model.StatusPending {
		for _, w := range s.watchers {
			if w.cancelled || w.seen[c.ID] {
				continue
			}
			if c.CreatorID != w.userID && c.HasParticipant(w.userID) {
				w.seen[c.ID] = true
				notify = append(notify, w.fn)
			}
		}
	}
	snapshot := cloneChat(*c)
	s.mu.Unlock()

	for _, fn := range notify {
		fn(snapshot)
	}
	return nil
}

func (s *MemoryStore) GetChat(ctx context.Context, id int64) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, apperrors.NotFound("chat %d not found", id)
	}
	c = cloneChat(c)
	return &c, nil
}

func (s *MemoryStore) ChatsForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Chat
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			out = append(out, cloneChat(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateChatStatus(ctx context.Context, id int64, status model.ChatStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return apperrors.NotFound("chat %d not found", id)
	}
	c.Status = status
	s.chats[id] = c
	return nil
}

func (s *MemoryStore) AddParticipant(ctx context.Context, chatID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return apperrors.NotFound("chat %d not found", chatID)
	}
	// Union semantics: adding an existing participant is a no-op.
	if !c.HasParticipant(userID) {
		c.Participants = append(c.Participants, userID)
		s.chats[chatID] = c
	}
	return nil
}

func (s *MemoryStore) DeleteChat(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return apperrors.NotFound("chat %d not found", id)
	}
	delete(s.chats, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) WatchPendingRequests(ctx context.Context, userID string, fn func(model.Chat)) (CancelFunc, error) {
	w := &pendingWatcher{userID: userID, fn: fn, seen: make(map[int64]bool)}

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	var initial []model.Chat
	for _, c := range s.chats {
		if c.Status == model.StatusPending && c.CreatorID != userID && c.HasParticipant(userID) {
			w.seen[c.ID] = true
			initial = append(initial, cloneChat(c))
		}
	}
	s.mu.Unlock()

	for _, c := range initial {
		fn(c)
	}
	cancel := func() {
		s.mu.Lock()
		w.cancelled = true
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[m.ChatID]
	if !ok {
		return apperrors.NotFound("chat %d not found", m.ChatID)
	}
	if !c.HasParticipant(m.SenderID) {
		return apperrors.Forbidden("user %s is not a participant of chat %d", m.SenderID, m.ChatID)
	}
	m.ID = s.node.Generate()
	m.Timestamp = snowflake.Time(m.ID)
	stored := *m
	stored.Provisional = false
	stored.LocalID = ""
	s.messages[m.ChatID] = append(s.messages[m.ChatID], stored)
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, chatID int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return nil, apperrors.NotFound("chat %d not found", chatID)
	}
	out := append([]model.Message(nil), s.messages[chatID]...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, chatID, messageID int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			m := m
			return &m, nil
		}
	}
	return nil, apperrors.NotFound("message %d not found in chat %d", messageID, chatID)
}

func (s *MemoryStore) SetPinned(ctx context.Context, chatID, messageID int64, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Pinned = pinned
			return nil
		}
	}
	return apperrors.NotFound("message %d not found in chat %d", messageID, chatID)
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			s.messages[chatID] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("message %d not found in chat %d", messageID, chatID)
}

func cloneChat(c model.Chat) model.Chat {
	c.Participants = append([]string(nil), c.Participants...)
	return c
}
