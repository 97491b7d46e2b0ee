package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/db"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/snowflake"
)

// Poll interval for emulating live queries on top of ScyllaDB, which has
// no changefeed the way a document store has snapshot listeners.
const watchPollInterval = 2 * time.Second

// ScyllaStore implements Store on ScyllaDB. Messages cluster by snowflake
// id inside the chat partition, so the natural clustering order is also
// timestamp order.
type ScyllaStore struct {
	db   *db.Session
	node *snowflake.Node
}

func NewScyllaStore(session *db.Session, nodeID int64) (*ScyllaStore, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &ScyllaStore{db: session, node: node}, nil
}

func (s *ScyllaStore) CreateUser(ctx context.Context, u *model.User) error {
	checks := []struct {
		column, value, label string
	}{
		{"email", u.Email, "email"},
		{"username", u.Username, "username"},
		{"mobile", u.Mobile, "mobile"},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		var id string
		err := s.db.Query(`SELECT id FROM users WHERE `+c.column+` = ? LIMIT 1`, c.value).
			WithContext(ctx).Scan(&id)
		if err == nil {
			return apperrors.Conflict("%s %s already registered", c.label, c.value)
		}
		if err != gocql.ErrNotFound {
			return err
		}
	}

	return s.db.Query(
		`INSERT INTO users (id, email, username, mobile, created_at, last_login) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.Mobile, u.CreatedAt, u.LastLogin,
	).WithContext(ctx).Exec()
}

func (s *ScyllaStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.Query(
		`SELECT id, email, username, mobile, created_at, last_login FROM users WHERE id = ?`, id,
	).WithContext(ctx).Scan(&u.ID, &u.Email, &u.Username, &u.Mobile, &u.CreatedAt, &u.LastLogin)
	if err == gocql.ErrNotFound {
		return nil, apperrors.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *ScyllaStore) FindUserByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	for _, column := range []string{"email", "username", "mobile"} {
		var id string
		err := s.db.Query(`SELECT id FROM users WHERE `+column+` = ? LIMIT 1`, identifier).
			WithContext(ctx).Scan(&id)
		if err == gocql.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.GetUser(ctx, id)
	}
	return nil, apperrors.NotFound("no user matches %s", identifier)
}

// SearchUsers scans the users table and filters client-side, the same
// substring semantics the search UI expects. Fine at this scale; a real
// deployment would move this behind a search index.
func (s *ScyllaStore) SearchUsers(ctx context.Context, term, selfID string) ([]model.User, error) {
	term = strings.ToLower(term)
	iter := s.db.Query(
		`SELECT id, email, username, mobile, created_at, last_login FROM users`,
	).WithContext(ctx).Iter()

	var out []model.User
	var u model.User
	for iter.Scan(&u.ID, &u.Email, &u.Username, &u.Mobile, &u.CreatedAt, &u.LastLogin) {
		if u.ID == selfID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), term) ||
			(u.Mobile != "" && strings.Contains(u.Mobile, term)) {
			out = append(out, u)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *ScyllaStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	return s.db.Query(`UPDATE users SET last_login = ? WHERE id = ?`, at, id).
		WithContext(ctx).Exec()
}

func (s *ScyllaStore) CreateChat(ctx context.Context, c *model.Chat) error {
	c.ID = s.node.Generate()
	c.CreatedAt = snowflake.Time(c.ID)
	return s.db.Query(
		`INSERT INTO chats (id, name, type, participants, creator_id, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Type), c.Participants, c.CreatorID, string(c.Status), c.CreatedAt,
	).WithContext(ctx).Exec()
}

func (s *ScyllaStore) GetChat(ctx context.Context, id int64) (*model.Chat, error) {
	var c model.Chat
	var chatType, status string
	err := s.db.Query(
		`SELECT id, name, type, participants, creator_id, status, created_at FROM chats WHERE id = ?`, id,
	).WithContext(ctx).Scan(&c.ID, &c.Name, &chatType, &c.Participants, &c.CreatorID, &status, &c.CreatedAt)
	if err == gocql.ErrNotFound {
		return nil, apperrors.NotFound("chat %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	c.Type = model.ChatType(chatType)
	c.Status = model.ChatStatus(status)
	return &c, nil
}

func (s *ScyllaStore) ChatsForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	iter := s.db.Query(
		`SELECT id, name, type, participants, creator_id, status, created_at FROM chats WHERE participants CONTAINS ?`,
		userID,
	).WithContext(ctx).Iter()

	var out []model.Chat
	var c model.Chat
	var chatType, status string
	for iter.Scan(&c.ID, &c.Name, &chatType, &c.Participants, &c.CreatorID, &status, &c.CreatedAt) {
		c.Type = model.ChatType(chatType)
		c.Status = model.ChatStatus(status)
		out = append(out, c)
		c = model.Chat{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *ScyllaStore) UpdateChatStatus(ctx context.Context, id int64, status model.ChatStatus) error {
	if _, err := s.GetChat(ctx, id); err != nil {
		return err
	}
	return s.db.Query(`UPDATE chats SET status = ? WHERE id = ?`, string(status), id).
		WithContext(ctx).Exec()
}

func (s *ScyllaStore) AddParticipant(ctx context.Context, chatID int64, userID string) error {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}
	// Set union: concurrent adds from different clients merge instead of
	// overwriting each other.
	return s.db.Query(`UPDATE chats SET participants = participants + ? WHERE id = ?`,
		[]string{userID}, chatID).WithContext(ctx).Exec()
}

func (s *ScyllaStore) DeleteChat(ctx context.Context, id int64) error {
	if _, err := s.GetChat(ctx, id); err != nil {
		return err
	}
	if err := s.db.Query(`DELETE FROM messages WHERE chat_id = ?`, id).WithContext(ctx).Exec(); err != nil {
		return err
	}
	return s.db.Query(`DELETE FROM chats WHERE id = ?`, id).WithContext(ctx).Exec()
}

func (s *ScyllaStore) WatchPendingRequests(ctx context.Context, userID string, fn func(model.Chat)) (CancelFunc, error) {
	stop := make(chan struct{})
	var once sync.Once

	poll := func(seen map[int64]bool) {
		chats, err := s.ChatsForUser(ctx, userID)
		if err != nil {
			// Transient read failures just delay the next observation.
			return
		}
		for _, c := range chats {
			if c.Status != model.StatusPending || c.CreatorID == userID || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			fn(c)
		}
	}

	go func() {
		seen := make(map[int64]bool)
		poll(seen)
		ticker := time.NewTicker(watchPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				poll(seen)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }, nil
}

func (s *ScyllaStore) AppendMessage(ctx context.Context, m *model.Message) error {
	chat, err := s.GetChat(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(m.SenderID) {
		return apperrors.Forbidden("user %s is not a participant of chat %d", m.SenderID, m.ChatID)
	}
	m.ID = s.node.Generate()
	m.Timestamp = snowflake.Time(m.ID)
	return s.db.Query(
		`INSERT INTO messages (chat_id, id, sender_id, sender_name, text, pinned, reply_to_id, reply_to_sender, reply_to_text, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.ID, m.SenderID, m.SenderName, m.Text, m.Pinned,
		m.ReplyToID, m.ReplyToSender, m.ReplyToText, m.Timestamp,
	).WithContext(ctx).Exec()
}

func (s *ScyllaStore) Messages(ctx context.Context, chatID int64) ([]model.Message, error) {
	iter := s.db.Query(
		`SELECT chat_id, id, sender_id, sender_name, text, pinned, reply_to_id, reply_to_sender, reply_to_text, timestamp
		 FROM messages WHERE chat_id = ?`, chatID,
	).WithContext(ctx).Iter()

	var out []model.Message
	var m model.Message
	for iter.Scan(&m.ChatID, &m.ID, &m.SenderID, &m.SenderName, &m.Text, &m.Pinned,
		&m.ReplyToID, &m.ReplyToSender, &m.ReplyToText, &m.Timestamp) {
		out = append(out, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ScyllaStore) GetMessage(ctx context.Context, chatID, messageID int64) (*model.Message, error) {
	var m model.Message
	err := s.db.Query(
		`SELECT chat_id, id, sender_id, sender_name, text, pinned, reply_to_id, reply_to_sender, reply_to_text, timestamp
		 FROM messages WHERE chat_id = ? AND id = ?`, chatID, messageID,
	).WithContext(ctx).Scan(&m.ChatID, &m.ID, &m.SenderID, &m.SenderName, &m.Text, &m.Pinned,
		&m.ReplyToID, &m.ReplyToSender, &m.ReplyToText, &m.Timestamp)
	if err == gocql.ErrNotFound {
		return nil, apperrors.NotFound("message %d not found in chat %d", messageID, chatID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *ScyllaStore) SetPinned(ctx context.Context, chatID, messageID int64, pinned bool) error {
	if _, err := s.GetMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	return s.db.Query(`UPDATE messages SET pinned = ? WHERE chat_id = ? AND id = ?`,
		pinned, chatID, messageID).WithContext(ctx).Exec()
}

func (s *ScyllaStore) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if _, err := s.GetMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	return s.db.Query(`DELETE FROM messages WHERE chat_id = ? AND id = ?`,
		chatID, messageID).WithContext(ctx).Exec()
}
