// Package store defines the durable, strongly-consistent source of truth
// for users, chats and messages, plus two implementations: ScyllaStore for
// production and MemoryStore for tests.
package store

import (
	"context"
	"time"

	"github.com/mahaj/chatsync/pkg/model"
)

// CancelFunc stops a live query subscription.
type CancelFunc func()

// Store is the contract the synchronization engine runs against. Writes
// are fire-once: a failed write is returned to the caller, never retried
// here. Canonical ids and timestamps are assigned by the store at write
// time so all clients order messages by the same clock.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	// FindUserByIdentifier resolves an email, username or mobile number
	// to a user. Returns a NotFound error when nothing matches.
	FindUserByIdentifier(ctx context.Context, identifier string) (*model.User, error)
	// SearchUsers substring-matches username and mobile, excluding selfID.
	SearchUsers(ctx context.Context, term, selfID string) ([]model.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error

	// Chats
	// CreateChat assigns c.ID and c.CreatedAt.
	CreateChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, id int64) (*model.Chat, error)
	ChatsForUser(ctx context.Context, userID string) ([]model.Chat, error)
	UpdateChatStatus(ctx context.Context, id int64, status model.ChatStatus) error
	// AddParticipant is a conflict-free union add: concurrent adds from
	// different clients never regress each other.
	AddParticipant(ctx context.Context, chatID int64, userID string) error
	DeleteChat(ctx context.Context, id int64) error
	// WatchPendingRequests is a live query for pending chats where userID
	// is a participant but not the creator (incoming friend requests).
	// fn is invoked once per newly observed chat, including chats that
	// already match at subscribe time.
	WatchPendingRequests(ctx context.Context, userID string, fn func(model.Chat)) (CancelFunc, error)

	// Messages
	// AppendMessage assigns m.ID and m.Timestamp (server clock).
	AppendMessage(ctx context.Context, m *model.Message) error
	// Messages returns the chat's messages ordered by timestamp.
	Messages(ctx context.Context, chatID int64) ([]model.Message, error)
	GetMessage(ctx context.Context, chatID, messageID int64) (*model.Message, error)
	SetPinned(ctx context.Context, chatID, messageID int64, pinned bool) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}
