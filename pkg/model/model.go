package model

import "time"

type ChatType string

const (
	ChatDM    ChatType = "dm"
	ChatGroup ChatType = "group"
)

type ChatStatus string

const (
	StatusPending ChatStatus = "pending"
	StatusActive  ChatStatus = "active"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Mobile    string    `json:"mobile"`
	CreatedAt time.Time `json:"createdAt"`
	LastLogin time.Time `json:"lastLogin"`
}

type Chat struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Type         ChatType   `json:"type"`
	Participants []string   `json:"participants"`
	CreatorID    string     `json:"creatorId"`
	Status       ChatStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is one timeline entry. ID and Timestamp are assigned by the
// durable store at write time; LocalID identifies the optimistic local
// echo until the canonical record replaces it.
type Message struct {
	ID            int64     `json:"messageId"`
	ChatID        int64     `json:"chatId"`
	SenderID      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	Pinned        bool      `json:"pinned"`
	ReplyToID     int64     `json:"replyToId,omitempty"`
	ReplyToSender string    `json:"replyToSender,omitempty"`
	ReplyToText   string    `json:"replyToText,omitempty"`

	LocalID     string `json:"-"`
	Provisional bool   `json:"-"`
}
