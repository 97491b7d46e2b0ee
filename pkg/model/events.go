package model

import "encoding/json"

// Real-time transport event catalog. Event names and payload field names
// are the wire contract shared with the gateway.
const (
	EventUserConnect = "user:connect"
	EventChatJoin    = "chat:join"

	EventMessageSend     = "message:send"
	EventMessageReceived = "message:received"
	EventMessageUpdate   = "message:update"
	EventMessageDelete   = "message:delete"

	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"
	EventTypingStarted = "typing:started"
	EventTypingStopped = "typing:stopped"

	EventRequestJoin     = "request:join"
	EventRequestReceived = "request:received"
	EventRequestRespond  = "request:respond"
	EventRequestResponse = "request:response"

	EventFriendRequestSend     = "friend:request:send"
	EventFriendRequestReceived = "friend:request:received"
	EventFriendRequestRespond  = "friend:request:respond"
	EventFriendRequestResponse = "friend:request:response"
)

// Envelope is the frame exchanged over the transport.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type UserConnect struct {
	UserID string `json:"userId"`
}

type TypingEvent struct {
	ChatID   int64  `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// TypingNotice is the server->client side of a typing event. The server
// stamps the chat id so a notice in flight across a chat switch cannot
// paint a stale indicator on the newly opened chat.
type TypingNotice struct {
	ChatID   int64  `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type MessageUpdate struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
	Pinned    bool  `json:"pinned"`
	Notify    bool  `json:"notify"`
}

type MessageDelete struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
}

type JoinRequest struct {
	ChatID int64  `json:"chatId"`
	UserID string `json:"userId"`
}

type JoinReceived struct {
	ChatID      int64  `json:"chatId"`
	RequesterID string `json:"requesterId"`
}

type JoinRespond struct {
	ChatID      int64  `json:"chatId"`
	RequesterID string `json:"requesterId"`
	Accept      bool   `json:"accept"`
}

type JoinResponse struct {
	ChatID int64 `json:"chatId"`
	Status bool  `json:"status"`
}

type FriendRequest struct {
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
	RecipientID   string `json:"recipientId"`
	ChatID        int64  `json:"chatId"`
}

type FriendResponse struct {
	ChatID      int64  `json:"chatId"`
	RequesterID string `json:"requesterId"`
	RecipientID string `json:"recipientId"`
	Status      bool   `json:"status"`
}
