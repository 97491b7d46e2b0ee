package main

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chatsync/pkg/model"
)

// frame is the unit of fanout between gateway instances. Room-addressed
// frames go to every client with the chat open except the sender;
// user-addressed frames go to every connection of the named users.
type frame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Room    int64           `json:"room,omitempty"`
	UserIDs []string        `json:"userIds,omitempty"`
	Except  string          `json:"except,omitempty"`
}

type Hub struct {
	rooms       map[int64]map[*Client]bool  // chat_id -> clients with the chat open
	userClients map[string]map[*Client]bool // user_id -> connections
	publish     chan *frame
	register    chan *Client
	unregister  chan *Client
	mu          sync.RWMutex
	producer    *kafka.Writer
	redis       *redis.Client
}

func NewHub(kafkaBrokers []string, topic string, redisAddr string) *Hub {
	producer := &kafka.Writer{
		Addr:     kafka.TCP(kafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Unique group per instance so every gateway sees every frame and
	// fans out to its own clients.
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkaBrokers,
		Topic:       topic,
		GroupID:     "gateway-group-" + time.Now().String(),
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	h := &Hub{
		rooms:       make(map[int64]map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		publish:     make(chan *frame),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		producer:    producer,
		redis:       rdb,
	}

	go func() {
		defer consumer.Close()
		for {
			m, err := consumer.ReadMessage(context.Background())
			if err != nil {
				log.Printf("Gateway consumer error: %v", err)
				break
			}
			var f frame
			if err := json.Unmarshal(m.Value, &f); err != nil {
				log.Printf("Failed to unmarshal frame from Kafka: %v", err)
				continue
			}
			h.deliver(&f)
		}
	}()

	return h
}

// deliver fans a frame out to this instance's matching connections.
func (h *Hub) deliver(f *frame) {
	payload, err := json.Marshal(model.Envelope{Event: f.Event, Data: f.Data})
	if err != nil {
		log.Printf("Failed to marshal envelope: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(f.UserIDs) > 0 {
		for _, userID := range f.UserIDs {
			for client := range h.userClients[userID] {
				client.trySend(payload)
			}
		}
		return
	}

	for client := range h.rooms[f.Room] {
		if client.ID == f.Except {
			continue
		}
		client.trySend(payload)
	}
}

// route applies the gateway's event switch to a client frame: chat-scoped
// events are re-published to the room minus the sender, request/response
// events are addressed to a single user. Durable state never passes
// through here; clients persist before they broadcast.
func (h *Hub) route(c *Client, env *model.Envelope) {
	switch env.Event {
	case model.EventUserConnect:
		// Identity is already bound from the JWT at upgrade time.

	case model.EventChatJoin:
		var chatID int64
		if err := json.Unmarshal(env.Data, &chatID); err != nil {
			log.Printf("Bad chat:join payload from %s: %v", c.ID, err)
			return
		}
		h.join(c, chatID)

	case model.EventMessageSend:
		var m model.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return
		}
		h.publish <- &frame{Event: model.EventMessageReceived, Data: env.Data, Room: m.ChatID, Except: c.ID}

	case model.EventTypingStart:
		var t model.TypingEvent
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return
		}
		data, _ := json.Marshal(model.TypingNotice{ChatID: t.ChatID, UserID: c.ID, Username: t.Username})
		h.publish <- &frame{Event: model.EventTypingStarted, Data: data, Room: t.ChatID, Except: c.ID}

	case model.EventTypingStop:
		var t model.TypingEvent
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return
		}
		data, _ := json.Marshal(model.TypingNotice{ChatID: t.ChatID, UserID: c.ID})
		h.publish <- &frame{Event: model.EventTypingStopped, Data: data, Room: t.ChatID, Except: c.ID}

	case model.EventMessageUpdate:
		var u model.MessageUpdate
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return
		}
		h.publish <- &frame{Event: model.EventMessageUpdate, Data: env.Data, Room: u.ChatID, Except: c.ID}

	case model.EventMessageDelete:
		var d model.MessageDelete
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return
		}
		h.publish <- &frame{Event: model.EventMessageDelete, Data: env.Data, Room: d.ChatID, Except: c.ID}

	case model.EventRequestJoin:
		var r model.JoinRequest
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return
		}
		data, _ := json.Marshal(model.JoinReceived{ChatID: r.ChatID, RequesterID: c.ID})
		h.publish <- &frame{Event: model.EventRequestReceived, Data: data, Room: r.ChatID, Except: c.ID}

	case model.EventRequestRespond:
		var r model.JoinRespond
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return
		}
		data, _ := json.Marshal(model.JoinResponse{ChatID: r.ChatID, Status: r.Accept})
		h.publish <- &frame{Event: model.EventRequestResponse, Data: data, UserIDs: []string{r.RequesterID}}

	case model.EventFriendRequestSend:
		var f model.FriendRequest
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return
		}
		h.publish <- &frame{Event: model.EventFriendRequestReceived, Data: env.Data, UserIDs: []string{f.RecipientID}}

	case model.EventFriendRequestRespond:
		var f model.FriendResponse
		if err := json.Unmarshal(env.Data, &f); err != nil {
			return
		}
		h.publish <- &frame{Event: model.EventFriendRequestResponse, Data: env.Data, UserIDs: []string{f.RequesterID}}

	default:
		log.Printf("Unknown event %q from %s", env.Event, c.ID)
	}
}

// join moves the client into the chat's room. One room per connection,
// the client's open chat.
func (h *Hub) join(c *Client, chatID int64) {
	h.mu.Lock()
	old := c.ChatID
	if old != 0 {
		if clients, ok := h.rooms[old]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, old)
			}
		}
	}
	c.ChatID = chatID
	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[*Client]bool)
	}
	h.rooms[chatID][c] = true
	h.mu.Unlock()

	if old != 0 {
		if err := h.redis.SRem(context.Background(), presenceKey(old), c.ID).Err(); err != nil {
			log.Printf("Failed to clear presence for %s: %v", c.ID, err)
		}
	}
	if err := h.redis.SAdd(context.Background(), presenceKey(chatID), c.ID).Err(); err != nil {
		log.Printf("Failed to set presence for %s: %v", c.ID, err)
	}
	log.Printf("Client %s joined chat %d", c.ID, chatID)
}

func presenceKey(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10) + ":users"
}

func (h *Hub) Run() {
	defer h.producer.Close()
	defer h.redis.Close()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.userClients[client.ID] == nil {
				h.userClients[client.ID] = make(map[*Client]bool)
			}
			h.userClients[client.ID][client] = true
			h.mu.Unlock()
			log.Printf("Client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			removed := false
			if clients, ok := h.userClients[client.ID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					removed = true
					if len(clients) == 0 {
						delete(h.userClients, client.ID)
					}
				}
			}
			var chatID int64
			if removed && client.ChatID != 0 {
				chatID = client.ChatID
				if clients, ok := h.rooms[chatID]; ok {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.rooms, chatID)
					}
				}
			}
			h.mu.Unlock()

			if removed {
				close(client.send)
				if chatID != 0 {
					if err := h.redis.SRem(context.Background(), presenceKey(chatID), client.ID).Err(); err != nil {
						log.Printf("Failed to clear presence for %s: %v", client.ID, err)
					}
				}
				log.Printf("Client disconnected: %s", client.ID)
			}

		case f := <-h.publish:
			jsonFrame, err := json.Marshal(f)
			if err != nil {
				log.Printf("Failed to marshal frame: %v", err)
				continue
			}
			err = h.producer.WriteMessages(context.Background(),
				kafka.Message{
					Value: jsonFrame,
					Time:  time.Now(),
				},
			)
			if err != nil {
				log.Printf("Failed to write frame to Kafka: %v", err)
			}
		}
	}
}
