package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
)

type PresenceHandler struct {
	redis *redis.Client
}

func NewPresenceHandler(redisAddr string) *PresenceHandler {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	return &PresenceHandler{redis: rdb}
}

// ServeHTTP answers /chats/{id}/users with the ids of users currently
// connected with the chat open, from the gateway's presence set.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(r.URL.Path, "/")
	if len(pathParts) < 4 || pathParts[3] != "users" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	chatID := pathParts[2]

	users, err := h.redis.SMembers(context.Background(), "chat:"+chatID+":users").Result()
	if err != nil {
		log.Printf("Failed to fetch presence for chat %s: %v", chatID, err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}
