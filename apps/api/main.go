package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/mahaj/chatsync/pkg/db"
	"github.com/mahaj/chatsync/pkg/store"
)

func main() {
	scyllaHostsStr := os.Getenv("SCYLLA_HOSTS")
	if scyllaHostsStr == "" {
		scyllaHostsStr = "localhost:9042"
	}
	scyllaHosts := strings.Split(scyllaHostsStr, ",")
	keyspace := os.Getenv("SCYLLA_KEYSPACE")
	if keyspace == "" {
		keyspace = "chat"
	}

	session, err := db.NewSession(scyllaHosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	st, err := store.NewScyllaStore(session, 1)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	// Public endpoints
	http.Handle("/register", CORSMiddleware(RegisterHandler(st)))
	http.Handle("/login", CORSMiddleware(LoginHandler(st)))

	// Protected endpoints
	http.Handle("/users/search", CORSMiddleware(AuthMiddleware(SearchHandler(st))))

	// Presence endpoint
	// Route: /chats/{id}/users
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	presenceHandler := NewPresenceHandler(redisAddr)
	http.Handle("/chats/", CORSMiddleware(AuthMiddleware(presenceHandler)))

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	log.Printf("API Service Starting on %s...", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
