package main

import (
	"log"
	"os"
	"strings"

	"github.com/mahaj/chatsync/pkg/db"
)

// Creates the chat keyspace and tables. In production, schema creation
// should be handled by migration tools; for development this is enough.
func main() {
	scyllaHostsStr := os.Getenv("SCYLLA_HOSTS")
	if scyllaHostsStr == "" {
		scyllaHostsStr = "localhost:9042"
	}
	scyllaHosts := strings.Split(scyllaHostsStr, ",")
	keyspace := "chat"

	sysSession, err := db.NewSession(scyllaHosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}

	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS chat WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(scyllaHosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB chat keyspace: %v", err)
	}
	defer session.Close()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id text PRIMARY KEY,
			email text,
			username text,
			mobile text,
			created_at timestamp,
			last_login timestamp
		)`,
		`CREATE INDEX IF NOT EXISTS users_email_idx ON users (email)`,
		`CREATE INDEX IF NOT EXISTS users_username_idx ON users (username)`,
		`CREATE INDEX IF NOT EXISTS users_mobile_idx ON users (mobile)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id bigint PRIMARY KEY,
			name text,
			type text,
			participants set<text>,
			creator_id text,
			status text,
			created_at timestamp
		)`,
		`CREATE INDEX IF NOT EXISTS chats_participants_idx ON chats (participants)`,
		`CREATE TABLE IF NOT EXISTS messages (
			chat_id bigint,
			id bigint,
			sender_id text,
			sender_name text,
			text text,
			pinned boolean,
			reply_to_id bigint,
			reply_to_sender text,
			reply_to_text text,
			timestamp timestamp,
			PRIMARY KEY (chat_id, id)
		)`,
	}

	for _, stmt := range statements {
		if err := session.Query(stmt).Exec(); err != nil {
			log.Fatalf("Failed to apply schema statement: %v", err)
		}
	}

	log.Println("Schema created successfully")
}
