package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/mahaj/chatsync/pkg/db"
	"github.com/mahaj/chatsync/pkg/engine"
	"github.com/mahaj/chatsync/pkg/model"
	"github.com/mahaj/chatsync/pkg/store"
	"github.com/mahaj/chatsync/pkg/transport"
)

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func login(apiAddr, identifier string) (*loginResponse, error) {
	reqBody, _ := json.Marshal(map[string]string{"identifier": identifier})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("login failed: %s", string(body))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// terminalSink renders the engine's intents to stdout.
type terminalSink struct{}

func (terminalSink) ChatOpened(chat model.Chat, timeline []model.Message) {
	name := chat.Name
	if name == "" {
		name = fmt.Sprintf("chat %d", chat.ID)
	}
	fmt.Printf("\r--- %s ---\n", name)
	for _, m := range timeline {
		printMessage(m)
	}
	fmt.Print("> ")
}

func (terminalSink) MessageAppended(m model.Message, index int) {
	fmt.Print("\r")
	printMessage(m)
	fmt.Print("> ")
}

func (terminalSink) MessageConfirmed(localID string, m model.Message, index int) {
	// The echo already rendered; confirmation is silent in the terminal.
}

func (terminalSink) MessageDiscarded(chatID int64, localID string) {
	fmt.Print("\r(message not saved)\n> ")
}

func (terminalSink) MessageRemoved(chatID, messageID int64) {
	fmt.Printf("\r(message %d removed)\n> ", messageID)
}

func (terminalSink) PinnedBanner(chatID int64, banner *model.Message) {
	if banner == nil {
		fmt.Print("\r[no pinned message]\n> ")
		return
	}
	fmt.Printf("\r[pinned] %s: %s\n> ", banner.SenderName, banner.Text)
}

func (terminalSink) TypingLine(chatID int64, line string) {
	if line != "" {
		fmt.Printf("\r%s\n> ", line)
	}
}

func (terminalSink) ChatListChanged() {
	fmt.Print("\r(chat list updated, /chats to refresh)\n> ")
}

func (terminalSink) Notice(text string) {
	fmt.Printf("\r%s\n> ", text)
}

func printMessage(m model.Message) {
	if m.ReplyToID != 0 {
		fmt.Printf("  | %s: %s\n", m.ReplyToSender, m.ReplyToText)
	}
	marker := ""
	if m.Pinned {
		marker = " *"
	}
	fmt.Printf("[%d]%s %s: %s\n", m.ID, marker, m.SenderName, m.Text)
}

// stdinConfirm answers engine prompts from the terminal.
func stdinConfirm(prompt string) bool {
	fmt.Printf("\r%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func main() {
	gatewayAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	scyllaHostsStr := flag.String("scylla", "localhost:9042", "comma-separated scylla hosts")
	identifier := flag.String("user", "", "email, username or mobile to log in with")
	flag.Parse()

	if *identifier == "" {
		log.Fatal("missing -user")
	}

	resp, err := login(*apiAddr, *identifier)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}
	log.Printf("Logged in as %s", resp.User.Username)

	session, err := db.NewSession(strings.Split(*scyllaHostsStr, ","), "chat")
	if err != nil {
		log.Fatal("Failed to connect to ScyllaDB: ", err)
	}
	defer session.Close()

	st, err := store.NewScyllaStore(session, 2)
	if err != nil {
		log.Fatal("Failed to initialize store: ", err)
	}

	ws := transport.NewWSClient(*gatewayAddr, resp.Token)

	sess := engine.NewSession(engine.Config{
		Self: engine.Identity{
			ID:       resp.User.ID,
			Username: resp.User.Username,
			Email:    resp.User.Email,
			Mobile:   resp.User.Mobile,
		},
		Store:     st,
		Transport: ws,
		Sink:      terminalSink{},
		Confirm:   stdinConfirm,
	})

	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		log.Fatal("Failed to start session: ", err)
	}
	defer sess.Teardown()
	defer ws.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Print("> ")
				continue
			}
			if line == "/quit" {
				close(interrupt)
				return
			}
			runCommand(ctx, sess, line)
			fmt.Print("> ")
		}
	}()

	<-interrupt
	log.Println("bye")
}

func runCommand(ctx context.Context, sess *engine.Session, line string) {
	if !strings.HasPrefix(line, "/") {
		sess.InputActivity()
		if err := sess.SendMessage(ctx, line); err != nil {
			fmt.Printf("send: %v\n", err)
		}
		return
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/chats":
		chats, err := sess.ListChats(ctx)
		if err != nil {
			fmt.Printf("chats: %v\n", err)
			return
		}
		for _, c := range chats {
			name := c.Name
			if name == "" {
				name = strings.Join(c.Participants, ", ")
			}
			fmt.Printf("[%d] %s (%s, %s)\n", c.ID, name, c.Type, c.Status)
		}

	case "/open":
		id, ok := argID(args)
		if !ok {
			fmt.Println("usage: /open <chat-id>")
			return
		}
		if err := sess.OpenChat(ctx, id); err != nil {
			fmt.Printf("open: %v\n", err)
		}

	case "/friend":
		if len(args) != 1 {
			fmt.Println("usage: /friend <user-id>")
			return
		}
		if _, err := sess.SendFriendRequest(ctx, args[0]); err != nil {
			fmt.Printf("friend: %v\n", err)
		} else {
			fmt.Println("friend request sent")
		}

	case "/accept", "/reject":
		id, ok := argID(args)
		if !ok {
			fmt.Printf("usage: %s <chat-id>\n", cmd)
			return
		}
		if err := sess.RespondToFriendRequest(ctx, id, cmd == "/accept"); err != nil {
			fmt.Printf("%s: %v\n", cmd[1:], err)
		}

	case "/join":
		id, ok := argID(args)
		if !ok {
			fmt.Println("usage: /join <chat-id>")
			return
		}
		if err := sess.RequestToJoin(ctx, id); err != nil {
			fmt.Printf("join: %v\n", err)
		}

	case "/group":
		if len(args) == 0 {
			fmt.Println("usage: /group <name>")
			return
		}
		chat, err := sess.CreateGroupChat(ctx, strings.Join(args, " "))
		if err != nil {
			fmt.Printf("group: %v\n", err)
			return
		}
		fmt.Printf("created group [%d] %s\n", chat.ID, chat.Name)

	case "/pin":
		id, ok := argID(args)
		if !ok {
			fmt.Println("usage: /pin <message-id>")
			return
		}
		if err := sess.PinMessage(ctx, id); err != nil {
			fmt.Printf("pin: %v\n", err)
		}

	case "/del":
		id, ok := argID(args)
		if !ok {
			fmt.Println("usage: /del <message-id>")
			return
		}
		if err := sess.DeleteMessage(ctx, id); err != nil {
			fmt.Printf("del: %v\n", err)
		}

	case "/reply":
		id, ok := argID(args)
		if !ok {
			fmt.Println("usage: /reply <message-id>")
			return
		}
		if err := sess.StartReply(id); err != nil {
			fmt.Printf("reply: %v\n", err)
		} else if ref := sess.PendingReply(); ref != nil {
			fmt.Printf("replying to %s: %s\n", ref.Sender, ref.Text)
		}

	case "/noreply":
		sess.CancelReply()

	case "/refresh":
		if err := sess.Refresh(ctx); err != nil {
			fmt.Printf("refresh: %v\n", err)
		}

	default:
		fmt.Println("commands: /chats /open /friend /accept /reject /join /group /pin /del /reply /noreply /refresh /quit")
	}
}

func argID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
