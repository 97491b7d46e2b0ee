package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
)

const (
	// Reconnection budget. After ReconnectAttempts failures the client
	// gives up and stays disconnected; Emit keeps returning
	// TransportUnavailable until the process restarts the client.
	ReconnectAttempts = 5
	ReconnectDelay    = 1 * time.Second

	writeWait = 10 * time.Second
)

// WSClient is the engine-side gateway connection.
type WSClient struct {
	addr  string
	token string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	send      chan []byte

	subs         *handlerSet
	reconnectFns []func()
}

func NewWSClient(addr, token string) *WSClient {
	return &WSClient{
		addr:  addr,
		token: token,
		send:  make(chan []byte, 256),
		subs:  newHandlerSet(),
	}
}

func (c *WSClient) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeTransportUnavailable, "gateway dial failed")
	}
	c.attach(conn)
	return nil
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	return conn, err
}

func (c *WSClient) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readPump(conn, done)
	go c.writePump(conn, done)
}

func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WSClient) Emit(event string, data any) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	frame, err := marshalData(model.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return apperrors.TransportUnavailable("not connected, %s not broadcast", event)
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return apperrors.TransportUnavailable("send buffer full, %s dropped", event)
	}
}

func (c *WSClient) On(event string, h Handler) (cancel func()) {
	return c.subs.add(event, h)
}

func (c *WSClient) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectFns = append(c.reconnectFns, fn)
}

func (c *WSClient) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Printf("Gateway connection lost: %v", err)
				go c.reconnect()
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			log.Printf("Dropping malformed frame from gateway: %v", err)
			continue
		}
		c.subs.dispatch(env.Event, env.Data)
	}
}

func (c *WSClient) writePump(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case frame := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// reconnect retries the dial a bounded number of times, then gives up.
// Missed deltas are not replayed; the engine recovers them with a fresh
// full read after its reconnect hook fires.
func (c *WSClient) reconnect() {
	for attempt := 1; attempt <= ReconnectAttempts; attempt++ {
		time.Sleep(ReconnectDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial(context.Background())
		if err != nil {
			log.Printf("Reconnect attempt %d/%d failed: %v", attempt, ReconnectAttempts, err)
			continue
		}

		c.attach(conn)
		log.Printf("Reconnected to gateway after %d attempt(s)", attempt)

		c.mu.Lock()
		fns := append([]func(){}, c.reconnectFns...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
		return
	}
	log.Printf("Giving up on gateway after %d reconnect attempts", ReconnectAttempts)
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return conn.Close()
}
