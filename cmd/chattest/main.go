// Package main is a smoke and load client for the realtime channel. It mints
// development tokens, matches two users over HTTP and checks that messages
// sent on one socket arrive on both.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"mazl/internal/config"
	"mazl/internal/events"
	"mazl/internal/middleware"
	"mazl/internal/notifications"

	"github.com/gorilla/websocket"
)

// Metrics tracks the run results.
type Metrics struct {
	MessagesSent     int64
	MessagesReceived int64
	PushEvents       int64
	Errors           int64
}

var metrics Metrics

type frame struct {
	Type           string          `json:"type"`
	ConversationID uint            `json:"conversation_id"`
	UserID         uint            `json:"user_id"`
	Payload        json.RawMessage `json:"payload"`
}

type client struct {
	host   string
	token  string
	userID uint
	http   *http.Client
}

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	userA := flag.Uint("a", 1, "First user id")
	userB := flag.Uint("b", 2, "Second user id")
	rounds := flag.Int("rounds", 10, "Messages to send, alternating senders")
	interval := flag.Duration("interval", 200*time.Millisecond, "Delay between messages")
	timeout := flag.Duration("timeout", 5*time.Second, "How long to wait for each delivery")
	natsURL := flag.String("nats", "", "NATS URL; when set, push events are printed")
	printToken := flag.Bool("print-token", false, "Print a token for -a and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	auth := middleware.NewAuthenticator(cfg, nil)

	if *printToken {
		token, err := auth.IssueToken(uint(*userA), 24*time.Hour)
		if err != nil {
			log.Fatalf("❌ Token minting failed: %v", err)
		}
		fmt.Println(token)
		return
	}

	log.Printf("🚀 Starting realtime smoke test")
	log.Printf("Target: %s, users %d and %d, %d rounds", *host, *userA, *userB, *rounds)

	a, err := newClient(auth, *host, uint(*userA))
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	b, err := newClient(auth, *host, uint(*userB))
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if *natsURL != "" {
		nc, err := events.Connect(*natsURL)
		if err != nil {
			log.Fatalf("❌ NATS connect failed: %v", err)
		}
		defer nc.Close()
		if _, err := events.Subscribe(nc, "mazl.>", func(_ context.Context, data []byte) {
			atomic.AddInt64(&metrics.PushEvents, 1)
			log.Printf("📨 push event: %s", data)
		}); err != nil {
			log.Fatalf("❌ NATS subscribe failed: %v", err)
		}
	}

	convID, err := matchUsers(a, b)
	if err != nil {
		log.Fatalf("❌ Match failed: %v", err)
	}
	log.Printf("✅ Users matched, conversation %d", convID)

	connA, err := a.dial()
	if err != nil {
		log.Fatalf("❌ Dial failed for user %d: %v", a.userID, err)
	}
	defer func() { _ = connA.Close() }()
	connB, err := b.dial()
	if err != nil {
		log.Fatalf("❌ Dial failed for user %d: %v", b.userID, err)
	}
	defer func() { _ = connB.Close() }()
	log.Printf("✅ Both sockets connected")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	conns := map[uint]*websocket.Conn{a.userID: connA, b.userID: connB}
	senders := []uint{a.userID, b.userID}

loop:
	for i := 0; i < *rounds; i++ {
		select {
		case <-interrupt:
			log.Println("🛑 Interrupted by user")
			break loop
		default:
		}

		sender := senders[i%2]
		content := fmt.Sprintf("smoke message %d from %d", i, sender)
		if err := conns[sender].WriteJSON(map[string]interface{}{
			"type":            "message",
			"conversation_id": convID,
			"content":         content,
		}); err != nil {
			atomic.AddInt64(&metrics.Errors, 1)
			log.Printf("❌ Send failed: %v", err)
			break
		}
		atomic.AddInt64(&metrics.MessagesSent, 1)

		var wg sync.WaitGroup
		for uid, conn := range conns {
			wg.Add(1)
			go func(uid uint, conn *websocket.Conn) {
				defer wg.Done()
				if err := awaitMessage(conn, convID, content, *timeout); err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					log.Printf("❌ User %d missed %q: %v", uid, content, err)
					return
				}
				atomic.AddInt64(&metrics.MessagesReceived, 1)
			}(uid, conn)
		}
		wg.Wait()
		time.Sleep(*interval)
	}

	for _, conn := range conns {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}

	printMetrics()
	if atomic.LoadInt64(&metrics.Errors) > 0 {
		os.Exit(1)
	}
}

func newClient(auth *middleware.Authenticator, host string, userID uint) (*client, error) {
	token, err := auth.IssueToken(userID, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("mint token for user %d: %w", userID, err)
	}
	return &client{
		host:   host,
		token:  token,
		userID: userID,
		http:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (c *client) post(path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s%s", c.host, path), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s failed with status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// matchUsers has a and b like each other and returns their conversation.
// Repeated runs find the existing match.
func matchUsers(a, b *client) (uint, error) {
	var result struct {
		Matched      bool `json:"matched"`
		Conversation *struct {
			ID uint `json:"id"`
		} `json:"conversation"`
	}
	if err := a.post("/api/swipes", map[string]interface{}{"target_id": b.userID, "action": "like"}, &result); err != nil {
		return 0, err
	}
	if !result.Matched {
		if err := b.post("/api/swipes", map[string]interface{}{"target_id": a.userID, "action": "like"}, &result); err != nil {
			return 0, err
		}
	}
	if !result.Matched || result.Conversation == nil {
		return 0, fmt.Errorf("users %d and %d did not match", a.userID, b.userID)
	}
	return result.Conversation.ID, nil
}

func (c *client) dial() (*websocket.Conn, error) {
	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := c.post("/api/ws/ticket", nil, &result); err != nil {
		return nil, fmt.Errorf("ticket issuance: %w", err)
	}

	u := url.URL{Scheme: "ws", Host: c.host, Path: "/api/ws", RawQuery: "ticket=" + url.QueryEscape(result.Ticket)}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// awaitMessage reads frames until the message_created frame carrying content
// arrives. Typing, read and match frames are skipped.
func awaitMessage(conn *websocket.Conn, convID uint, content string, timeout time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Type == "error" {
			return fmt.Errorf("error frame: %s", f.Payload)
		}
		if f.Type != string(notifications.EventMessageCreated) || f.ConversationID != convID {
			continue
		}
		var msg struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			return err
		}
		if msg.Content == content {
			return nil
		}
	}
}

func printMetrics() {
	log.Println("📊 Results")
	log.Println("==========")
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Deliveries Received: %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("Push Events Seen: %d", atomic.LoadInt64(&metrics.PushEvents))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
