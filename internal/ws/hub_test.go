package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grihya/livechat/internal/model"
	"github.com/grihya/livechat/internal/storage"
)

type tokenSet map[string]bool

func (s tokenSet) GetByToken(_ context.Context, token string) (*model.Conversation, error) {
	if !s[token] {
		return nil, storage.ErrNotFound
	}
	return &model.Conversation{Token: token}, nil
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T, maxConns int) (*Hub, string) {
	t.Helper()
	hub, url, _ := startHubWithCancel(t, maxConns)
	return hub, url
}

func startHubWithCancel(t *testing.T, maxConns int) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(tokenSet{"t1": true, "t2": true}, maxConns)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, r.RemoteAddr)
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func subscribe(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	sendJSON(t, conn, IncomingMessage{Action: ActionSubscribe, Token: token})
	if f := readFrame(t, conn); f.Event != string(EventSubscribed) || f.Channel != ChannelName(token) {
		t.Fatalf("subscribe ack = %+v", f)
	}
}

func TestSubscribeUnknownToken(t *testing.T) {
	_, url := startHub(t, 10)
	conn := dial(t, url)
	sendJSON(t, conn, IncomingMessage{Action: ActionSubscribe, Token: "nope"})
	if f := readFrame(t, conn); f.Event != string(EventError) {
		t.Fatalf("frame = %+v, want error", f)
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	hub, url := startHub(t, 10)
	a, b := dial(t, url), dial(t, url)
	subscribe(t, a, "t1")
	subscribe(t, b, "t1")

	d := NewDispatcher(hub, 8, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	d.PublishMessage(&model.Conversation{Token: "t1"}, &model.Message{ID: 77, ConversationID: 1, Sender: model.SenderUser, Body: "hi"})

	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		if f.Event != string(EventMessageSent) || f.Channel != "chat.conversation.t1" {
			t.Fatalf("frame = %+v", f)
		}
		var p MessagePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.ID != 77 {
			t.Fatalf("payload = %s (%v)", f.Payload, err)
		}
	}
}

func TestSwitchingChannelLeavesThePreviousOne(t *testing.T) {
	hub, url := startHub(t, 10)
	conn := dial(t, url)
	subscribe(t, conn, "t1")
	subscribe(t, conn, "t2")

	if n := hub.Broadcast(ChannelName("t1"), []byte(`{}`)); n != 0 {
		t.Fatalf("Broadcast(t1) reached %d clients, want 0 after switching", n)
	}
	if n := hub.Broadcast(ChannelName("t2"), []byte(`{"event":"x"}`)); n != 1 {
		t.Fatalf("Broadcast(t2) reached %d clients, want 1", n)
	}
	if f := readFrame(t, conn); f.Event != "x" {
		t.Fatalf("frame = %+v", f)
	}

	sendJSON(t, conn, IncomingMessage{Action: ActionUnsubscribe})
	if f := readFrame(t, conn); f.Event != string(EventUnsubscribed) {
		t.Fatalf("frame = %+v, want unsubscribed", f)
	}
	if n := hub.Broadcast(ChannelName("t2"), []byte(`{}`)); n != 0 {
		t.Fatalf("Broadcast(t2) after unsubscribe reached %d clients", n)
	}
}

func TestPingAndUnknownAction(t *testing.T) {
	_, url := startHub(t, 10)
	conn := dial(t, url)
	sendJSON(t, conn, IncomingMessage{Action: ActionPing})
	if f := readFrame(t, conn); f.Event != string(EventPong) {
		t.Fatalf("frame = %+v, want pong", f)
	}
	sendJSON(t, conn, map[string]string{"action": "dance"})
	if f := readFrame(t, conn); f.Event != string(EventError) {
		t.Fatalf("frame = %+v, want error", f)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	hub, url := startHub(t, 10)
	conn := dial(t, url)
	subscribe(t, conn, "t1")
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		clients, channels := hub.Stats()
		if clients == 0 && channels == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("after disconnect: clients=%d channels=%d", clients, channels)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		clients, _ := hub.Stats()
		if clients == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", clients, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestShutdownWithManyClients(t *testing.T) {
	const n = 100
	hub, url, cancel := startHubWithCancel(t, 1000)
	conns := make([]*websocket.Conn, 0, n)
	for range n {
		conns = append(conns, dial(t, url))
	}
	subscribe(t, conns[0], "t1")
	waitClients(t, hub, n)

	cancel()
	select {
	case <-hub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("hub.Run still running 5s after cancel with %d clients", n)
	}
	if clients, channels := hub.Stats(); clients != 0 || channels != 0 {
		t.Fatalf("after shutdown: clients=%d channels=%d", clients, channels)
	}
}

// serverConn returns the server side of a fresh websocket connection.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	ch := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ch <- conn
	}))
	t.Cleanup(srv.Close)
	dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	select {
	case conn := <-ch:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("no server connection")
		return nil
	}
}

func TestRegisterAfterUnregisterIsIgnored(t *testing.T) {
	hub := NewHub(tokenSet{}, 10)
	for range 20 {
		c := NewClient(hub, serverConn(t), "test")
		hub.Unregister(c)
		hub.Register(c)
	}
	if clients, _ := hub.Stats(); clients != 0 {
		t.Fatalf("clients = %d, want 0 for clients that left before registering", clients)
	}
}

func TestRegisterAfterShutdownClosesClient(t *testing.T) {
	hub := NewHub(tokenSet{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	c := NewClient(hub, serverConn(t), "late")
	hub.Register(c)
	select {
	case <-c.done:
	default:
		t.Fatal("client registered on a stopped hub is still open")
	}
	if clients, _ := hub.Stats(); clients != 0 {
		t.Fatalf("clients = %d, want 0", clients)
	}
}
