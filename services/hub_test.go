package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair spins up an echo-less websocket server and dials it, returning
// the client side of the connection.
func wsPair(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func addClient(hub *Hub, conn *websocket.Conn, code string, userID uint, buffer int) *Client {
	client := &Client{
		hub:         hub,
		socket:      conn,
		send:        make(chan []byte, buffer),
		sessionCode: code,
		userID:      userID,
		username:    "racer",
	}
	hub.mutex.Lock()
	hub.clients[client] = true
	hub.mutex.Unlock()
	return client
}

// A client that stops draining its send channel gets dropped, and
// concurrent broadcasts and unicasts racing that drop must not panic:
// only the hub loop may close a send channel.
func TestSlowClientDroppedWithoutPanic(t *testing.T) {
	hub := NewHub(nil)

	slow := addClient(hub, wsPair(t), "RACE0001", 1, 1)
	slow.send <- []byte("backlog") // no write pump running; buffer is now full

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.BroadcastToSession("RACE0001", NewNotification("tick"))
			hub.sendTo(slow, NewNotification("tock"))
		}()
	}
	wg.Wait()

	hub.mutex.RLock()
	_, still := hub.clients[slow]
	hub.mutex.RUnlock()
	assert.False(t, still, "slow client should have been dropped")

	select {
	case _, open := <-slow.send:
		assert.True(t, open, "send channel must stay open until unregister")
	default:
		t.Fatal("queued message should still be in the buffer")
	}
}

// Dropping a slow client must not disturb delivery to a healthy client
// on the same topic.
func TestBroadcastStillReachesHealthyClients(t *testing.T) {
	hub := NewHub(nil)

	slow := addClient(hub, wsPair(t), "RACE0002", 1, 1)
	slow.send <- []byte("backlog")
	healthy := addClient(hub, wsPair(t), "RACE0002", 2, 16)
	other := addClient(hub, wsPair(t), "OTHER999", 3, 16)

	hub.BroadcastToSession("RACE0002", NewNotification("race update"))

	require.Len(t, healthy.send, 1)
	assert.Empty(t, other.send, "other sessions must not hear the broadcast")
}

// sendTo after a client has been dropped is a no-op, not a panic.
func TestSendToDroppedClientIsNoOp(t *testing.T) {
	hub := NewHub(nil)

	client := addClient(hub, wsPair(t), "RACE0003", 1, 1)
	client.send <- []byte("backlog")

	hub.BroadcastToSession("RACE0003", NewNotification("fills nothing")) // drops it
	hub.sendTo(client, NewNotification("late unicast"))

	assert.Len(t, client.send, 1, "nothing new queued after the drop")
}
