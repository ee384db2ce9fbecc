package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"couple-sync-backend/internal/services"

	"github.com/gorilla/websocket"
)

type wsTestClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, server *httptest.Server, token string) *wsTestClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsTestClient{t: t, conn: conn}
}

func (c *wsTestClient) send(msg services.WSMessage) {
	c.t.Helper()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("failed to write: %v", err)
	}
}

// waitFor reads messages until match returns true
func (c *wsTestClient) waitFor(desc string, match func(services.WSMessage) bool) services.WSMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", desc, err)
		}
		var msg services.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.t.Fatalf("bad message %q: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func snapshotOf(collection string, n int) func(services.WSMessage) bool {
	return func(msg services.WSMessage) bool {
		if msg.Type != services.MessageSnapshot || msg.Collection != collection {
			return false
		}
		if msg.IsLoading != nil && *msg.IsLoading {
			return false
		}
		items, ok := msg.Data.([]interface{})
		return ok && len(items) == n
	}
}

func hasPair(want bool) func(services.WSMessage) bool {
	return func(msg services.WSMessage) bool {
		if msg.Type != services.MessagePairStatus {
			return false
		}
		data, _ := msg.Data.(map[string]interface{})
		return data["has_pair"] == want
	}
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestWebSocket_SnapshotsFollowChanges(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	alice, bob, pair := app.pairUsers(t)
	ws := dialWS(t, server, alice.Token)

	status := ws.waitFor("pair status", hasPair(true))
	if data := status.Data.(map[string]interface{}); data["pair_id"] != pair.ID || data["partner_id"] != bob.UID {
		t.Fatalf("unexpected pair status: %+v", data)
	}

	ws.send(services.WSMessage{Type: services.MessageSubscribe, Collection: "todos"})
	ws.waitFor("empty snapshot", snapshotOf("todos", 0))

	if code := app.do(t, http.MethodPost, "/api/v1/todos", bob.Token, map[string]string{"title": "Pick up keys"}, nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	ws.waitFor("snapshot with new todo", snapshotOf("todos", 1))

	ws.send(services.WSMessage{Type: services.MessageRefresh, Collection: "todos"})
	ws.waitFor("refetching snapshot", func(msg services.WSMessage) bool {
		return msg.Type == services.MessageSnapshot && msg.IsRefetching != nil && *msg.IsRefetching
	})
	ws.waitFor("refreshed snapshot", snapshotOf("todos", 1))
}

func TestWebSocket_PairDeletionUnbindsViews(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	alice, bob, pair := app.pairUsers(t)
	app.do(t, http.MethodPost, "/api/v1/stickers", alice.Token,
		map[string]string{"name": "Heart", "image_url": "https://cdn.example.com/heart.png"}, nil)

	ws := dialWS(t, server, alice.Token)
	ws.waitFor("pair status", hasPair(true))
	ws.send(services.WSMessage{Type: services.MessageSubscribe, Collection: "stickers"})
	ws.waitFor("sticker snapshot", snapshotOf("stickers", 1))

	if code := app.do(t, http.MethodDelete, "/api/v1/pairs/"+pair.ID, bob.Token, nil, nil); code != http.StatusNoContent {
		t.Fatalf("unpair status = %d", code)
	}

	ws.waitFor("pair deleted", func(msg services.WSMessage) bool { return msg.Type == services.MessagePairDeleted })
	ws.waitFor("unbound snapshot", snapshotOf("stickers", 0))
	ws.waitFor("unpaired status", hasPair(false))
}

func TestWebSocket_PairCreationBindsViews(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	alice := app.createUser(t)
	bob := app.createUser(t)

	ws := dialWS(t, server, alice.Token)
	ws.waitFor("unpaired status", hasPair(false))

	ws.send(services.WSMessage{Type: services.MessageSubscribe, Collection: "favorites"})
	ws.waitFor("not paired error", func(msg services.WSMessage) bool {
		return msg.Type == services.MessageError && msg.Code == "NOT_PAIRED"
	})

	var code PairCodeResponse
	app.do(t, http.MethodPost, "/api/v1/pairing/codes", alice.Token, nil, &code)
	app.do(t, http.MethodPost, "/api/v1/pairing/redeem", bob.Token, RedeemRequest{Code: code.Code}, nil)

	ws.waitFor("pair created", func(msg services.WSMessage) bool { return msg.Type == services.MessagePairCreated })
	ws.waitFor("paired status", hasPair(true))

	app.do(t, http.MethodPost, "/api/v1/favorites", bob.Token, map[string]string{"title": "Ramen"}, nil)
	ws.waitFor("favorite snapshot", snapshotOf("favorites", 1))
}

func TestWebSocket_PartnerPresence(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	alice, bob, _ := app.pairUsers(t)

	aliceWS := dialWS(t, server, alice.Token)
	aliceWS.waitFor("pair status", hasPair(true))

	bobWS := dialWS(t, server, bob.Token)
	bobStatus := bobWS.waitFor("pair status", hasPair(true))
	if online := bobStatus.Data.(map[string]interface{})["partner_online"]; online != true {
		t.Errorf("partner_online = %v, want true", online)
	}

	aliceWS.waitFor("partner online", func(msg services.WSMessage) bool {
		return msg.Type == services.MessagePartnerStatus && msg.Online != nil && *msg.Online
	})

	bobWS.conn.Close()
	aliceWS.waitFor("partner offline", func(msg services.WSMessage) bool {
		return msg.Type == services.MessagePartnerStatus && msg.Online != nil && !*msg.Online
	})
}

func TestWebSocket_UnknownCollection(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	alice, _, _ := app.pairUsers(t)
	ws := dialWS(t, server, alice.Token)
	ws.waitFor("pair status", hasPair(true))

	ws.send(services.WSMessage{Type: services.MessageSubscribe, Collection: "photos"})
	msg := ws.waitFor("error", func(msg services.WSMessage) bool { return msg.Type == services.MessageError })
	if msg.Collection != "photos" || msg.Code != "INVALID_INPUT" {
		t.Errorf("unexpected error: %+v", msg)
	}
}
