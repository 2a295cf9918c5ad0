package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meshroom/internal/adapters/signal"
	"github.com/dkeye/meshroom/internal/adapters/store"
	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/app/orch"
	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	orch *orch.Orchestrator
}

func newTestServer(t *testing.T, inviteLimit int, opts ...func(*config.Config)) *testServer {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>meshroom</html>"), 0o644))

	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		StaticPath: static,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	st := store.NewMemory()
	p := app.NewPersister(st, 16, time.Second)
	o := orch.New(app.NewRegistry(), app.NewRoomTable(), st, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, signal.NewRateLimiter(inviteLimit, time.Minute)))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = p.Close(context.Background())
	})
	return &testServer{Server: srv, orch: o}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (s *testServer) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws/signal"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	welcome := c.expect(protocol.TypeWelcome)
	c.id, _ = welcome["connectionId"].(string)
	require.NotEmpty(t, c.id)
	return c
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *wsClient) sendRaw(s string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(s)))
}

// expect reads until an event of type typ arrives.
func (c *wsClient) expect(typ string) map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		var m map[string]any
		require.NoError(c.t, json.Unmarshal(data, &m))
		if m["type"] == typ {
			return m
		}
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealthAndICEServers(t *testing.T) {
	s := newTestServer(t, 5)

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, s.URL+"/health", &health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 0, health["history_pending"])
	assert.EqualValues(t, 16, health["history_queue_size"])

	var ice struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, s.URL+"/api/ice-servers", &ice))
	require.Len(t, ice.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, ice.ICEServers[0].URLs)

	resp, err := http.Get(s.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignalingOverWebsocket(t *testing.T) {
	s := newTestServer(t, 5)
	a := s.dial(t)
	b := s.dial(t)

	a.send(protocol.Join{Type: protocol.TypeJoin, Room: "r1", User: domainIdentity("alice")})
	list := a.expect(protocol.TypePeerList)
	assert.Empty(t, list["peers"])
	a.expect(protocol.TypeHistory)

	b.send(protocol.Join{Type: protocol.TypeJoin, Room: "r1", User: domainIdentity("bob")})
	list = b.expect(protocol.TypePeerList)
	peers, _ := list["peers"].([]any)
	require.Len(t, peers, 1)
	assert.Equal(t, a.id, peers[0].(map[string]any)["id"])

	joined := a.expect(protocol.TypePeerJoined)
	assert.Equal(t, b.id, joined["peer"].(map[string]any)["id"])

	b.sendRaw(`{"type":"offer","to":"` + a.id + `","sdp":{"type":"offer","sdp":"v=0"}}`)
	offer := a.expect(protocol.TypeIncomingOffer)
	assert.Equal(t, b.id, offer["from"])
	assert.Equal(t, "v=0", offer["sdp"].(map[string]any)["sdp"])

	a.sendRaw(`{"type":"answer","to":"` + b.id + `","sdp":{"type":"answer","sdp":"v=0"}}`)
	answer := b.expect(protocol.TypeIncomingAnswer)
	assert.Equal(t, a.id, answer["from"])

	a.send(protocol.ChatMessage{Type: protocol.TypeChatMessage, Room: "r1", Message: "hi"})
	assert.Equal(t, "hi", a.expect(protocol.TypeReceiveMessage)["message"])
	assert.Equal(t, "hi", b.expect(protocol.TypeReceiveMessage)["message"])

	var rooms struct {
		Rooms []struct {
			ID          string `json:"id"`
			MemberCount int    `json:"member_count"`
		} `json:"rooms"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, s.URL+"/api/rooms", &rooms))
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, 2, rooms.Rooms[0].MemberCount)
	assert.Equal(t, http.StatusOK, getJSON(t, s.URL+"/api/rooms/r1", nil))

	require.NoError(t, b.conn.Close())
	left := a.expect(protocol.TypePeerLeft)
	assert.Equal(t, b.id, left["peerId"])

	assert.Eventually(t, func() bool {
		return len(s.orch.Rooms.Members("r1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusNotFound, getJSON(t, s.URL+"/api/rooms/missing", nil))
}

func TestMalformedFramesGetErrors(t *testing.T) {
	s := newTestServer(t, 5)
	a := s.dial(t)

	a.sendRaw(`not json`)
	assert.Equal(t, protocol.ErrBadPayload, a.expect(protocol.TypeError)["error"])

	a.sendRaw(`{"type":"teleport"}`)
	assert.Equal(t, protocol.ErrUnknownType, a.expect(protocol.TypeError)["error"])

	a.sendRaw(`{"type":"join","room":""}`)
	assert.Equal(t, protocol.ErrBadRoom, a.expect(protocol.TypeError)["error"])

	a.sendRaw(`{"type":"offer","sdp":{}}`)
	assert.Equal(t, protocol.ErrBadPayload, a.expect(protocol.TypeError)["error"])

	a.send(protocol.Envelope{Type: protocol.TypePing})
	a.expect(protocol.TypePong)
}

func TestInviteDeliveryAndRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	a := s.dial(t)
	b := s.dial(t)

	b.send(protocol.Register{Type: protocol.TypeRegister, UserID: "bob"})
	// ping round trips order the register before the invites.
	b.send(protocol.Envelope{Type: protocol.TypePing})
	b.expect(protocol.TypePong)

	invite := protocol.Invite{Type: protocol.TypeInvite, TargetUserID: "bob", Room: "r1", InviterName: "Alice"}
	for i := 0; i < 3; i++ {
		a.send(invite)
	}
	a.send(protocol.Envelope{Type: protocol.TypePing})
	a.expect(protocol.TypePong)

	got := b.expect(protocol.TypeInviteReceived)
	assert.Equal(t, "r1", got["room"])
	assert.Equal(t, "Alice", got["inviterName"])
	b.expect(protocol.TypeInviteReceived)

	// The third invite was over the limit.
	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := b.conn.ReadMessage()
	assert.Error(t, err)
}

func deleteRoom(t *testing.T, url, token string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestEvictRoomEndpoint(t *testing.T) {
	s := newTestServer(t, 5, func(cfg *config.Config) { cfg.AdminToken = "admin-secret" })
	a := s.dial(t)
	b := s.dial(t)
	a.send(protocol.Join{Type: protocol.TypeJoin, Room: "r1", User: domainIdentity("alice")})
	a.expect(protocol.TypeHistory)
	b.send(protocol.Join{Type: protocol.TypeJoin, Room: "r1", User: domainIdentity("bob")})
	b.expect(protocol.TypeHistory)

	assert.Equal(t, http.StatusUnauthorized, deleteRoom(t, s.URL+"/api/rooms/r1", ""))
	assert.Equal(t, http.StatusUnauthorized, deleteRoom(t, s.URL+"/api/rooms/r1", "wrong"))
	assert.Len(t, s.orch.Rooms.Members("r1"), 2)

	assert.Equal(t, http.StatusOK, deleteRoom(t, s.URL+"/api/rooms/r1", "admin-secret"))
	for _, c := range []*wsClient{a, b} {
		require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				break
			}
		}
	}
	assert.Eventually(t, func() bool {
		return len(s.orch.Rooms.Members("r1")) == 0 && s.orch.Registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusNotFound, deleteRoom(t, s.URL+"/api/rooms/r1", "admin-secret"))
}

func TestEvictRoomDisabledWithoutToken(t *testing.T) {
	s := newTestServer(t, 5)
	a := s.dial(t)
	a.send(protocol.Join{Type: protocol.TypeJoin, Room: "r1", User: domainIdentity("alice")})
	a.expect(protocol.TypeHistory)

	assert.Equal(t, http.StatusForbidden, deleteRoom(t, s.URL+"/api/rooms/r1", "anything"))
	assert.Len(t, s.orch.Rooms.Members("r1"), 1)
}

func domainIdentity(name string) domain.Identity {
	return domain.Identity{ID: domain.UserID(name), Name: name}
}
