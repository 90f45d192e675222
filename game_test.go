package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinderRebindIsLastWriterWins(t *testing.T) {
	b := newBinder()
	c1 := &Client{send: make(chan any, 1)}
	c2 := &Client{send: make(chan any, 1)}

	b.Bind("WXYZ", "p1", c1)
	require.Same(t, c1, b.Lookup("WXYZ", "p1"))

	// Reconnect: the new handle overwrites unconditionally.
	b.Bind("WXYZ", "p1", c2)
	require.Same(t, c2, b.Lookup("WXYZ", "p1"))

	// The stale connection's teardown must not evict the new one.
	b.Unbind("WXYZ", "p1", c1)
	assert.Same(t, c2, b.Lookup("WXYZ", "p1"))

	b.Unbind("WXYZ", "p1", c2)
	assert.Nil(t, b.Lookup("WXYZ", "p1"))
}

func TestBinderDropRoom(t *testing.T) {
	b := newBinder()
	c1 := &Client{send: make(chan any, 1)}
	c2 := &Client{send: make(chan any, 1)}

	b.Bind("WXYZ", "p1", c1)
	b.Bind("WXYZ", "p2", c2)
	b.Bind("ABCD", "p1", c1)

	dropped := b.DropRoom("WXYZ")
	assert.Len(t, dropped, 2)
	assert.Nil(t, b.Lookup("WXYZ", "p1"))
	assert.Same(t, c1, b.Lookup("ABCD", "p1"))

	assert.Empty(t, b.DropRoom("WXYZ"))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &Config{
		sessionTimeout: time.Hour,
		sweepInterval:  time.Minute,
	}
	mux := httprouter.New()
	registerStringGame(cfg, make(chan error, 8), mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil decodes frames until one of the wanted type arrives,
// skipping interleaved snapshots and events.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", typ)
		if msg["type"] == typ {
			return msg
		}
	}
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestPlayFullRoundOverWebSocket(t *testing.T) {
	srv := newTestServer(t)

	host := dialWS(t, srv)
	readUntil(t, host, "session")
	sendMsg(t, host, map[string]any{"type": "create-game", "playerId": "host-1", "name": "Ann"})

	created := readUntil(t, host, "game-created")
	code, _ := created["code"].(string)
	require.Len(t, code, 4)

	peer := dialWS(t, srv)
	// Codes are case-normalized on input.
	sendMsg(t, peer, map[string]any{"type": "join-game", "code": strings.ToLower(code), "name": "Ben", "playerId": "peer-1"})
	readUntil(t, peer, "game-joined")

	joined := readUntil(t, host, "player-joined")
	assert.Equal(t, "peer-1", joined["playerId"])

	sendMsg(t, host, map[string]any{"type": "start-round"})
	hostNumber := int(readUntil(t, host, "round-started")["yourNumber"].(float64))
	peerNumber := int(readUntil(t, peer, "round-started")["yourNumber"].(float64))
	assert.NotEqual(t, hostNumber, peerNumber)

	// The snapshot shows the peer its own number and censors the host's.
	state := readUntil(t, peer, "game-state")
	assert.Equal(t, float64(peerNumber), state["myNumber"])
	for _, entry := range state["players"].([]any) {
		assert.NotContains(t, entry.(map[string]any), "number")
	}

	// Build an ascending line so the round is a guaranteed win.
	sendMsg(t, host, map[string]any{"type": "place-card", "position": 0})
	placed := readUntil(t, host, "card-placed")
	assert.Equal(t, "host-1", placed["playerId"])

	peerPos := 1
	if peerNumber < hostNumber {
		peerPos = 0
	}
	sendMsg(t, peer, map[string]any{"type": "place-card", "position": peerPos})

	// Wait until the host has seen the peer's placement, so the line is
	// complete server-side before the reveal starts.
	placed = readUntil(t, host, "card-placed")
	assert.Equal(t, "peer-1", placed["playerId"])

	sendMsg(t, host, map[string]any{"type": "set-category", "category": "age of our houseplants"})
	updated := readUntil(t, peer, "category-updated")
	assert.Equal(t, "age of our houseplants", updated["category"])

	sendMsg(t, host, map[string]any{"type": "start-reveal"})
	readUntil(t, peer, "reveal-started")

	first := readUntil(t, peer, "card-revealed")
	assert.Equal(t, true, first["isCorrect"])

	sendMsg(t, host, map[string]any{"type": "reveal-next"})
	second := readUntil(t, peer, "card-revealed")
	assert.Equal(t, true, second["isCorrect"])

	ended := readUntil(t, peer, "round-ended")
	assert.Equal(t, "win", ended["result"])
	assert.Equal(t, "age of our houseplants", ended["category"])
	assert.Len(t, ended["finalOrder"].([]any), 2)
}

func TestRejoinRestoresSeat(t *testing.T) {
	srv := newTestServer(t)

	host := dialWS(t, srv)
	sendMsg(t, host, map[string]any{"type": "create-game", "playerId": "host-1", "name": "Ann"})
	code := readUntil(t, host, "game-created")["code"].(string)

	peer := dialWS(t, srv)
	sendMsg(t, peer, map[string]any{"type": "join-game", "code": code, "name": "Ben", "playerId": "peer-1"})
	readUntil(t, peer, "game-joined")
	readUntil(t, host, "player-joined")

	sendMsg(t, host, map[string]any{"type": "start-round"})
	peerNumber := readUntil(t, peer, "round-started")["yourNumber"]

	// Transport drop: the seat and number survive.
	require.NoError(t, peer.Close())

	reconnected := dialWS(t, srv)
	sendMsg(t, reconnected, map[string]any{"type": "rejoin-game", "code": code, "name": "Ben", "playerId": "peer-1"})
	readUntil(t, reconnected, "rejoin-success")

	state := readUntil(t, reconnected, "game-state")
	assert.Equal(t, peerNumber, state["myNumber"])
	assert.Equal(t, "playing", state["status"])
	assert.Len(t, state["players"].([]any), 2)
}

func TestRejoinUnknownRoomFails(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	sendMsg(t, conn, map[string]any{"type": "rejoin-game", "code": "ZZZZ", "name": "Ben", "playerId": "peer-1"})
	readUntil(t, conn, "rejoin-failed")
}

func TestLeaveHandsOverHostAndEmptiesRoom(t *testing.T) {
	srv := newTestServer(t)

	host := dialWS(t, srv)
	sendMsg(t, host, map[string]any{"type": "create-game", "playerId": "host-1", "name": "Ann"})
	code := readUntil(t, host, "game-created")["code"].(string)

	peer := dialWS(t, srv)
	sendMsg(t, peer, map[string]any{"type": "join-game", "code": code, "name": "Ben", "playerId": "peer-1"})
	readUntil(t, peer, "game-joined")

	sendMsg(t, host, map[string]any{"type": "leave-game"})

	left := readUntil(t, peer, "player-left")
	assert.Equal(t, "host-1", left["playerId"])

	changed := readUntil(t, peer, "host-changed")
	assert.Equal(t, "peer-1", changed["newHostId"])

	sendMsg(t, peer, map[string]any{"type": "leave-game"})

	// leave-game has no ack; give the server a moment to process it.
	time.Sleep(100 * time.Millisecond)

	// The emptied room is gone; its code no longer resolves.
	late := dialWS(t, srv)
	sendMsg(t, late, map[string]any{"type": "join-game", "code": code, "name": "Cam", "playerId": "late-1"})
	errMsg := readUntil(t, late, "error")
	assert.Equal(t, errRoomNotFound.Error(), errMsg["message"])
}

func TestActionsBeforeJoiningError(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	sendMsg(t, conn, map[string]any{"type": "start-round"})
	errMsg := readUntil(t, conn, "error")
	assert.Equal(t, errRoomNotFound.Error(), errMsg["message"])
}

func TestNonHostCannotDriveTheRound(t *testing.T) {
	srv := newTestServer(t)

	host := dialWS(t, srv)
	sendMsg(t, host, map[string]any{"type": "create-game", "playerId": "host-1", "name": "Ann"})
	code := readUntil(t, host, "game-created")["code"].(string)

	peer := dialWS(t, srv)
	sendMsg(t, peer, map[string]any{"type": "join-game", "code": code, "name": "Ben", "playerId": "peer-1"})
	readUntil(t, peer, "game-joined")

	sendMsg(t, peer, map[string]any{"type": "start-round"})
	errMsg := readUntil(t, peer, "error")
	assert.Equal(t, errNotHost.Error(), errMsg["message"])
}
