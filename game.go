// Theory String
//
// Each player is privately dealt a number. The group talks its way into
// one shared ordering, placing face-down cards on a line, then the host
// flips them left to right: if every card is >= the one before it, the
// room wins together.
//
// Features:
// - One WebSocket per client at /ws; rooms addressed by 4-char codes
// - Creator of a room is host (start round, set category, drive reveals)
// - Each client only ever sees its own number plus the revealed prefix
// - Reconnects rebind the socket to the same seat without state changes
// - Transport drops never remove a player; only leave-game or expiry do
// - Rooms auto-reaped after a configurable idle timeout
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// ClientMessage is the closed set of inbound actions. Type selects the
// action; the remaining fields are its payload.
type ClientMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Name      string `json:"name,omitempty"`
	PlayerID  string `json:"playerId,omitempty"`
	Position  *int   `json:"position,omitempty"`
	FromIndex *int   `json:"fromIndex,omitempty"`
	ToIndex   *int   `json:"toIndex,omitempty"`
	Category  string `json:"category,omitempty"`
}

// SessionMessage offers a server-issued player id to clients that
// connect without one stored.
type SessionMessage struct {
	Type     string `json:"type"` // "session"
	PlayerID string `json:"playerId"`
}

// CodeMessage acknowledges create/join/rejoin with the room code.
type CodeMessage struct {
	Type string `json:"type"` // "game-created", "game-joined", "rejoin-success"
	Code string `json:"code"`
}

// SimpleMessage is for generic notifications ("rejoin-failed", "error").
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// StateMessage carries one player's censored snapshot, re-sent to every
// seated player after each mutation.
type StateMessage struct {
	Type string `json:"type"` // "game-state"
	Snapshot
}

type PlayerJoinedMessage struct {
	Type     string `json:"type"` // "player-joined"
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

type PlayerLeftMessage struct {
	Type       string `json:"type"` // "player-left"
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type HostChangedMessage struct {
	Type      string `json:"type"` // "host-changed"
	NewHostID string `json:"newHostId"`
}

// RoundStartedMessage is per-player: it carries that player's number.
type RoundStartedMessage struct {
	Type       string `json:"type"` // "round-started"
	YourNumber int    `json:"yourNumber"`
}

type CardPlacedMessage struct {
	Type       string `json:"type"` // "card-placed"
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Position   int    `json:"position"`
}

type CardMovedMessage struct {
	Type      string `json:"type"` // "card-moved"
	FromIndex int    `json:"fromIndex"`
	ToIndex   int    `json:"toIndex"`
}

type CategoryUpdatedMessage struct {
	Type     string `json:"type"` // "category-updated"
	Category string `json:"category"`
}

type CardRevealedMessage struct {
	Type string `json:"type"` // "card-revealed"
	Reveal
}

type RoundEndedMessage struct {
	Type       string      `json:"type"` // "round-ended"
	Result     string      `json:"result"`
	FinalOrder []FinalCard `json:"finalOrder"`
	Category   string      `json:"category,omitempty"`
}

// Client is one live WebSocket connection. playerID, playerName, and
// roomCode are the connection's session and are only touched from its
// own readPump goroutine.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan any
	closed bool

	playerID   string
	playerName string
	roomCode   string
}

// Close shuts the write side down exactly once; writePump then closes
// the underlying connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// trySend queues a message without blocking. A closed client drops it;
// a client that cannot keep up loses it and catches up from the next
// snapshot.
func (c *Client) trySend(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Binder maps (room code, player id) to the live connection currently
// representing that player. Rebinding is last-writer-wins; an unbind
// only takes effect if the binding still points at the caller, so a
// reconnect that already rebound is never clobbered by the old socket's
// teardown.
type Binder struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Client
}

func newBinder() *Binder {
	return &Binder{conns: make(map[string]map[string]*Client)}
}

func (b *Binder) Bind(code, playerID string, c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.conns[code]
	if !ok {
		room = make(map[string]*Client)
		b.conns[code] = room
	}
	room[playerID] = c
}

func (b *Binder) Lookup(code, playerID string) *Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conns[code][playerID]
}

func (b *Binder) Unbind(code, playerID string, c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.conns[code]
	if !ok {
		return
	}
	if room[playerID] != c {
		return
	}
	delete(room, playerID)
	if len(room) == 0 {
		delete(b.conns, code)
	}
}

// DropRoom removes every binding for a room and returns the clients
// that were bound, so the caller can close them.
func (b *Binder) DropRoom(code string) []*Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.conns[code]
	if !ok {
		return nil
	}
	delete(b.conns, code)

	clients := make([]*Client, 0, len(room))
	for _, c := range room {
		clients = append(clients, c)
	}
	return clients
}

// GameServer wires the registry, the binder, and the WebSocket
// endpoint together.
type GameServer struct {
	cfg      *Config
	registry *Registry
	binder   *Binder
}

func newGameServer(cfg *Config) *GameServer {
	return &GameServer{
		cfg:      cfg,
		registry: newRegistry(),
		binder:   newBinder(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (g *GameServer) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(g.cfg, "GAMES: upgrade error: %v", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 16),
		}

		go client.writePump()

		// Offer an id; clients that already hold one keep theirs.
		g.trySend(client, SessionMessage{Type: "session", PlayerID: uuid.NewString()})

		client.readPump(g)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(g *GameServer) {
	defer func() {
		// A transport drop is not a leave: the seat, number, and card
		// stay until the player leaves or the room expires.
		if c.roomCode != "" && c.playerID != "" {
			g.binder.Unbind(c.roomCode, c.playerID, c)
		}
		c.Close()
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "create-game":
			g.handleCreate(c, msg)
		case "join-game":
			g.handleJoin(c, msg)
		case "rejoin-game":
			g.handleRejoin(c, msg)
		case "leave-game":
			g.handleLeave(c)
		case "start-round", "play-again":
			g.handleStartRound(c)
		case "place-card":
			g.handlePlaceCard(c, msg)
		case "move-card":
			g.handleMoveCard(c, msg)
		case "set-category":
			g.handleSetCategory(c, msg)
		case "start-reveal":
			g.handleStartReveal(c)
		case "reveal-next":
			g.handleRevealNext(c)
		default:
			// ignore unknown types
		}
	}
}

func (g *GameServer) trySend(c *Client, msg any) {
	if !c.trySend(msg) {
		logf(g.cfg, "GAMES: dropped message to slow or closed client")
	}
}

func (g *GameServer) sendError(c *Client, err error) {
	g.trySend(c, SimpleMessage{Type: "error", Message: err.Error()})
}

// broadcast sends one message to every seated player with a live
// connection, optionally skipping one player id.
func (g *GameServer) broadcast(room *Room, except string, msg any) {
	for _, id := range room.PlayerIDs() {
		if id == except {
			continue
		}
		if c := g.binder.Lookup(room.Code(), id); c != nil {
			g.trySend(c, msg)
		}
	}
}

// broadcastState recomputes and re-sends the censored snapshot for each
// seated player independently: a player's own number is the only number
// they are entitled to see outside the revealed prefix.
func (g *GameServer) broadcastState(room *Room) {
	for _, id := range room.PlayerIDs() {
		if c := g.binder.Lookup(room.Code(), id); c != nil {
			g.trySend(c, StateMessage{Type: "game-state", Snapshot: room.Snapshot(id)})
		}
	}
}

func (g *GameServer) handleCreate(c *Client, msg ClientMessage) {
	if msg.PlayerID == "" || msg.Name == "" {
		return
	}

	room := g.registry.Create(msg.PlayerID, msg.Name)

	c.playerID = msg.PlayerID
	c.playerName = msg.Name
	c.roomCode = room.Code()
	g.binder.Bind(room.Code(), msg.PlayerID, c)

	logf(g.cfg, "GAMES: Player %q created room %s", msg.Name, room.Code())

	g.trySend(c, CodeMessage{Type: "game-created", Code: room.Code()})
	g.trySend(c, StateMessage{Type: "game-state", Snapshot: room.Snapshot(msg.PlayerID)})
}

func (g *GameServer) handleJoin(c *Client, msg ClientMessage) {
	if msg.PlayerID == "" || msg.Name == "" {
		return
	}

	code := strings.ToUpper(msg.Code)

	room, err := g.registry.Get(code)
	if err != nil {
		g.sendError(c, err)
		return
	}

	if err := room.Join(msg.PlayerID, msg.Name); err != nil {
		g.sendError(c, err)
		return
	}

	c.playerID = msg.PlayerID
	c.playerName = msg.Name
	c.roomCode = code
	g.binder.Bind(code, msg.PlayerID, c)

	logf(g.cfg, "GAMES: Player %q joined room %s", msg.Name, code)

	g.broadcast(room, msg.PlayerID, PlayerJoinedMessage{
		Type:     "player-joined",
		PlayerID: msg.PlayerID,
		Name:     msg.Name,
	})
	g.trySend(c, CodeMessage{Type: "game-joined", Code: code})
	g.broadcastState(room)
}

func (g *GameServer) handleRejoin(c *Client, msg ClientMessage) {
	if msg.PlayerID == "" {
		g.trySend(c, SimpleMessage{Type: "rejoin-failed"})
		return
	}

	code := strings.ToUpper(msg.Code)

	room, err := g.registry.Get(code)
	if err != nil || !room.HasPlayer(msg.PlayerID) {
		g.trySend(c, SimpleMessage{Type: "rejoin-failed"})
		return
	}

	c.playerID = msg.PlayerID
	c.playerName = msg.Name
	c.roomCode = code
	g.binder.Bind(code, msg.PlayerID, c)

	logf(g.cfg, "GAMES: Player %q (%s) rejoined room %s", msg.Name, msg.PlayerID, code)

	g.trySend(c, CodeMessage{Type: "rejoin-success", Code: code})
	g.trySend(c, StateMessage{Type: "game-state", Snapshot: room.Snapshot(msg.PlayerID)})

	// Land a reloading client on the result screen, not the lobby.
	if result, ended := room.Ended(); ended {
		g.trySend(c, RoundEndedMessage{
			Type:       "round-ended",
			Result:     result,
			FinalOrder: room.FinalOrder(),
			Category:   room.Category(),
		})
	}
}

func (g *GameServer) handleLeave(c *Client) {
	if c.roomCode == "" || c.playerID == "" {
		return
	}

	room, err := g.registry.Get(c.roomCode)
	if err != nil {
		c.roomCode, c.playerID, c.playerName = "", "", ""
		return
	}

	res := room.Leave(c.playerID)
	g.binder.Unbind(c.roomCode, c.playerID, c)

	if res.Removed {
		logf(g.cfg, "GAMES: Player %q left room %s", res.PlayerName, c.roomCode)

		if res.Empty {
			g.registry.Remove(c.roomCode)
		} else {
			g.broadcast(room, c.playerID, PlayerLeftMessage{
				Type:       "player-left",
				PlayerID:   c.playerID,
				PlayerName: res.PlayerName,
			})
			if res.NewHostID != "" {
				g.broadcast(room, "", HostChangedMessage{
					Type:      "host-changed",
					NewHostID: res.NewHostID,
				})
			}
			g.broadcastState(room)
		}
	}

	c.roomCode, c.playerID, c.playerName = "", "", ""
}

func (g *GameServer) handleStartRound(c *Client) {
	room, ok := g.resolve(c)
	if !ok {
		return
	}

	if err := room.StartRound(c.playerID); err != nil {
		g.sendError(c, err)
		return
	}

	logf(g.cfg, "GAMES: Round started in room %s", room.Code())

	// Each player learns their own number and nothing else.
	for _, id := range room.PlayerIDs() {
		peer := g.binder.Lookup(room.Code(), id)
		if peer == nil {
			continue
		}
		snap := room.Snapshot(id)
		if snap.MyNumber != nil {
			g.trySend(peer, RoundStartedMessage{Type: "round-started", YourNumber: *snap.MyNumber})
		}
		g.trySend(peer, StateMessage{Type: "game-state", Snapshot: snap})
	}
}

func (g *GameServer) handlePlaceCard(c *Client, msg ClientMessage) {
	room, ok := g.resolve(c)
	if !ok {
		return
	}

	position := 0
	if msg.Position != nil {
		position = *msg.Position
	}

	settled, err := room.PlaceCard(c.playerID, position)
	if err != nil {
		g.sendError(c, err)
		return
	}

	g.broadcast(room, "", CardPlacedMessage{
		Type:       "card-placed",
		PlayerID:   c.playerID,
		PlayerName: c.playerName,
		Position:   settled,
	})
	g.broadcastState(room)
}

func (g *GameServer) handleMoveCard(c *Client, msg ClientMessage) {
	room, ok := g.resolve(c)
	if !ok {
		return
	}

	if msg.FromIndex == nil || msg.ToIndex == nil {
		g.sendError(c, errBadIndex)
		return
	}

	if err := room.MoveCard(*msg.FromIndex, *msg.ToIndex); err != nil {
		g.sendError(c, err)
		return
	}

	g.broadcast(room, "", CardMovedMessage{
		Type:      "card-moved",
		FromIndex: *msg.FromIndex,
		ToIndex:   *msg.ToIndex,
	})
	g.broadcastState(room)
}

func (g *GameServer) handleSetCategory(c *Client, msg ClientMessage) {
	room, ok := g.resolve(c)
	if !ok {
		return
	}

	if err := room.SetCategory(c.playerID, msg.Category); err != nil {
		g.sendError(c, err)
		return
	}

	g.broadcast(room, "", CategoryUpdatedMessage{
		Type:     "category-updated",
		Category: msg.Category,
	})
	g.broadcastState(room)
}

func (g *GameServer) handleStartReveal(c *Client) {
	room, ok := g.resolve(c)
	if !ok {
		return
	}

	if err := room.StartReveal(c.playerID); err != nil {
		g.sendError(c, err)
		return
	}

	g.broadcast(room, "", SimpleMessage{Type: "reveal-started"})

	// The first card flips immediately.
	g.revealOne(c, room)
}

func (g *GameServer) handleRevealNext(c *Client) {
	room, ok := g.resolve(c)
	if !ok {
		return
	}

	g.revealOne(c, room)
}

func (g *GameServer) revealOne(c *Client, room *Room) {
	rev, err := room.RevealNext(c.playerID)
	if err != nil {
		g.sendError(c, err)
		return
	}

	g.broadcast(room, "", CardRevealedMessage{Type: "card-revealed", Reveal: rev})

	if result, ended := room.Ended(); ended {
		logf(g.cfg, "GAMES: Room %s ended: %s", room.Code(), result)
		g.broadcast(room, "", RoundEndedMessage{
			Type:       "round-ended",
			Result:     result,
			FinalOrder: room.FinalOrder(),
			Category:   room.Category(),
		})
	}

	g.broadcastState(room)
}

// resolve maps a connection back to its room, erroring out clients that
// act before creating or joining one.
func (g *GameServer) resolve(c *Client) (*Room, bool) {
	if c.roomCode == "" || c.playerID == "" {
		g.sendError(c, errRoomNotFound)
		return nil, false
	}

	room, err := g.registry.Get(c.roomCode)
	if err != nil {
		g.sendError(c, err)
		return nil, false
	}

	return room, true
}

// sweepLoop periodically removes rooms idle past the session timeout
// and disconnects whoever is still bound to them.
func (g *GameServer) sweepLoop(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	for range ticker.C {
		for _, room := range g.registry.Expire(timeout) {
			logf(g.cfg, "GAMES: Reaped idle room %s", room.Code())
			for _, c := range g.binder.DropRoom(room.Code()) {
				c.Close()
			}
		}
	}
}

// qrHandler generates a PNG QR code for the current room URL.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /play/:code/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerStringGame sets up routes so that:
//   - $prefix/play/:code      → HTML client for that room
//   - $prefix/play/:code/qr   → PNG QR code for that room URL
//   - $prefix/ws              → shared WebSocket endpoint
func registerStringGame(cfg *Config, errs chan<- error, mux *httprouter.Router) *GameServer {
	gs := newGameServer(cfg)

	go gs.sweepLoop(cfg.sweepInterval, cfg.sessionTimeout)

	mux.GET(cfg.prefix+"/play/:code", servePlayPage(cfg, errs))
	mux.GET(cfg.prefix+"/play/:code/qr", qrHandler)
	mux.GET(cfg.prefix+"/ws", gs.serveWS())

	return gs
}
