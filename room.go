package main

import (
	"crypto/rand"
	"sync"
	"time"
)

type RoomStatus string

const (
	StatusLobby     RoomStatus = "lobby"
	StatusPlaying   RoomStatus = "playing"
	StatusRevealing RoomStatus = "revealing"
	StatusEnded     RoomStatus = "ended"
)

const (
	maxPlayers = 10
	minPlayers = 2

	// Dealt numbers are drawn without repetition from [1, dealRange].
	dealRange = 100
)

// Player is one seat in a room. Number is 0 until a round is dealt and
// must never reach another player except through a reveal.
type Player struct {
	ID     string
	Name   string
	Number int
}

// dealer returns count distinct numbers in [1, dealRange]. Injected so
// tests can fix the hand.
type dealer func(count int) []int

// dealNumbers draws distinct numbers with crypto/rand.
func dealNumbers(count int) []int {
	seen := make(map[int]bool, count)
	out := make([]int, 0, count)

	for len(out) < count {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		n := int(b[0])%dealRange + 1
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}

	return out
}

// Room is the authoritative state of one game session. All reads and
// writes go through methods that hold mu, so interleaved client actions
// apply atomically and in full.
type Room struct {
	mu sync.Mutex

	code         string
	hostID       string
	status       RoomStatus
	players      []*Player
	cardLine     []string
	revealIndex  int
	reveals      []Reveal
	category     string
	result       string
	lastActivity time.Time

	now  func() time.Time
	deal dealer
}

func newRoom(code, hostID, hostName string, now func() time.Time, deal dealer) *Room {
	r := &Room{
		code:   code,
		hostID: hostID,
		status: StatusLobby,
		players: []*Player{
			{ID: hostID, Name: hostName},
		},
		cardLine: []string{},
		now:      now,
		deal:     deal,
	}
	r.lastActivity = now()
	return r
}

func (r *Room) Code() string {
	return r.code
}

func (r *Room) touchLocked() {
	r.lastActivity = r.now()
}

// Touch marks the room as recently used; the registry calls it on every
// lookup that represents live usage.
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked()
}

func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Room) findPlayerLocked(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) HasPlayer(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findPlayerLocked(id) != nil
}

// PlayerIDs returns the current roster ids in join order.
func (r *Room) PlayerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, p.ID)
	}
	return ids
}

// Ended reports the terminal result, if any.
func (r *Room) Ended() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.status == StatusEnded
}

func (r *Room) Category() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.category
}

// Join seats a new player. Only legal while the room is in the lobby.
func (r *Room) Join(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if r.status != StatusLobby {
		return errAlreadyStarted
	}
	if len(r.players) >= maxPlayers {
		return errRoomFull
	}
	if r.findPlayerLocked(id) != nil {
		return errAlreadyJoined
	}

	r.players = append(r.players, &Player{ID: id, Name: name})
	return nil
}

// LeaveResult describes what changed when a player left.
type LeaveResult struct {
	Removed    bool
	PlayerName string
	NewHostID  string
	Empty      bool
}

// Leave removes a player in any phase. Their card leaves the line and
// the earliest remaining player inherits the host seat if needed. When
// the departing card sat inside the revealed prefix, revealIndex moves
// down with it and their entry drops out of the reveal history, so no
// still-hidden card ever shifts into the disclosed range.
func (r *Room) Leave(id string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	p := r.findPlayerLocked(id)
	if p == nil {
		return LeaveResult{}
	}

	res := LeaveResult{Removed: true, PlayerName: p.Name}

	dst := r.players[:0]
	for _, q := range r.players {
		if q.ID == id {
			continue
		}
		dst = append(dst, q)
	}
	r.players = dst

	line := r.cardLine[:0]
	for i, cid := range r.cardLine {
		if cid == id {
			if i < r.revealIndex {
				r.revealIndex--
			}
			continue
		}
		line = append(line, cid)
	}
	r.cardLine = line

	if len(r.reveals) > 0 {
		revs := r.reveals[:0]
		for _, rv := range r.reveals {
			if rv.PlayerID == id {
				continue
			}
			revs = append(revs, rv)
		}
		r.reveals = revs
	}

	if len(r.players) == 0 {
		res.Empty = true
		return res
	}

	if r.hostID == id {
		r.hostID = r.players[0].ID
		res.NewHostID = r.hostID
	}

	return res
}

// StartRound deals a fresh hand and moves to playing. Legal from the
// lobby and, for "play again", from an ended round.
func (r *Room) StartRound(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if callerID != r.hostID {
		return errNotHost
	}
	if r.status != StatusLobby && r.status != StatusEnded {
		return errWrongState
	}
	if len(r.players) < minPlayers {
		return errNotEnoughPlayers
	}

	numbers := r.deal(len(r.players))
	for i, p := range r.players {
		p.Number = numbers[i]
	}

	r.status = StatusPlaying
	r.cardLine = []string{}
	r.revealIndex = 0
	r.reveals = nil
	r.result = ""

	return nil
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

// PlaceCard repositions the player's card: remove-if-present, clamp,
// insert, as one atomic splice. Returns the settled position.
func (r *Room) PlaceCard(id string, position int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if r.status != StatusPlaying {
		return 0, errWrongState
	}
	if r.findPlayerLocked(id) == nil {
		return 0, errPlayerNotFound
	}

	line := r.cardLine[:0]
	for _, cid := range r.cardLine {
		if cid == id {
			continue
		}
		line = append(line, cid)
	}

	pos := clampIndex(position, len(line))
	line = append(line, "")
	copy(line[pos+1:], line[pos:])
	line[pos] = id
	r.cardLine = line

	return pos, nil
}

// MoveCard splices the card at fromIndex back in at a clamped toIndex.
// fromIndex is validated; toIndex is lenient, matching placement.
func (r *Room) MoveCard(fromIndex, toIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if r.status != StatusPlaying {
		return errWrongState
	}
	if fromIndex < 0 || fromIndex >= len(r.cardLine) {
		return errBadIndex
	}

	id := r.cardLine[fromIndex]
	line := append(r.cardLine[:fromIndex], r.cardLine[fromIndex+1:]...)

	pos := clampIndex(toIndex, len(line))
	line = append(line, "")
	copy(line[pos+1:], line[pos:])
	line[pos] = id
	r.cardLine = line

	return nil
}

// SetCategory sets the host's freeform label for the round.
func (r *Room) SetCategory(callerID, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if callerID != r.hostID {
		return errNotHost
	}

	r.category = category
	return nil
}

// StartReveal freezes the line and enters the reveal phase. The first
// card is disclosed by an immediate RevealNext from the caller.
func (r *Room) StartReveal(callerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if callerID != r.hostID {
		return errNotHost
	}
	if r.status != StatusPlaying {
		return errWrongState
	}
	if len(r.cardLine) != len(r.players) {
		return errLineIncomplete
	}

	r.status = StatusRevealing
	r.revealIndex = 0
	r.reveals = nil

	return nil
}

// Reveal is one disclosed card: its position, owner, number, and whether
// it kept the line ascending.
type Reveal struct {
	Index      int    `json:"index"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Number     int    `json:"number"`
	IsCorrect  bool   `json:"isCorrect"`
}

// RevealNext discloses the number at cardLine[revealIndex]. A card is
// correct when it is the first disclosure or its number is >= the
// previously disclosed one. A wrong card ends the round as a loss; a
// full line of correct cards ends it as a win.
func (r *Room) RevealNext(callerID string) (Reveal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchLocked()

	if callerID != r.hostID {
		return Reveal{}, errNotHost
	}
	if r.status != StatusRevealing {
		return Reveal{}, errWrongState
	}
	if r.revealIndex >= len(r.cardLine) {
		return Reveal{}, errAllCardsRevealed
	}

	current := r.findPlayerLocked(r.cardLine[r.revealIndex])

	// Compare against the last recorded disclosure rather than the line
	// position behind us; departures can drop revealed cards from the
	// line, and a never-disclosed neighbor must not decide correctness.
	correct := true
	if n := len(r.reveals); n > 0 && current.Number < r.reveals[n-1].Number {
		correct = false
	}

	rev := Reveal{
		Index:      r.revealIndex,
		PlayerID:   current.ID,
		PlayerName: current.Name,
		Number:     current.Number,
		IsCorrect:  correct,
	}

	r.reveals = append(r.reveals, rev)
	r.revealIndex++

	if !correct {
		r.status = StatusEnded
		r.result = "lose"
	} else if r.revealIndex >= len(r.cardLine) {
		r.status = StatusEnded
		r.result = "win"
	}

	return rev, nil
}

// RosterEntry is a player as everyone may see them: name, but never the
// number itself, only whether one has been dealt.
type RosterEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HasNumber bool   `json:"hasNumber"`
}

// RevealedCard is a disclosed number with its correctness flag.
type RevealedCard struct {
	Number    int  `json:"number"`
	IsCorrect bool `json:"isCorrect"`
}

// Snapshot is the censored view of a room for one requesting player.
type Snapshot struct {
	Code          string                  `json:"code"`
	HostID        string                  `json:"hostId"`
	Status        RoomStatus              `json:"status"`
	Players       []RosterEntry           `json:"players"`
	MyNumber      *int                    `json:"myNumber"`
	CardLine      []string                `json:"cardLine"`
	RevealIndex   int                     `json:"revealIndex"`
	Category      string                  `json:"category,omitempty"`
	RevealedCards map[string]RevealedCard `json:"revealedCards"`
	Result        string                  `json:"result,omitempty"`
}

// Snapshot projects the room for viewerID. The revealed cards come
// straight from the recorded reveal history, so the censored view can
// never disagree with what RevealNext actually disclosed.
func (r *Room) Snapshot(viewerID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster := make([]RosterEntry, 0, len(r.players))
	for _, p := range r.players {
		roster = append(roster, RosterEntry{
			ID:        p.ID,
			Name:      p.Name,
			HasNumber: p.Number != 0,
		})
	}

	var myNumber *int
	if p := r.findPlayerLocked(viewerID); p != nil && p.Number != 0 {
		n := p.Number
		myNumber = &n
	}

	revealed := make(map[string]RevealedCard)
	for _, rv := range r.reveals {
		revealed[rv.PlayerID] = RevealedCard{
			Number:    rv.Number,
			IsCorrect: rv.IsCorrect,
		}
	}

	line := make([]string, len(r.cardLine))
	copy(line, r.cardLine)

	return Snapshot{
		Code:          r.code,
		HostID:        r.hostID,
		Status:        r.status,
		Players:       roster,
		MyNumber:      myNumber,
		CardLine:      line,
		RevealIndex:   r.revealIndex,
		Category:      r.category,
		RevealedCards: revealed,
		Result:        r.result,
	}
}

// FinalCard is one entry of the settled line with its number uncensored,
// sent only once the round has ended.
type FinalCard struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Number   int    `json:"number"`
}

// FinalOrder returns the settled line for the result screen, or nil if
// the round has not ended.
func (r *Room) FinalOrder() []FinalCard {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusEnded {
		return nil
	}

	out := make([]FinalCard, 0, len(r.cardLine))
	for _, id := range r.cardLine {
		p := r.findPlayerLocked(id)
		if p == nil {
			continue
		}
		out = append(out, FinalCard{PlayerID: p.ID, Name: p.Name, Number: p.Number})
	}
	return out
}
