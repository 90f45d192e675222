package main

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"
)

const (
	codeLength  = 4
	codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Registry owns the code→Room map. It has its own lock, independent of
// per-room locking, so creating or resolving unrelated rooms never
// contends with mutating an existing one. Nothing else deletes rooms.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	now  func() time.Time
	deal dealer
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		now:   time.Now,
		deal:  dealNumbers,
	}
}

// Create allocates a fresh room in the lobby, seeded with its creator
// as host, under a collision-checked code.
func (reg *Registry) Create(hostID, hostName string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := reg.newCodeLocked()
	room := newRoom(code, hostID, hostName, reg.now, reg.deal)
	reg.rooms[code] = room

	return room
}

// Get resolves a code, upper-casing it first, and touches the room's
// activity clock as a side effect of live usage.
func (reg *Registry) Get(code string) (*Room, error) {
	code = strings.ToUpper(code)

	reg.mu.Lock()
	room, ok := reg.rooms[code]
	reg.mu.Unlock()

	if !ok {
		return nil, errRoomNotFound
	}

	room.Touch()
	return room, nil
}

// Remove drops a room whose player list has emptied.
func (reg *Registry) Remove(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, strings.ToUpper(code))
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// newCodeLocked generates a crypto-random room code, regenerating on
// collision with a live room.
func (reg *Registry) newCodeLocked() string {
	for {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, codeLength)
		for i := range out {
			out[i] = codeLetters[int(buf[i])%len(codeLetters)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

// Expire removes and returns every room idle since before now-timeout,
// regardless of status. The caller closes their connections.
func (reg *Registry) Expire(timeout time.Duration) []*Room {
	cutoff := reg.now().Add(-timeout)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	var expired []*Room
	for code, room := range reg.rooms {
		if room.LastActivity().Before(cutoff) {
			delete(reg.rooms, code)
			expired = append(expired, room)
		}
	}
	return expired
}
