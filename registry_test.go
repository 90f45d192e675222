package main

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

func TestCreateAssignsUniqueCodes(t *testing.T) {
	reg := newRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		room := reg.Create("host", "Host")
		require.Regexp(t, codePattern, room.Code())
		assert.False(t, seen[room.Code()], "code %s issued twice", room.Code())
		seen[room.Code()] = true
	}
	assert.Equal(t, 200, reg.Len())
}

func TestGetNormalizesCase(t *testing.T) {
	reg := newRegistry()
	room := reg.Create("host", "Host")

	found, err := reg.Get(room.Code())
	require.NoError(t, err)
	assert.Same(t, room, found)

	found, err = reg.Get(strings.ToLower(room.Code()))
	require.NoError(t, err)
	assert.Same(t, room, found)

	_, err = reg.Get("NOPE")
	assert.ErrorIs(t, err, errRoomNotFound)
}

func TestRemove(t *testing.T) {
	reg := newRegistry()
	room := reg.Create("host", "Host")

	reg.Remove(room.Code())

	_, err := reg.Get(room.Code())
	assert.ErrorIs(t, err, errRoomNotFound)
	assert.Zero(t, reg.Len())
}

func TestGetTouchesActivity(t *testing.T) {
	clock := time.Unix(1000, 0)
	reg := newRegistry()
	reg.now = func() time.Time { return clock }

	room := reg.Create("host", "Host")
	created := room.LastActivity()

	clock = clock.Add(30 * time.Minute)
	_, err := reg.Get(room.Code())
	require.NoError(t, err)

	assert.True(t, room.LastActivity().After(created))
}

func TestExpireRemovesOnlyIdleRooms(t *testing.T) {
	clock := time.Unix(1000, 0)
	reg := newRegistry()
	reg.now = func() time.Time { return clock }

	stale := reg.Create("a", "Ann")
	fresh := reg.Create("b", "Ben")

	clock = clock.Add(59 * time.Minute)
	_, err := reg.Get(fresh.Code())
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)

	expired := reg.Expire(time.Hour)
	require.Len(t, expired, 1)
	assert.Same(t, stale, expired[0])

	_, err = reg.Get(stale.Code())
	assert.ErrorIs(t, err, errRoomNotFound)
	_, err = reg.Get(fresh.Code())
	assert.NoError(t, err)
}

func TestExpireIgnoresStatus(t *testing.T) {
	clock := time.Unix(1000, 0)
	reg := newRegistry()
	reg.now = func() time.Time { return clock }
	reg.deal = fixedDeal(5, 6)

	room := reg.Create("a", "Ann")
	require.NoError(t, room.Join("b", "Ben"))
	require.NoError(t, room.StartRound("a"))

	clock = clock.Add(2 * time.Hour)

	expired := reg.Expire(time.Hour)
	assert.Len(t, expired, 1)
}
