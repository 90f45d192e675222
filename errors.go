/*
Copyright © 2026 bentsai
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Domain errors surfaced to clients as a single "error" event. The
// message text is user-facing; handlers send err.Error() verbatim.
var (
	errRoomNotFound     = errors.New("Room not found")
	errPlayerNotFound   = errors.New("Player not found")
	errAlreadyStarted   = errors.New("Room already started")
	errRoomFull         = errors.New("Room is full")
	errAlreadyJoined    = errors.New("Already in room")
	errNotHost          = errors.New("Only the host can do that")
	errNotEnoughPlayers = errors.New("Need at least 2 players")
	errWrongState       = errors.New("Action not allowed right now")
	errBadIndex         = errors.New("Invalid card index")
	errLineIncomplete   = errors.New("All players must place their cards first")
	errAllCardsRevealed = errors.New("All cards revealed")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
