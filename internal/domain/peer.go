// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxPeerIDLen      = 128
	MaxRoomNameLen    = 128
	MaxDisplayNameLen = 64
)

var (
	ErrPeerIDEmpty        = errors.New("peer id empty")
	ErrPeerIDTooLong      = errors.New("peer id too long")
	ErrRoomNameTooLong    = errors.New("room name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

// PeerID is chosen by the client and trusted as-is.
type PeerID string

// ParsePeerID trims and validates a caller supplied identifier.
func ParsePeerID(raw string) (PeerID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrPeerIDEmpty
	}
	if len(id) > MaxPeerIDLen {
		return "", ErrPeerIDTooLong
	}
	return PeerID(id), nil
}

// ParseRoomName trims the room name. Empty means "no room".
func ParseRoomName(raw string) (RoomName, error) {
	name := strings.TrimSpace(raw)
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(name), nil
}

// ParseDisplayName trims a display name and bounds its length in runes.
func ParseDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrDisplayNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}
