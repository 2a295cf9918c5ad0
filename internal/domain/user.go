// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"unicode/utf8"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrEmptyUserID   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type (
	UserID       string
	ConnectionID string
)

// Identity is what the identity collaborator vouches for. It is opaque here:
// no credential checks are performed on it.
type Identity struct {
	ID   UserID `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

func ParseUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrEmptyUserID
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// Normalize trims an oversized display name instead of rejecting the join.
// The cut lands on a rune boundary.
func (i Identity) Normalize() Identity {
	if len(i.Name) > MaxUsernameLen {
		n := MaxUsernameLen
		for n > 0 && !utf8.RuneStart(i.Name[n]) {
			n--
		}
		i.Name = i.Name[:n]
	}
	if len(i.ID) > MaxUserIDLen {
		i.ID = ""
	}
	return i
}
