package domain

import (
	"errors"
	"time"
)

const MaxRoomIDLen = 64

var (
	ErrEmptyRoomID   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

type RoomID string

func ParseRoomID(raw string) (RoomID, error) {
	if len(raw) == 0 {
		return "", ErrEmptyRoomID
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

// HistoryEntry is one persisted chat line.
type HistoryEntry struct {
	SenderID  string    `json:"senderId" bson:"senderId"`
	Message   string    `json:"message" bson:"message"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// DurableRoom is the record owned by the persistence collaborator.
// Participants and History only ever grow.
type DurableRoom struct {
	RoomID       RoomID         `json:"roomId" bson:"roomId"`
	Participants []UserID       `json:"participants" bson:"participants"`
	History      []HistoryEntry `json:"history" bson:"history"`
}
