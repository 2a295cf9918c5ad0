package core

import "github.com/dkeye/meshroom/internal/domain"

// RoomInfo is a read-only view of a live room for APIs.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}
