// Package protocol is the JSON vocabulary spoken over the signaling socket.
// Every frame is an object with a "type" tag. Signaling and drawing payloads
// are carried as raw JSON and never interpreted by the server.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/meshroom/internal/domain"
)

// Client -> server.
const (
	TypeRegister    = "register"
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeOffer       = "offer"
	TypeAnswer      = "answer"
	TypeICE         = "ice"
	TypeInvite      = "invite"
	TypeChatMessage = "chat-message"
	TypeDrawAction  = "draw-action"
	TypeClearCanvas = "clear-canvas"
	TypePing        = "ping"
)

// Server -> client. draw-action and clear-canvas keep their inbound names.
const (
	TypeWelcome        = "welcome"
	TypePeerList       = "peer-list"
	TypeHistory        = "history"
	TypePeerJoined     = "peer-joined"
	TypeIncomingOffer  = "incoming-offer"
	TypeIncomingAnswer = "incoming-answer"
	TypeIncomingICE    = "incoming-ice"
	TypeInviteReceived = "invite-received"
	TypePeerLeft       = "peer-left"
	TypeReceiveMessage = "receive-message"
	TypeLeft           = "left"
	TypePong           = "pong"
	TypeError          = "error"
)

// Error codes sent in Error.Error.
const (
	ErrBadPayload  = "bad_payload"
	ErrBadRoom     = "bad_room"
	ErrBadUser     = "bad_user"
	ErrUnknownType = "unknown_type"
)

// Envelope is decoded first to pick a handler.
type Envelope struct {
	Type string `json:"type"`
}

type Register struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type Join struct {
	Type string          `json:"type"`
	Room string          `json:"room"`
	User domain.Identity `json:"user"`
}

type Leave struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// Signal covers offer, answer and ice. SDP and Candidate are opaque.
type Signal struct {
	Type      string          `json:"type"`
	To        string          `json:"to"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type Invite struct {
	Type         string `json:"type"`
	TargetUserID string `json:"targetUserId"`
	Room         string `json:"room"`
	InviterName  string `json:"inviterName"`
}

type ChatMessage struct {
	Type       string          `json:"type"`
	Room       string          `json:"room"`
	Message    string          `json:"message"`
	SenderName string          `json:"senderName,omitempty"`
	IsFile     bool            `json:"isFile,omitempty"`
	FileData   json.RawMessage `json:"fileData,omitempty"`
}

type DrawAction struct {
	Type   string          `json:"type"`
	Room   string          `json:"room"`
	Action json.RawMessage `json:"action,omitempty"`
}

type ClearCanvas struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type Welcome struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId"`
	ICEServers   json.RawMessage `json:"iceServers,omitempty"`
}

// Peer is one live member as seen by other members.
type Peer struct {
	ID   domain.ConnectionID `json:"id"`
	User domain.Identity     `json:"user"`
}

type PeerList struct {
	Type  string        `json:"type"`
	Room  domain.RoomID `json:"room"`
	Peers []Peer        `json:"peers"`
}

type History struct {
	Type    string                `json:"type"`
	Room    domain.RoomID         `json:"room"`
	History []domain.HistoryEntry `json:"history"`
}

type PeerJoined struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"room"`
	Peer Peer          `json:"peer"`
}

type PeerLeft struct {
	Type   string              `json:"type"`
	Room   domain.RoomID       `json:"room"`
	PeerID domain.ConnectionID `json:"peerId"`
}

// IncomingSignal is the relayed form of Signal, addressed by sender.
type IncomingSignal struct {
	Type      string              `json:"type"`
	From      domain.ConnectionID `json:"from"`
	SDP       json.RawMessage     `json:"sdp,omitempty"`
	Candidate json.RawMessage     `json:"candidate,omitempty"`
}

type InviteReceived struct {
	Type        string        `json:"type"`
	Room        domain.RoomID `json:"room"`
	InviterName string        `json:"inviterName"`
}

type ReceiveMessage struct {
	Type       string              `json:"type"`
	Room       domain.RoomID       `json:"room"`
	From       domain.ConnectionID `json:"from"`
	SenderID   string              `json:"senderId"`
	SenderName string              `json:"senderName,omitempty"`
	Message    string              `json:"message"`
	IsFile     bool                `json:"isFile,omitempty"`
	FileData   json.RawMessage     `json:"fileData,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

type DrawBroadcast struct {
	Type   string              `json:"type"`
	Room   domain.RoomID       `json:"room"`
	From   domain.ConnectionID `json:"from"`
	Action json.RawMessage     `json:"action,omitempty"`
}

type ClearBroadcast struct {
	Type string              `json:"type"`
	Room domain.RoomID       `json:"room"`
	From domain.ConnectionID `json:"from"`
}

type Left struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"room"`
}

type Pong struct {
	Type string `json:"type"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
