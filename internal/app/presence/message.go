/*
Package presence contains the live session layer of the board: the session registry,
the hub that owns it, and the websocket clients feeding it.

This file defines the wire contract: every frame is a JSON Message envelope with a type tag
and a type-specific payload.
*/
package presence

import (
	"encoding/json"
	"time"
)

// MessageType tags the payload carried by a Message.
type MessageType string

// Client to server.
const (
	TypeIdentify            MessageType = "IDENTIFY"
	TypeCursorMove          MessageType = "CURSOR_MOVE"
	TypeTyping              MessageType = "TYPING"
	TypeVote                MessageType = "VOTE"
	TypeUpdatePayoutAddress MessageType = "UPDATE_PAYOUT_ADDRESS"
)

// Server to client.
const (
	TypeIdentity             MessageType = "IDENTITY"
	TypeInitData             MessageType = "INIT_DATA"
	TypeUserJoined           MessageType = "USER_JOINED"
	TypeCursorUpdate         MessageType = "CURSOR_UPDATE"
	TypeTypingUpdate         MessageType = "TYPING_UPDATE"
	TypeVoteUpdate           MessageType = "VOTE_UPDATE"
	TypeVoteSuccess          MessageType = "VOTE_SUCCESS"
	TypeVoteError            MessageType = "VOTE_ERROR"
	TypePayoutAddressUpdated MessageType = "PAYOUT_ADDRESS_UPDATED"
	TypeUserLeft             MessageType = "USER_LEFT"
	TypeVotesReset           MessageType = "VOTES_RESET"
	TypeFullReset            MessageType = "FULL_RESET"
	TypeError                MessageType = "ERROR"
)

// Message is the envelope of every outbound frame.
type Message struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewMessage stamps payload with the current time in milliseconds.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// inboundMessage is the envelope of every inbound frame; the payload is decoded per type.
type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ── Inbound payloads ──────────────────────────────────────────────────────────

// IdentifyPayload claims an identity. A missing, null or unrecognised token asks for a new one.
// Fields are not validated: an out-of-shape claim still yields an identity.
type IdentifyPayload struct {
	Token         string `json:"token"`
	PayoutAddress string `json:"payoutAddress"`
}

// CursorMovePayload carries a cursor position in percent of the viewport.
// Pointers distinguish a missing coordinate from zero.
type CursorMovePayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// TypingPayload replaces the sender's ephemeral typing state.
type TypingPayload struct {
	Text     string `json:"text"`
	IsTyping bool   `json:"isTyping"`
}

// VotePayload casts one vote.
type VotePayload struct {
	CandidateID string `json:"candidateId" validate:"required,max=255"`
}

// UpdatePayoutAddressPayload sets the sender's payout address.
type UpdatePayoutAddressPayload struct {
	Address string `json:"address" validate:"required,max=255"`
}

// ── Outbound payloads ─────────────────────────────────────────────────────────

// Cursor is a position clamped to [0,100] on both axes.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Peer is the public view of an identified session. It never carries the user token
// or the payout address.
type Peer struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	DisplayColor string `json:"displayColor"`
	Cursor       Cursor `json:"cursor"`
	Text         string `json:"text"`
	IsTyping     bool   `json:"isTyping"`
}

// IdentityPayload answers IDENTIFY, to the requesting client only.
type IdentityPayload struct {
	ConnectionID  string `json:"connectionId"`
	Token         string `json:"token"`
	DisplayName   string `json:"displayName"`
	DisplayColor  string `json:"displayColor"`
	PayoutAddress string `json:"payoutAddress"`
	VotesCast     int64  `json:"votesCast"`
	VotesPerUser  int    `json:"votesPerUser"`
}

// InitDataPayload is the snapshot sent to a newly identified client.
// Candidates is the configured allow-list; absent when any candidate id is accepted.
type InitDataPayload struct {
	Peers        []Peer           `json:"peers"`
	Votes        map[string]int64 `json:"votes"`
	VotesPerUser int              `json:"votesPerUser"`
	Candidates   []string         `json:"candidates,omitempty"`
}

// UserJoinedPayload announces a newly identified peer to the others.
type UserJoinedPayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	DisplayColor string `json:"displayColor"`
	Cursor       Cursor `json:"cursor"`
}

// CursorUpdatePayload merges the moved cursor with the sender's typing state.
type CursorUpdatePayload struct {
	ConnectionID string  `json:"connectionId"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	DisplayName  string  `json:"displayName"`
	DisplayColor string  `json:"displayColor"`
	Text         string  `json:"text"`
	IsTyping     bool    `json:"isTyping"`
}

// TypingUpdatePayload relays a typing change.
type TypingUpdatePayload struct {
	ConnectionID string `json:"connectionId"`
	Text         string `json:"text"`
	IsTyping     bool   `json:"isTyping"`
}

// VoteUpdatePayload is broadcast to every client after a recorded vote.
type VoteUpdatePayload struct {
	CandidateID      string `json:"candidateId"`
	NewTotal         int64  `json:"newTotal"`
	VoterDisplayName string `json:"voterDisplayName"`
}

// VoteSuccessPayload acknowledges a recorded vote to its sender.
type VoteSuccessPayload struct {
	CandidateID string `json:"candidateId"`
	NewTotal    int64  `json:"newTotal"`
}

// VoteErrorPayload tells the sender the vote was not recorded.
type VoteErrorPayload struct {
	CandidateID string `json:"candidateId"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
}

// PayoutAddressUpdatedPayload acknowledges UPDATE_PAYOUT_ADDRESS. Code and Message are set on failure.
type PayoutAddressUpdatedPayload struct {
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// UserLeftPayload announces a closed session.
type UserLeftPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ResetPayload accompanies VOTES_RESET and FULL_RESET.
type ResetPayload struct {
	Message string `json:"message"`
}

// ErrorPayload reports a protocol-level error to one client.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
