// Package protocol defines the wire protocol exchanged between the Voxline
// agent and the voice gateway over WebSocket.
//
// All messages are JSON-encoded and share a common envelope with a "type"
// field that determines the payload structure.
package protocol

import "time"

// Envelope is the top-level wire format for all messages.
type Envelope struct {
	Type      string    `json:"type"`
	CallID    string    `json:"call_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`
}

// Message types, agent → gateway.
const (
	TypeCallStart = "call.start"
	TypeCallEnd   = "call.end"
)

// Message types, gateway → agent.
const (
	TypeCallAccepted  = "call.accepted"
	TypeCallRejected  = "call.rejected"
	TypeCallEnded     = "call.ended"
	TypeCallError     = "call.error"
	TypeAgentSpeaking = "agent.speaking"
)

// CallStart is sent by the agent to request a conversation with a voice agent.
type CallStart struct {
	AgentID    string `json:"agent_id"`
	UserID     string `json:"user_id"`
	MicEnabled bool   `json:"mic_enabled"`
}

// CallAccepted is the gateway's confirmation that the conversation is live.
type CallAccepted struct {
	CallID string `json:"call_id"`
}

// CallRejected is sent when the gateway refuses to start the conversation.
type CallRejected struct {
	Reason string `json:"reason"`
}

// CallEnded signals that the gateway terminated the conversation, either
// because the remote side hung up or the media path was lost.
type CallEnded struct {
	Reason string `json:"reason,omitempty"`
}

// CallError reports a gateway-side failure during an active conversation.
type CallError struct {
	Message string `json:"message"`
}

// AgentSpeaking toggles as the voice agent starts and stops talking.
type AgentSpeaking struct {
	Speaking bool `json:"speaking"`
}
