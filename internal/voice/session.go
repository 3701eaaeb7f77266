// Package voice wraps the real-time call session offered by the voice
// gateway. The session is opaque to the rest of the agent: start it, end it,
// and react to its callbacks.
package voice

import "context"

// Events are the callbacks fired by a session. Any field may be nil.
type Events struct {
	// OnConnect fires once the gateway accepts the call and media is live.
	OnConnect func()
	// OnDisconnect fires when the gateway ends the call on its own
	// (remote hangup, media path lost).
	OnDisconnect func(reason string)
	// OnError fires on a transport or gateway failure during the call.
	OnError func(err error)
}

// Session is one call session with the voice gateway.
type Session interface {
	// Start requests a conversation with the given voice agent. It returns
	// an error if the gateway refuses or cannot be reached; there is no
	// automatic retry.
	Start(ctx context.Context, agentID string) error

	// End terminates the session. Safe to call more than once.
	End() error

	// IsSpeaking reports whether the voice agent is currently talking.
	IsSpeaking() bool
}

// DialFunc builds a session for a user with the given callbacks.
type DialFunc func(userID string, micEnabled bool, ev Events) Session
