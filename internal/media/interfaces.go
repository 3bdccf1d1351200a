package media

import "context"

// AudioOutput is the agent's outbound audio path.
type AudioOutput interface {
	// Flush pushes any pending synthesized audio toward the caller.
	Flush()
	// WaitForPlayout blocks until queued audio has finished playing or the
	// context expires.
	WaitForPlayout(ctx context.Context) error
}

// SessionHandle is the live agent session owned by a single call.
type SessionHandle interface {
	// Drain requests a graceful shutdown that lets in-flight speech finish.
	Drain()
	// WaitClosed blocks until the drained session has fully closed or the
	// context expires.
	WaitClosed(ctx context.Context) error
}

// Track is one published outbound media track.
type Track interface {
	Kind() string
	Stop() error
}

// Room is the call transport the agent is connected to.
type Room interface {
	IsConnected() bool
	PublishedTracks() []Track
	Disconnect(ctx context.Context) error
}

// Summarizer produces a streamed conversation summary from transcript lines.
type Summarizer interface {
	Summarize(ctx context.Context, instructions string, transcript []string) (<-chan string, error)
}

// Handles bundles the runtime collaborators for one call. Any field may be
// nil when the corresponding capability is absent; consumers degrade rather
// than fail.
type Handles struct {
	Audio      AudioOutput
	Session    SessionHandle
	Room       Room
	Summarizer Summarizer
}

// Provider attaches runtime handles to a newly created call.
type Provider interface {
	Attach(ctx context.Context, callID string) (Handles, error)
}
