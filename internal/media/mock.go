package media

import (
	"context"
	"sync"
	"time"
)

// MockProvider is a local fallback provider used when no real transport
// runtime is wired in. Every call gets fresh, already-connected handles.
type MockProvider struct {
	// Summarizer, when set, is handed to every call. Nil leaves summaries
	// to the raw-transcript fallback.
	Summarizer Summarizer
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Attach(_ context.Context, _ string) (Handles, error) {
	return Handles{
		Audio:      NewMockAudioOutput(),
		Session:    NewMockSessionHandle(),
		Room:       NewMockRoom("audio"),
		Summarizer: p.Summarizer,
	}, nil
}

type MockAudioOutput struct {
	mu sync.Mutex

	// PlayoutDelay simulates audio still playing; WaitForPlayout blocks for
	// this long unless the context expires first.
	PlayoutDelay time.Duration
	// PlayoutErr, when set, is returned from every WaitForPlayout.
	PlayoutErr error

	flushes int
	waits   int
}

func NewMockAudioOutput() *MockAudioOutput { return &MockAudioOutput{} }

func (m *MockAudioOutput) Flush() {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
}

func (m *MockAudioOutput) WaitForPlayout(ctx context.Context) error {
	m.mu.Lock()
	m.waits++
	delay := m.PlayoutDelay
	err := m.PlayoutErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockAudioOutput) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func (m *MockAudioOutput) Waits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waits
}

type MockSessionHandle struct {
	mu sync.Mutex

	// CloseDelay is how long WaitClosed blocks after Drain.
	CloseDelay time.Duration

	drained bool
}

func NewMockSessionHandle() *MockSessionHandle { return &MockSessionHandle{} }

func (m *MockSessionHandle) Drain() {
	m.mu.Lock()
	m.drained = true
	m.mu.Unlock()
}

func (m *MockSessionHandle) WaitClosed(ctx context.Context) error {
	m.mu.Lock()
	delay := m.CloseDelay
	m.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockSessionHandle) Drained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drained
}

type MockTrack struct {
	mu sync.Mutex

	KindName string
	StopErr  error

	stops int
}

func (t *MockTrack) Kind() string { return t.KindName }

func (t *MockTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return t.StopErr
}

func (t *MockTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type MockRoom struct {
	mu sync.Mutex

	// DisconnectErr, when set, is returned from Disconnect; the room is
	// still marked disconnected.
	DisconnectErr error

	connected   bool
	tracks      []*MockTrack
	disconnects int
}

func NewMockRoom(trackKinds ...string) *MockRoom {
	r := &MockRoom{connected: true}
	for _, kind := range trackKinds {
		r.tracks = append(r.tracks, &MockTrack{KindName: kind})
	}
	return r
}

func (r *MockRoom) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *MockRoom) PublishedTracks() []Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Track, len(r.tracks))
	for i, t := range r.tracks {
		out[i] = t
	}
	return out
}

func (r *MockRoom) Disconnect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	r.connected = false
	return r.DisconnectErr
}

func (r *MockRoom) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

func (r *MockRoom) Tracks() []*MockTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MockTrack, len(r.tracks))
	copy(out, r.tracks)
	return out
}

type MockSummarizer struct {
	// StartErr, when set, fails the summarize call up front.
	StartErr error
	// Deltas are streamed to the caller and the channel closed.
	Deltas []string
}

func (m *MockSummarizer) Summarize(ctx context.Context, _ string, _ []string) (<-chan string, error) {
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	ch := make(chan string, len(m.Deltas))
	go func() {
		defer close(ch)
		for _, d := range m.Deltas {
			select {
			case <-ctx.Done():
				return
			case ch <- d:
			}
		}
	}()
	return ch, nil
}
