package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lmoretti/frontdesk/internal/appointments"
	"github.com/lmoretti/frontdesk/internal/events"
	"github.com/lmoretti/frontdesk/internal/media"
	"github.com/lmoretti/frontdesk/internal/observability"
	"github.com/lmoretti/frontdesk/internal/policy"
	"github.com/lmoretti/frontdesk/internal/session"
)

// TeardownState tracks call teardown. Like the call lifecycle it is
// monotonic: the two teardown paths may race each other forward, never
// backward.
type TeardownState string

const (
	TeardownIdle          TeardownState = "idle"
	TeardownSpeaking      TeardownState = "speaking"
	TeardownDraining      TeardownState = "draining"
	TeardownSummarizing   TeardownState = "summarizing"
	TeardownDisconnecting TeardownState = "disconnecting"
	TeardownTerminated    TeardownState = "terminated"
)

func teardownRank(s TeardownState) int {
	switch s {
	case TeardownIdle:
		return 0
	case TeardownSpeaking:
		return 1
	case TeardownDraining:
		return 2
	case TeardownSummarizing:
		return 3
	case TeardownDisconnecting:
		return 4
	case TeardownTerminated:
		return 5
	default:
		return -1
	}
}

const goodbyeMessage = "Thank you for calling. Have a great day! Goodbye!"

const summaryInstructions = "Compress the conversation into a short, faithful summary. " +
	"Focus on user goals, constraints, decisions, key facts, preferences, entities, and pending tasks. " +
	"Exclude chit-chat and greetings. Be concise. " +
	"Include any appointments that were booked, modified, or cancelled."

const noHistorySummary = "No conversation history available."

const summaryFallbackLines = 10

// Teardown sequences "finish speaking, summarize, drop media, disconnect"
// for one call. Begin returns the goodbye text synchronously; a detached
// background task races it to the single guarded disconnect so the caller
// hears the goodbye before the line drops.
type Teardown struct {
	callID   string
	handles  media.Handles
	sessions *session.Manager
	store    appointments.Store
	sink     events.Sink
	metrics  *observability.Metrics

	goodbyeWait  time.Duration
	startDelay   time.Duration
	drainTimeout time.Duration
	summaryWait  time.Duration
	storeWait    time.Duration

	mu        sync.Mutex
	state     TeardownState
	begun     bool
	startedAt time.Time

	disconnectOnce sync.Once
	done           chan struct{}
}

func newTeardown(cfg Config, callID string, handles media.Handles, sessions *session.Manager, store appointments.Store, sink events.Sink, metrics *observability.Metrics) *Teardown {
	return &Teardown{
		callID:       callID,
		handles:      handles,
		sessions:     sessions,
		store:        store,
		sink:         sink,
		metrics:      metrics,
		goodbyeWait:  cfg.GoodbyeWait,
		startDelay:   cfg.GoodbyeStartDelay,
		drainTimeout: cfg.SessionDrainTimeout,
		summaryWait:  cfg.SummaryTimeout,
		storeWait:    cfg.StoreOpTimeout,
		state:        TeardownIdle,
		done:         make(chan struct{}),
	}
}

// Begin starts teardown and returns the goodbye text. It never blocks past
// the audio-drain and summarization budget, never panics past this frame,
// and is idempotent: a second call returns the same goodbye without
// restarting the protocol.
func (t *Teardown) Begin() string {
	t.mu.Lock()
	if t.begun {
		t.mu.Unlock()
		return goodbyeMessage
	}
	t.begun = true
	t.startedAt = time.Now()
	t.mu.Unlock()

	t.advance(TeardownSpeaking)
	if err := t.sessions.Advance(t.callID, session.StateDraining); err != nil {
		log.Printf("call %s: advance to draining: %v", t.callID, err)
	}

	go t.backgroundDisconnect()
	t.foreground()
	return goodbyeMessage
}

// State returns the current teardown state.
func (t *Teardown) State() TeardownState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the disconnect action has completed or been abandoned
// after its internal timeouts.
func (t *Teardown) Done() <-chan struct{} {
	return t.done
}

func (t *Teardown) advance(to TeardownState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if teardownRank(to) <= teardownRank(t.state) {
		return
	}
	t.state = to
}

// foreground drains pre-goodbye audio, produces the summary, and publishes
// it. Every step degrades on failure; nothing here may prevent Begin from
// returning the goodbye text.
func (t *Teardown) foreground() {
	if t.handles.Audio != nil {
		t.handles.Audio.Flush()
		ctx, cancel := context.WithTimeout(context.Background(), t.goodbyeWait)
		if err := t.handles.Audio.WaitForPlayout(ctx); err != nil {
			log.Printf("call %s: wait for queued audio: %v", t.callID, err)
		}
		cancel()
	}
	t.advance(TeardownDraining)

	t.advance(TeardownSummarizing)
	summary := t.buildSummary()
	if masked, changed := policy.RedactSensitive(summary); changed {
		log.Printf("call %s: redacted sensitive content from summary", t.callID)
		summary = masked
	}

	contact := ""
	if call, err := t.sessions.Get(t.callID); err == nil {
		contact = call.ContactNumber
	}
	confirmed := t.confirmedAppointments(contact)

	evt := events.Event{
		Type:          events.TypeConversationSummary,
		CallID:        t.callID,
		Summary:       summary,
		Appointments:  confirmed,
		ContactNumber: contact,
	}
	if err := t.sink.Publish(context.Background(), evt); err != nil {
		log.Printf("call %s: publish conversation summary: %v", t.callID, err)
		t.metrics.EventPublishes.WithLabelValues(string(events.TypeConversationSummary), "error").Inc()
	} else {
		t.metrics.EventPublishes.WithLabelValues(string(events.TypeConversationSummary), "ok").Inc()
	}
}

// backgroundDisconnect waits out the goodbye message, then performs the
// disconnect. The playout wait is the real completion signal; the sleeps are
// pacing and a last-resort upper bound when no signal is available.
func (t *Teardown) backgroundDisconnect() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("call %s: panic in disconnect task: %v", t.callID, r)
			t.disconnect()
		}
	}()

	time.Sleep(t.startDelay)
	budget := t.goodbyeWait - t.startDelay

	if t.handles.Audio != nil {
		t.handles.Audio.Flush()
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		err := t.handles.Audio.WaitForPlayout(ctx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			log.Printf("call %s: timeout waiting for goodbye playout, disconnecting", t.callID)
		default:
			log.Printf("call %s: wait for goodbye playout: %v", t.callID, err)
			time.Sleep(budget)
		}
	} else {
		time.Sleep(budget)
	}

	t.disconnect()
}

// disconnect runs at most once no matter how many paths reach it. Every
// step swallows its own failure; a broken session handle must not stop the
// room from being dropped.
func (t *Teardown) disconnect() {
	t.disconnectOnce.Do(func() {
		t.advance(TeardownDisconnecting)

		if t.handles.Session != nil {
			t.handles.Session.Drain()
			ctx, cancel := context.WithTimeout(context.Background(), t.drainTimeout)
			if err := t.handles.Session.WaitClosed(ctx); err != nil {
				log.Printf("call %s: session drain: %v", t.callID, err)
			}
			cancel()
		}

		if t.handles.Room != nil {
			for _, track := range t.handles.Room.PublishedTracks() {
				if err := track.Stop(); err != nil {
					log.Printf("call %s: stop %s track: %v", t.callID, track.Kind(), err)
				}
			}
			if t.handles.Room.IsConnected() {
				ctx, cancel := context.WithTimeout(context.Background(), t.drainTimeout)
				if err := t.handles.Room.Disconnect(ctx); err != nil {
					log.Printf("call %s: disconnect room: %v", t.callID, err)
				}
				cancel()
			}
		}

		t.advance(TeardownTerminated)
		if err := t.sessions.Advance(t.callID, session.StateTerminated); err != nil {
			log.Printf("call %s: advance to terminated: %v", t.callID, err)
		}
		t.metrics.ObserveTeardown(time.Since(t.startedAt))
		t.metrics.CallEvents.WithLabelValues("ended").Inc()
		t.metrics.ActiveCalls.Set(float64(t.sessions.ActiveCount()))

		if err := t.sink.Publish(context.Background(), events.Event{
			Type:   events.TypeCallEnded,
			CallID: t.callID,
		}); err != nil {
			log.Printf("call %s: publish call ended: %v", t.callID, err)
		}

		close(t.done)
	})
}

// buildSummary compresses the transcript via the summarizer when one is
// attached, falling back to raw transcript lines on any failure.
func (t *Teardown) buildSummary() string {
	turns, err := t.sessions.Transcript(t.callID)
	if err != nil {
		log.Printf("call %s: read transcript: %v", t.callID, err)
	}
	lines := transcriptLines(turns)
	if len(lines) == 0 {
		return noHistorySummary
	}
	if t.handles.Summarizer == nil {
		return strings.Join(lines, "\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.summaryWait)
	defer cancel()

	deltas, err := t.handles.Summarizer.Summarize(ctx, summaryInstructions, lines)
	if err != nil {
		log.Printf("call %s: summarization failed, using raw transcript: %v", t.callID, err)
		return strings.Join(lines, "\n")
	}

	var b strings.Builder
	for delta := range deltas {
		b.WriteString(delta)
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		tail := lines
		if len(tail) > summaryFallbackLines {
			tail = tail[len(tail)-summaryFallbackLines:]
		}
		return strings.Join(tail, "\n")
	}
	return summary
}

func transcriptLines(turns []session.Turn) []string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		if turn.Summary {
			continue
		}
		if turn.Role != "user" && turn.Role != "assistant" && turn.Role != "system" {
			continue
		}
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		lines = append(lines, turn.Role+": "+text)
	}
	return lines
}

// confirmedAppointments snapshots the caller's confirmed bookings for the
// summary event. Failures produce an empty list, never an error.
func (t *Teardown) confirmedAppointments(contact string) []string {
	if contact == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.storeWait)
	defer cancel()

	recs, err := t.store.GetByContact(ctx, contact)
	if err != nil {
		log.Printf("call %s: snapshot appointments: %v", t.callID, err)
		t.metrics.StoreErrors.WithLabelValues("get_by_contact").Inc()
		return nil
	}
	var out []string
	for _, rec := range recs {
		if rec.Confirmed() {
			out = append(out, fmt.Sprintf("%s - %s (%s)", rec.Slot, rec.Details, rec.Status))
		}
	}
	return out
}
