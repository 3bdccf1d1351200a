package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lmoretti/frontdesk/internal/appointments"
	"github.com/lmoretti/frontdesk/internal/events"
	"github.com/lmoretti/frontdesk/internal/media"
	"github.com/lmoretti/frontdesk/internal/observability"
	"github.com/lmoretti/frontdesk/internal/session"
)

// Config carries the teardown and store pacing budgets.
type Config struct {
	GoodbyeWait         time.Duration
	GoodbyeStartDelay   time.Duration
	SessionDrainTimeout time.Duration
	SummaryTimeout      time.Duration
	StoreOpTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.GoodbyeWait <= 0 {
		c.GoodbyeWait = 8 * time.Second
	}
	if c.GoodbyeStartDelay <= 0 {
		c.GoodbyeStartDelay = time.Second
	}
	if c.SessionDrainTimeout <= 0 {
		c.SessionDrainTimeout = 5 * time.Second
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 10 * time.Second
	}
	if c.StoreOpTimeout <= 0 {
		c.StoreOpTimeout = 3 * time.Second
	}
	return c
}

// Agent is the conversation tool layer for every live call. Tool calls for
// one call are serialized; distinct calls run concurrently and contend only
// inside the appointment store.
type Agent struct {
	cfg      Config
	sessions *session.Manager
	store    appointments.Store
	sink     events.Sink
	provider media.Provider
	metrics  *observability.Metrics
	catalog  []Slot

	mu    sync.Mutex
	calls map[string]*callRuntime
}

// callRuntime is the per-call state the session manager does not own: the
// media handles and the teardown orchestrator.
type callRuntime struct {
	mu       sync.Mutex
	handles  media.Handles
	teardown *Teardown
}

func New(cfg Config, sessions *session.Manager, store appointments.Store, sink events.Sink, provider media.Provider, metrics *observability.Metrics) *Agent {
	return &Agent{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		store:    store,
		sink:     sink,
		provider: provider,
		metrics:  metrics,
		catalog:  DefaultCatalog(),
		calls:    make(map[string]*callRuntime),
	}
}

// StartCall creates a caller session and attaches its runtime handles up
// front, so nothing mutates the call's collaborators after construction.
func (a *Agent) StartCall(ctx context.Context) (*session.Call, error) {
	call := a.sessions.Create()

	var handles media.Handles
	if a.provider != nil {
		h, err := a.provider.Attach(ctx, call.ID)
		if err != nil {
			_ = a.sessions.Advance(call.ID, session.StateTerminated)
			return nil, fmt.Errorf("attach media runtime: %w", err)
		}
		handles = h
	}

	rt := &callRuntime{handles: handles}
	rt.teardown = newTeardown(a.cfg, call.ID, handles, a.sessions, a.store, a.sink, a.metrics)

	a.mu.Lock()
	a.calls[call.ID] = rt
	a.mu.Unlock()

	// Release the runtime once teardown finishes; the session manager keeps
	// the terminated call record.
	go func() {
		<-rt.teardown.Done()
		a.mu.Lock()
		delete(a.calls, call.ID)
		a.mu.Unlock()
	}()

	a.metrics.CallEvents.WithLabelValues("created").Inc()
	a.metrics.ActiveCalls.Set(float64(a.sessions.ActiveCount()))

	if err := a.sink.Publish(ctx, events.Event{Type: events.TypeCallStarted, CallID: call.ID}); err != nil {
		log.Printf("call %s: publish call started: %v", call.ID, err)
	}
	return call, nil
}

// Invoke runs one tool call for a live call. User-correctable conditions
// come back as plain replies; errors are reserved for unknown tools,
// unknown calls, and malformed arguments.
func (a *Agent) Invoke(ctx context.Context, callID, tool string, args json.RawMessage) (string, error) {
	handler, ok := toolHandlers[tool]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	call, err := a.sessions.Get(callID)
	if err != nil {
		return "", err
	}

	// The side channel sees every attempt on a known call, including the
	// ones the lifecycle gate turns away.
	a.emitToolCall(ctx, callID, tool, args)

	if reply, gated := a.gateLifecycle(call.State, tool); gated {
		return reply, nil
	}

	rt := a.runtime(callID)
	if rt == nil {
		// Runtime already released: the call terminated after the state
		// check above.
		a.metrics.ToolCalls.WithLabelValues(tool, "call_ended").Inc()
		return "This call has already ended.", nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	call, err = a.sessions.Get(callID)
	if err != nil {
		return "", err
	}
	if reply, gated := a.gateLifecycle(call.State, tool); gated {
		return reply, nil
	}

	_ = a.sessions.Touch(callID)

	res, err := handler(ctx, a, call, rt, args)
	if err != nil {
		a.metrics.ToolCalls.WithLabelValues(tool, "invalid_args").Inc()
		return "", err
	}
	a.metrics.ToolCalls.WithLabelValues(tool, res.outcome).Inc()
	return res.reply, nil
}

// gateLifecycle decides whether a tool call may proceed given the call's
// state. Draining calls still accept end_conversation so hangup stays
// idempotent.
func (a *Agent) gateLifecycle(state session.State, tool string) (string, bool) {
	switch {
	case state == session.StateTerminated:
		a.metrics.ToolCalls.WithLabelValues(tool, "call_ended").Inc()
		return "This call has already ended.", true
	case state == session.StateDraining && tool != toolEndConversation:
		a.metrics.ToolCalls.WithLabelValues(tool, "call_draining").Inc()
		return "The call is ending; I can't make any more changes. Goodbye!", true
	}
	return "", false
}

// HangupExpired tears down a call the janitor flagged as inactive. The
// goodbye text has no audience here; only the teardown protocol matters.
func (a *Agent) HangupExpired(call *session.Call) {
	rt := a.runtime(call.ID)
	if rt == nil {
		return
	}
	log.Printf("call %s: inactive, hanging up", call.ID)
	a.metrics.CallEvents.WithLabelValues("expired").Inc()
	go rt.teardown.Begin()
}

func (a *Agent) runtime(callID string) *callRuntime {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[callID]
}

// emitToolCall publishes the observability side channel for a tool
// invocation. Best effort: a sink failure never blocks the tool.
func (a *Agent) emitToolCall(ctx context.Context, callID, tool string, args json.RawMessage) {
	if len(args) == 0 || !json.Valid(args) {
		args = json.RawMessage(`{}`)
	}
	evt := events.Event{
		Type:   events.TypeToolCall,
		CallID: callID,
		Tool:   tool,
		Args:   args,
	}
	if err := a.sink.Publish(ctx, evt); err != nil {
		log.Printf("call %s: publish tool call %s: %v", callID, tool, err)
		a.metrics.EventPublishes.WithLabelValues(string(events.TypeToolCall), "error").Inc()
		return
	}
	a.metrics.EventPublishes.WithLabelValues(string(events.TypeToolCall), "ok").Inc()
}

func (a *Agent) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.StoreOpTimeout)
}
