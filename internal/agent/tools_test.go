package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmoretti/frontdesk/internal/appointments"
	"github.com/lmoretti/frontdesk/internal/events"
	"github.com/lmoretti/frontdesk/internal/media"
	"github.com/lmoretti/frontdesk/internal/observability"
	"github.com/lmoretti/frontdesk/internal/session"
)

var metricsSeq atomic.Int64

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_agent_%d", metricsSeq.Add(1)))
}

type staticProvider struct {
	handles media.Handles
}

func (p staticProvider) Attach(_ context.Context, _ string) (media.Handles, error) {
	return p.handles, nil
}

func testConfig() Config {
	return Config{
		GoodbyeWait:         80 * time.Millisecond,
		GoodbyeStartDelay:   10 * time.Millisecond,
		SessionDrainTimeout: 50 * time.Millisecond,
		SummaryTimeout:      200 * time.Millisecond,
		StoreOpTimeout:      200 * time.Millisecond,
	}
}

func newTestAgent(t *testing.T, store appointments.Store, sink events.Sink, handles media.Handles) (*Agent, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	a := New(testConfig(), sessions, store, sink, staticProvider{handles: handles}, newTestMetrics())
	return a, sessions
}

func defaultHandles() media.Handles {
	return media.Handles{
		Audio:   media.NewMockAudioOutput(),
		Session: media.NewMockSessionHandle(),
		Room:    media.NewMockRoom("audio"),
	}
}

func invoke(t *testing.T, a *Agent, callID, tool, args string) string {
	t.Helper()
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	reply, err := a.Invoke(context.Background(), callID, tool, raw)
	if err != nil {
		t.Fatalf("Invoke(%s) error = %v", tool, err)
	}
	return reply
}

func TestBookingRequiresIdentification(t *testing.T) {
	store := appointments.NewInMemoryStore()
	a, _ := newTestAgent(t, store, events.NewCapture(), defaultHandles())
	call, err := a.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	reply := invoke(t, a, call.ID, toolBookSlot, `{"slot":"slot-a","details":"checkup"}`)
	if !strings.Contains(reply, "contact number") {
		t.Fatalf("book before identify reply = %q, want identification prompt", reply)
	}
	if recs, _ := store.GetByContact(context.Background(), ""); len(recs) != 0 {
		t.Fatalf("unidentified booking mutated store: %+v", recs)
	}
}

func TestIdentifyThenBook(t *testing.T) {
	store := appointments.NewInMemoryStore()
	a, _ := newTestAgent(t, store, events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())

	reply := invoke(t, a, call.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)
	if !strings.Contains(reply, "+15551234") {
		t.Fatalf("identify reply = %q", reply)
	}

	reply = invoke(t, a, call.ID, toolBookSlot, `{"slot":"10:30am - 11:30am, 26th January","details":"checkup"}`)
	if !strings.Contains(reply, "booked successfully") {
		t.Fatalf("book reply = %q", reply)
	}

	recs, _ := store.GetByContact(context.Background(), "+15551234")
	if len(recs) != 1 || !recs[0].Confirmed() {
		t.Fatalf("store records = %+v, want one confirmed", recs)
	}
}

func TestBookSameSlotTwiceSameContact(t *testing.T) {
	store := appointments.NewInMemoryStore()
	a, _ := newTestAgent(t, store, events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())
	invoke(t, a, call.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)

	invoke(t, a, call.ID, toolBookSlot, `{"slot":"slot-a"}`)
	reply := invoke(t, a, call.ID, toolBookSlot, `{"slot":"slot-a"}`)
	if !strings.Contains(reply, "already have an appointment") {
		t.Fatalf("duplicate book reply = %q", reply)
	}
	recs, _ := store.GetByContact(context.Background(), "+15551234")
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1 (no duplicate)", len(recs))
	}
}

// The example scenario: two contacts contend for one slot, the first then
// moves their booking and the old slot token no longer matches anything.
func TestBookingConflictAndModifyScenario(t *testing.T) {
	store := appointments.NewInMemoryStore()
	a, _ := newTestAgent(t, store, events.NewCapture(), defaultHandles())

	first, _ := a.StartCall(context.Background())
	invoke(t, a, first.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)
	reply := invoke(t, a, first.ID, toolBookSlot, `{"slot":"10:30am - 11:30am, 26th January","details":"checkup"}`)
	if !strings.Contains(reply, "booked successfully") {
		t.Fatalf("first book reply = %q", reply)
	}

	second, _ := a.StartCall(context.Background())
	invoke(t, a, second.ID, toolIdentifyCaller, `{"contact_number":"+15559999"}`)
	reply = invoke(t, a, second.ID, toolBookSlot, `{"slot":"10:30am - 11:30am, 26th January"}`)
	if !strings.Contains(reply, "already booked by another customer") {
		t.Fatalf("second book reply = %q, want slot taken", reply)
	}

	reply = invoke(t, a, first.ID, toolModifyAppointment,
		`{"old_slot":"10:30am - 11:30am, 26th January","new_slot":"2:15pm - 3:15pm, 26th January"}`)
	if !strings.Contains(reply, "changed from") {
		t.Fatalf("modify reply = %q", reply)
	}

	reply = invoke(t, a, first.ID, toolCancelAppointment, `{"slot":"10:30am - 11:30am, 26th January"}`)
	if !strings.Contains(reply, "couldn't find an active appointment") {
		t.Fatalf("cancel of moved slot reply = %q, want not found", reply)
	}

	recs, _ := store.GetByContact(context.Background(), "+15551234")
	if len(recs) != 1 || recs[0].Slot != "2:15pm - 3:15pm, 26th January" {
		t.Fatalf("record after modify = %+v", recs)
	}
}

func TestModifyConflictLeavesOriginalSlot(t *testing.T) {
	store := appointments.NewInMemoryStore()
	a, _ := newTestAgent(t, store, events.NewCapture(), defaultHandles())

	first, _ := a.StartCall(context.Background())
	invoke(t, a, first.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)
	invoke(t, a, first.ID, toolBookSlot, `{"slot":"slot-a"}`)

	second, _ := a.StartCall(context.Background())
	invoke(t, a, second.ID, toolIdentifyCaller, `{"contact_number":"+15559999"}`)
	invoke(t, a, second.ID, toolBookSlot, `{"slot":"slot-b"}`)

	reply := invoke(t, a, first.ID, toolModifyAppointment, `{"old_slot":"slot-a","new_slot":"slot-b"}`)
	if !strings.Contains(reply, "already booked by another customer") {
		t.Fatalf("modify into held slot reply = %q", reply)
	}
	recs, _ := store.GetByContact(context.Background(), "+15551234")
	if recs[0].Slot != "slot-a" {
		t.Fatalf("slot after failed modify = %q, want slot-a", recs[0].Slot)
	}
}

func TestCancelNonexistentAppointment(t *testing.T) {
	store := appointments.NewInMemoryStore()
	a, _ := newTestAgent(t, store, events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())
	invoke(t, a, call.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)

	reply := invoke(t, a, call.ID, toolCancelAppointment, `{"slot":"slot-x"}`)
	if !strings.Contains(reply, "couldn't find an active appointment") {
		t.Fatalf("cancel reply = %q", reply)
	}
}

// raceStore simulates losing the check-then-act race: the advisory check
// passes but the constrained write fails.
type raceStore struct {
	*appointments.InMemoryStore
}

func (s *raceStore) IsSlotAvailable(_ context.Context, _ string) bool { return true }

func (s *raceStore) Create(_ context.Context, _, _, _, _ string) (appointments.Record, error) {
	return appointments.Record{}, appointments.ErrSlotTaken
}

func TestBookTranslatesConstraintViolationToSlotTaken(t *testing.T) {
	store := &raceStore{InMemoryStore: appointments.NewInMemoryStore()}
	a, _ := newTestAgent(t, store, events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())
	invoke(t, a, call.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)

	reply := invoke(t, a, call.ID, toolBookSlot, `{"slot":"slot-a"}`)
	if !strings.Contains(reply, "already booked by another customer") {
		t.Fatalf("constraint-violation book reply = %q, want slot taken", reply)
	}
}

// downStore fails every operation, modelling an unreachable record store.
type downStore struct{}

func (downStore) GetByContact(context.Context, string) ([]appointments.Record, error) {
	return nil, errors.New("store unavailable")
}

func (downStore) Create(context.Context, string, string, string, string) (appointments.Record, error) {
	return appointments.Record{}, errors.New("store unavailable")
}

func (downStore) Cancel(context.Context, string) error     { return errors.New("store unavailable") }
func (downStore) UpdateSlot(context.Context, string, string) error {
	return errors.New("store unavailable")
}
func (downStore) IsSlotAvailable(context.Context, string) bool { return true }
func (downStore) Close() error                                 { return nil }

func TestStoreOutageDegrades(t *testing.T) {
	a, _ := newTestAgent(t, downStore{}, events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())
	invoke(t, a, call.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)

	reply := invoke(t, a, call.ID, toolListMyAppointments, "")
	if !strings.Contains(reply, "no appointments on record") {
		t.Fatalf("list during outage reply = %q, want empty default", reply)
	}

	reply = invoke(t, a, call.ID, toolBookSlot, `{"slot":"slot-a"}`)
	if !strings.Contains(reply, "system error") {
		t.Fatalf("book during outage reply = %q, want system error", reply)
	}
}

func TestUnknownToolRejected(t *testing.T) {
	a, _ := newTestAgent(t, appointments.NewInMemoryStore(), events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())

	if _, err := a.Invoke(context.Background(), call.ID, "reboot_robot", nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Invoke(unknown) error = %v, want ErrUnknownTool", err)
	}
}

func TestInvalidArgsRejected(t *testing.T) {
	a, _ := newTestAgent(t, appointments.NewInMemoryStore(), events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())

	if _, err := a.Invoke(context.Background(), call.ID, toolIdentifyCaller, json.RawMessage(`{"contact_number":""}`)); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("Invoke(empty contact) error = %v, want ErrInvalidArgs", err)
	}
	if _, err := a.Invoke(context.Background(), call.ID, toolBookSlot, json.RawMessage(`not json`)); !errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("Invoke(bad json) error = %v, want ErrInvalidArgs", err)
	}
}

func TestEveryToolCallEmitsEvent(t *testing.T) {
	sink := events.NewCapture()
	a, _ := newTestAgent(t, appointments.NewInMemoryStore(), sink, defaultHandles())
	call, _ := a.StartCall(context.Background())

	invoke(t, a, call.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)
	invoke(t, a, call.ID, toolListAvailableSlots, "")
	invoke(t, a, call.ID, toolBookSlot, `{"slot":"slot-a"}`)

	toolEvents := sink.ByType(events.TypeToolCall)
	if len(toolEvents) != 3 {
		t.Fatalf("tool_call events = %d, want 3", len(toolEvents))
	}
	if toolEvents[2].Tool != toolBookSlot {
		t.Fatalf("last event tool = %q, want %q", toolEvents[2].Tool, toolBookSlot)
	}
	if !strings.Contains(string(toolEvents[2].Args), "slot-a") {
		t.Fatalf("event args = %s, want original arguments", toolEvents[2].Args)
	}
}

func TestGatedToolAttemptStillEmitsEvent(t *testing.T) {
	sink := events.NewCapture()
	a, sessions := newTestAgent(t, appointments.NewInMemoryStore(), sink, defaultHandles())
	call, _ := a.StartCall(context.Background())

	if err := sessions.Advance(call.ID, session.StateDraining); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	reply := invoke(t, a, call.ID, toolBookSlot, `{"slot":"slot-a"}`)
	if !strings.Contains(reply, "call is ending") {
		t.Fatalf("book while draining reply = %q", reply)
	}

	toolEvents := sink.ByType(events.TypeToolCall)
	if len(toolEvents) != 1 {
		t.Fatalf("tool_call events = %d, want 1 for the rejected attempt", len(toolEvents))
	}
	if toolEvents[0].Tool != toolBookSlot {
		t.Fatalf("event tool = %q, want %q", toolEvents[0].Tool, toolBookSlot)
	}
}

func TestSinkFailureDoesNotBlockTools(t *testing.T) {
	sink := events.NewCapture()
	sink.Err = errors.New("sink down")
	a, _ := newTestAgent(t, appointments.NewInMemoryStore(), sink, defaultHandles())
	call, _ := a.StartCall(context.Background())

	reply := invoke(t, a, call.ID, toolIdentifyCaller, `{"contact_number":"+15551234"}`)
	if !strings.Contains(reply, "+15551234") {
		t.Fatalf("identify with failing sink reply = %q", reply)
	}
}

func TestListAvailableSlotsCatalog(t *testing.T) {
	a, _ := newTestAgent(t, appointments.NewInMemoryStore(), events.NewCapture(), defaultHandles())
	call, _ := a.StartCall(context.Background())

	reply := invoke(t, a, call.ID, toolListAvailableSlots, "")
	if !strings.HasPrefix(reply, "Available slots are: ") {
		t.Fatalf("catalog reply = %q", reply)
	}
	if !strings.Contains(reply, "10:30am - 11:30am, 26th January") {
		t.Fatalf("catalog reply missing first slot: %q", reply)
	}
}
