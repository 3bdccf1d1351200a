package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lmoretti/frontdesk/internal/appointments"
	"github.com/lmoretti/frontdesk/internal/session"
)

const (
	toolIdentifyCaller     = "identify_caller"
	toolListAvailableSlots = "list_available_slots"
	toolBookSlot           = "book_slot"
	toolListMyAppointments = "list_my_appointments"
	toolCancelAppointment  = "cancel_appointment"
	toolModifyAppointment  = "modify_appointment"
	toolEndConversation    = "end_conversation"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

type toolResult struct {
	reply   string
	outcome string
}

const (
	outcomeOK            = "ok"
	outcomeNotIdentified = "not_identified"
	outcomeAlreadyBooked = "already_booked"
	outcomeSlotTaken     = "slot_taken"
	outcomeNotFound      = "not_found"
	outcomeStoreError    = "store_error"
)

type toolHandler func(ctx context.Context, a *Agent, call *session.Call, rt *callRuntime, args json.RawMessage) (toolResult, error)

// toolHandlers is the closed dispatch table: every tool is a typed handler
// bound at definition time.
var toolHandlers = map[string]toolHandler{
	toolIdentifyCaller:     handleIdentifyCaller,
	toolListAvailableSlots: handleListAvailableSlots,
	toolBookSlot:           handleBookSlot,
	toolListMyAppointments: handleListMyAppointments,
	toolCancelAppointment:  handleCancelAppointment,
	toolModifyAppointment:  handleModifyAppointment,
	toolEndConversation:    handleEndConversation,
}

type identifyArgs struct {
	ContactNumber string `json:"contact_number"`
	Name          string `json:"name,omitempty"`
}

type bookArgs struct {
	Slot    string `json:"slot"`
	Details string `json:"details,omitempty"`
}

type cancelArgs struct {
	Slot string `json:"slot"`
}

type modifyArgs struct {
	OldSlot string `json:"old_slot"`
	NewSlot string `json:"new_slot"`
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

func handleIdentifyCaller(_ context.Context, a *Agent, call *session.Call, _ *callRuntime, args json.RawMessage) (toolResult, error) {
	var in identifyArgs
	if err := decodeArgs(args, &in); err != nil {
		return toolResult{}, err
	}
	contact := strings.TrimSpace(in.ContactNumber)
	if contact == "" {
		return toolResult{}, fmt.Errorf("%w: contact_number is required", ErrInvalidArgs)
	}
	if err := a.sessions.Identify(call.ID, contact, strings.TrimSpace(in.Name)); err != nil {
		return toolResult{}, err
	}
	return toolResult{
		reply:   fmt.Sprintf("Thank you! I have your contact number %s. How can I help you today?", contact),
		outcome: outcomeOK,
	}, nil
}

func handleListAvailableSlots(_ context.Context, a *Agent, _ *session.Call, _ *callRuntime, _ json.RawMessage) (toolResult, error) {
	return toolResult{reply: describeCatalog(a.catalog), outcome: outcomeOK}, nil
}

func handleBookSlot(ctx context.Context, a *Agent, call *session.Call, _ *callRuntime, args json.RawMessage) (toolResult, error) {
	var in bookArgs
	if err := decodeArgs(args, &in); err != nil {
		return toolResult{}, err
	}
	slot := strings.TrimSpace(in.Slot)
	if slot == "" {
		return toolResult{}, fmt.Errorf("%w: slot is required", ErrInvalidArgs)
	}
	if !call.Identified() {
		return toolResult{
			reply:   "I need your contact number before booking. Could you share it first?",
			outcome: outcomeNotIdentified,
		}, nil
	}

	// Advisory read: catches the caller double-booking themselves early and
	// cheaply. The store's uniqueness constraint is the real gate.
	for _, rec := range a.recordsFor(ctx, call.ContactNumber) {
		if rec.Slot == slot && rec.Confirmed() {
			return toolResult{
				reply:   fmt.Sprintf("You already have an appointment at %s.", slot),
				outcome: outcomeAlreadyBooked,
			}, nil
		}
	}

	availCtx, cancel := a.storeCtx(ctx)
	available := a.store.IsSlotAvailable(availCtx, slot)
	cancel()
	if !available {
		return toolResult{reply: slotTakenReply(slot), outcome: outcomeSlotTaken}, nil
	}

	createCtx, cancel := a.storeCtx(ctx)
	defer cancel()
	rec, err := a.store.Create(createCtx, call.ContactNumber, call.DisplayName, slot, strings.TrimSpace(in.Details))
	switch {
	case errors.Is(err, appointments.ErrSlotTaken):
		// Lost the race after passing the advisory check; same answer as if
		// the advisory check had caught it.
		return toolResult{reply: slotTakenReply(slot), outcome: outcomeSlotTaken}, nil
	case err != nil:
		log.Printf("call %s: create appointment: %v", call.ID, err)
		a.metrics.StoreErrors.WithLabelValues("create").Inc()
		return toolResult{
			reply:   "I'm sorry, I couldn't book the appointment due to a system error.",
			outcome: outcomeStoreError,
		}, nil
	}
	return toolResult{
		reply:   fmt.Sprintf("Appointment booked successfully for %s. Your appointment details: %s.", rec.Slot, rec.Details),
		outcome: outcomeOK,
	}, nil
}

func handleListMyAppointments(ctx context.Context, a *Agent, call *session.Call, _ *callRuntime, _ json.RawMessage) (toolResult, error) {
	if !call.Identified() {
		return toolResult{
			reply:   "Please provide your contact number first.",
			outcome: outcomeNotIdentified,
		}, nil
	}
	recs := a.recordsFor(ctx, call.ContactNumber)
	if len(recs) == 0 {
		return toolResult{reply: "You have no appointments on record.", outcome: outcomeOK}, nil
	}
	parts := make([]string, len(recs))
	for i, rec := range recs {
		parts[i] = fmt.Sprintf("%s (%s) - %s", rec.Slot, rec.Details, rec.Status)
	}
	return toolResult{
		reply:   "Here are your appointments: " + strings.Join(parts, ", "),
		outcome: outcomeOK,
	}, nil
}

func handleCancelAppointment(ctx context.Context, a *Agent, call *session.Call, _ *callRuntime, args json.RawMessage) (toolResult, error) {
	var in cancelArgs
	if err := decodeArgs(args, &in); err != nil {
		return toolResult{}, err
	}
	slot := strings.TrimSpace(in.Slot)
	if slot == "" {
		return toolResult{}, fmt.Errorf("%w: slot is required", ErrInvalidArgs)
	}
	if !call.Identified() {
		return toolResult{
			reply:   "Please provide your phone number first.",
			outcome: outcomeNotIdentified,
		}, nil
	}

	target := findActiveRecord(a.recordsFor(ctx, call.ContactNumber), slot)
	if target == nil {
		return toolResult{
			reply:   fmt.Sprintf("I couldn't find an active appointment at %s.", slot),
			outcome: outcomeNotFound,
		}, nil
	}

	cancelCtx, cancel := a.storeCtx(ctx)
	defer cancel()
	err := a.store.Cancel(cancelCtx, target.ID)
	switch {
	case errors.Is(err, appointments.ErrNotFound):
		return toolResult{
			reply:   fmt.Sprintf("I couldn't find an active appointment at %s.", slot),
			outcome: outcomeNotFound,
		}, nil
	case err != nil:
		log.Printf("call %s: cancel appointment: %v", call.ID, err)
		a.metrics.StoreErrors.WithLabelValues("cancel").Inc()
		return toolResult{
			reply:   "I'm sorry, I couldn't cancel the appointment due to a system error.",
			outcome: outcomeStoreError,
		}, nil
	}
	return toolResult{
		reply:   fmt.Sprintf("Appointment at %s has been cancelled.", slot),
		outcome: outcomeOK,
	}, nil
}

func handleModifyAppointment(ctx context.Context, a *Agent, call *session.Call, _ *callRuntime, args json.RawMessage) (toolResult, error) {
	var in modifyArgs
	if err := decodeArgs(args, &in); err != nil {
		return toolResult{}, err
	}
	oldSlot := strings.TrimSpace(in.OldSlot)
	newSlot := strings.TrimSpace(in.NewSlot)
	if oldSlot == "" || newSlot == "" {
		return toolResult{}, fmt.Errorf("%w: old_slot and new_slot are required", ErrInvalidArgs)
	}
	if !call.Identified() {
		return toolResult{
			reply:   "Please identify yourself first by sharing your contact number.",
			outcome: outcomeNotIdentified,
		}, nil
	}

	target := findActiveRecord(a.recordsFor(ctx, call.ContactNumber), oldSlot)
	if target == nil {
		return toolResult{
			reply:   fmt.Sprintf("Could not find an appointment at %s.", oldSlot),
			outcome: outcomeNotFound,
		}, nil
	}

	availCtx, cancel := a.storeCtx(ctx)
	available := a.store.IsSlotAvailable(availCtx, newSlot)
	cancel()
	if !available {
		return toolResult{reply: slotTakenReply(newSlot), outcome: outcomeSlotTaken}, nil
	}

	updateCtx, cancel := a.storeCtx(ctx)
	defer cancel()
	err := a.store.UpdateSlot(updateCtx, target.ID, newSlot)
	switch {
	case errors.Is(err, appointments.ErrSlotTaken):
		return toolResult{reply: slotTakenReply(newSlot), outcome: outcomeSlotTaken}, nil
	case errors.Is(err, appointments.ErrNotFound):
		return toolResult{
			reply:   fmt.Sprintf("Could not find an appointment at %s.", oldSlot),
			outcome: outcomeNotFound,
		}, nil
	case err != nil:
		log.Printf("call %s: update appointment: %v", call.ID, err)
		a.metrics.StoreErrors.WithLabelValues("update").Inc()
		return toolResult{
			reply:   "I'm sorry, I couldn't change the appointment due to a system error.",
			outcome: outcomeStoreError,
		}, nil
	}
	return toolResult{
		reply:   fmt.Sprintf("Appointment changed from %s to %s.", oldSlot, newSlot),
		outcome: outcomeOK,
	}, nil
}

// handleEndConversation kicks off teardown and returns the goodbye message
// right away, so the host runtime can speak it while disconnection proceeds
// in the background.
func handleEndConversation(_ context.Context, _ *Agent, _ *session.Call, rt *callRuntime, _ json.RawMessage) (toolResult, error) {
	return toolResult{reply: rt.teardown.Begin(), outcome: outcomeOK}, nil
}

// recordsFor fetches the caller's appointments for advisory checks and
// listings. Store failure degrades to an empty list.
func (a *Agent) recordsFor(ctx context.Context, contactNumber string) []appointments.Record {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	recs, err := a.store.GetByContact(sctx, contactNumber)
	if err != nil {
		log.Printf("fetch appointments for %s: %v", contactNumber, err)
		a.metrics.StoreErrors.WithLabelValues("get_by_contact").Inc()
		return nil
	}
	return recs
}

func findActiveRecord(recs []appointments.Record, slot string) *appointments.Record {
	for i := range recs {
		if recs[i].Slot == slot && recs[i].Status != appointments.StatusCancelled {
			return &recs[i]
		}
	}
	return nil
}

func slotTakenReply(slot string) string {
	return fmt.Sprintf("I'm sorry, but the slot %s is already booked by another customer. Please choose a different time slot.", slot)
}
