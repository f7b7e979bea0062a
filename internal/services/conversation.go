package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/greenshield/reengage-backend/internal/config"
	"github.com/greenshield/reengage-backend/internal/models"
	"github.com/greenshield/reengage-backend/internal/storage"
	"github.com/greenshield/reengage-backend/internal/utils"
)

// zeroTime marks an unbounded side of a transcript range.
var zeroTime time.Time

// SendResult classifies one attempted automated send.
type SendResult string

const (
	SendResultSent       SendResult = "sent"
	SendResultSuppressed SendResult = "suppressed"
	SendResultSkipped    SendResult = "skipped"
	SendResultFailed     SendResult = "failed"
)

// ConversationService drives the per-contact conversation pipeline. Both the
// inbound webhook path and the campaign dispatcher go through it, so guard
// checks, transitions, sends and audit entries behave identically everywhere.
type ConversationService struct {
	store    storage.Store
	guard    *ComplianceGuard
	machine  *StateMachine
	composer *ReplyComposer
	gateway  Gateway
	audit    *AuditLog
	locks    *ContactLocks

	outboundEnabled bool
}

// NewConversationService wires the pipeline. gateway may be nil only when
// outbound is disabled.
func NewConversationService(
	store storage.Store,
	guard *ComplianceGuard,
	machine *StateMachine,
	composer *ReplyComposer,
	gateway Gateway,
	audit *AuditLog,
	cfg config.Config,
) *ConversationService {
	return &ConversationService{
		store:           store,
		guard:           guard,
		machine:         machine,
		composer:        composer,
		gateway:         gateway,
		audit:           audit,
		locks:           NewContactLocks(),
		outboundEnabled: cfg.OutboundEnabled,
	}
}

// ProcessInbound handles one verified inbound webhook message. It returns the
// outbound reply text (empty when no reply was produced) so handlers can log
// it; the reply itself is sent out-of-band via the gateway.
func (s *ConversationService) ProcessInbound(ctx context.Context, from, body, messageSID string) (string, error) {
	phone := utils.NormalizePhone(from)

	// No anonymous onboarding: the phone must map to a service customer.
	contact, err := s.store.GetContactByPhone(phone)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("🚫 Rejected inbound from unknown phone %s", phone)
			s.audit.RecordRejection(phone, body, messageSID)
			return "", ErrUnknownContact
		}
		return "", err
	}

	unlock := s.locks.Lock(phone)
	defer unlock()

	// Replayed carrier message ids are idempotent no-ops. Checked under the
	// contact lock so two concurrent replays cannot both pass.
	if _, err := s.store.GetTurnByCarrierMessageID(messageSID); err == nil {
		log.Printf("🔁 Duplicate message %s from %s - ignoring", messageSID, phone)
		return "", ErrDuplicateMessage
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	// Re-read under the lock; a concurrent operation may have moved the state.
	contact, err = s.store.GetContactByPhone(phone)
	if err != nil {
		return "", err
	}
	if contact.State == "" {
		contact.State = string(StateStart)
	}

	// STOP wins every race: the opt-out check runs inside the same critical
	// section as the transition it preempts.
	if s.guard.IsOptOut(body) {
		return s.stopLocked(contact, messageSID, body)
	}

	current := State(contact.State)
	next, err := s.machine.Transition(current, TriggerInboundReply)
	if err != nil {
		// State unchanged. The inbound message is still audit-logged so the
		// console shows what the customer said.
		s.audit.Record(contact.ID, models.DirectionIn, body, current, messageSID, models.OutcomeReceived)
		return "", err
	}

	contact.State = string(next)
	if next == StateInterested || next == StateActionSqft {
		contact.WasInterested = true
	}
	if err := s.store.UpdateContact(contact); err != nil {
		return "", fmt.Errorf("failed to persist transition for %s: %w", phone, err)
	}

	s.audit.Record(contact.ID, models.DirectionIn, body, next, messageSID, models.OutcomeReceived)

	history, err := s.store.GetTurnsByContact(contact.ID, zeroTime, zeroTime)
	if err != nil {
		log.Printf("⚠️  Could not load history for %s: %v", phone, err)
	}

	reply := s.composer.Compose(ctx, contact, history, next)
	if _, err := s.deliver(contact, reply, next); err != nil {
		// The transition stands; the message is marked failed-not-sent.
		return reply, err
	}
	return reply, nil
}

// StopContact is the manual operator stop. It runs the same path as the STOP
// keyword so both are indistinguishable in the audit log and to the contact.
func (s *ConversationService) StopContact(contactID uint) error {
	contact, err := s.store.GetContact(contactID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(contact.Phone)
	defer unlock()

	contact, err = s.store.GetContact(contactID)
	if err != nil {
		return err
	}
	_, err = s.stopLocked(contact, "", "")
	return err
}

// stopLocked transitions to stop unconditionally and sends the fixed
// confirmation. Caller must hold the contact lock. inboundSID/inboundBody are
// set on the keyword path and empty on the manual path.
func (s *ConversationService) stopLocked(contact *models.Contact, inboundSID, inboundBody string) (string, error) {
	contact.State = string(StateStop)
	if err := s.store.UpdateContact(contact); err != nil {
		return "", fmt.Errorf("failed to persist stop for %s: %w", contact.Phone, err)
	}

	if inboundBody != "" || inboundSID != "" {
		s.audit.Record(contact.ID, models.DirectionIn, inboundBody, StateStop, inboundSID, models.OutcomeReceived)
	}

	log.Printf("🔕 Contact %s opted out", contact.Phone)
	if _, err := s.deliver(contact, config.StopConfirmationText, StateStop); err != nil {
		return config.StopConfirmationText, err
	}
	return config.StopConfirmationText, nil
}

// SetContactState is the operator console entry point for manual state edits.
// Opt-in goes strictly through the transition table (only stop -> start is
// legal); manual override applies the requested state directly, since
// terminal states stay editable by a human.
func (s *ConversationService) SetContactState(contactID uint, newState State, trigger Trigger) error {
	if _, err := ParseState(string(newState)); err != nil {
		return err
	}

	contact, err := s.store.GetContact(contactID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(contact.Phone)
	defer unlock()

	contact, err = s.store.GetContact(contactID)
	if err != nil {
		return err
	}
	current := State(contact.State)
	if current == "" {
		current = StateStart
	}

	switch trigger {
	case TriggerOptIn:
		next, err := s.machine.Transition(current, TriggerOptIn)
		if err != nil {
			return err
		}
		if next != newState {
			return &InvalidTransitionError{From: current, Trigger: TriggerOptIn}
		}
		contact.State = string(next)
		return s.store.UpdateContact(contact)

	case TriggerManualOverride:
		if newState == StateStop {
			// Manual stop must be behaviorally identical to the keyword path.
			_, err := s.stopLocked(contact, "", "")
			return err
		}
		contact.State = string(newState)
		return s.store.UpdateContact(contact)

	default:
		return fmt.Errorf("trigger %q is not an operator action", trigger)
	}
}

// SendAutomated attempts one automated outbound message to the contact with
// the given trigger. The dispatcher calls this per candidate; guard, machine,
// send and audit all run under the contact lock.
func (s *ConversationService) SendAutomated(ctx context.Context, contactID uint, trigger Trigger) (SendResult, error) {
	contact, err := s.store.GetContact(contactID)
	if err != nil {
		return SendResultSkipped, err
	}

	unlock := s.locks.Lock(contact.Phone)
	defer unlock()

	contact, err = s.store.GetContact(contactID)
	if err != nil {
		return SendResultSkipped, err
	}
	if contact.State == "" {
		contact.State = string(StateStart)
	}

	current := State(contact.State)
	// Terminal states never receive automated sends, even if a concurrent
	// STOP landed after this candidate was selected.
	if IsTerminal(current) {
		return SendResultSkipped, nil
	}

	next, err := s.machine.Transition(current, trigger)
	if err != nil {
		return SendResultSkipped, err
	}

	if next != current {
		contact.State = string(next)
		if err := s.store.UpdateContact(contact); err != nil {
			return SendResultFailed, err
		}
	}

	history, err := s.store.GetTurnsByContact(contact.ID, zeroTime, zeroTime)
	if err != nil {
		log.Printf("⚠️  Could not load history for %s: %v", contact.Phone, err)
	}

	body := s.composer.Compose(ctx, contact, history, next)
	outcome, err := s.deliver(contact, body, next)
	if err != nil {
		return SendResultFailed, err
	}
	if outcome == models.OutcomeSuppressed {
		return SendResultSuppressed, nil
	}
	return SendResultSent, nil
}

// deliver sends one outbound message or, when outbound is globally disabled,
// records it as suppressed without touching the gateway. Every path leaves an
// audit entry; nothing is silently dropped.
func (s *ConversationService) deliver(contact *models.Contact, body string, state State) (string, error) {
	if !s.outboundEnabled {
		log.Printf("📵 Outbound disabled - suppressing message to %s: %s", contact.Phone, body)
		s.audit.Record(contact.ID, models.DirectionOut, body, state, "", models.OutcomeSuppressed)
		return models.OutcomeSuppressed, nil
	}

	sid, err := s.gateway.Send(contact.Phone, body)
	if err != nil {
		s.audit.Record(contact.ID, models.DirectionOut, body, state, "", models.OutcomeFailed)
		return models.OutcomeFailed, err
	}

	s.audit.Record(contact.ID, models.DirectionOut, body, state, sid, models.OutcomeSent)
	return models.OutcomeSent, nil
}
