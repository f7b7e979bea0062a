package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/greenshield/reengage-backend/internal/config"
	"github.com/greenshield/reengage-backend/internal/models"
	"github.com/greenshield/reengage-backend/internal/storage"
)

// mockGateway records sends in memory and can fail selected numbers.
type mockGateway struct {
	mu     sync.Mutex
	sends  []mockSend
	failTo map[string]bool
	nextID int
}

type mockSend struct {
	To   string
	Body string
}

func newMockGateway() *mockGateway {
	return &mockGateway{failTo: make(map[string]bool)}
}

func (g *mockGateway) Send(to, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failTo[to] {
		return "", &GatewayError{To: to, Err: errors.New("carrier unreachable")}
	}
	g.nextID++
	g.sends = append(g.sends, mockSend{To: to, Body: body})
	return fmt.Sprintf("SM%08d", g.nextID), nil
}

func (g *mockGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

type testEnv struct {
	store   *storage.MemoryStore
	gateway *mockGateway
	svc     *ConversationService
}

func newTestEnv(t *testing.T, outboundEnabled bool) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	gateway := newMockGateway()
	machine, err := NewStateMachine(DefaultTransitionTable())
	if err != nil {
		t.Fatalf("state machine: %v", err)
	}

	cfg := config.Config{
		OutboundEnabled: outboundEnabled,
		MaxReplyLength:  320,
		OptOutKeywords:  config.DefaultOptOutKeywords,
	}

	svc := NewConversationService(
		store,
		NewComplianceGuard(cfg.OptOutKeywords),
		machine,
		NewReplyComposer(nil, cfg.MaxReplyLength),
		gateway,
		NewAuditLog(store),
		cfg,
	)
	return &testEnv{store: store, gateway: gateway, svc: svc}
}

func (e *testEnv) addContact(t *testing.T, phone string, state State) *models.Contact {
	t.Helper()
	contact, err := e.store.CreateContact(&models.Contact{Phone: phone, State: string(state), Cancelled: true, DaysSinceService: 90})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return contact
}

func (e *testEnv) turns(t *testing.T, contactID uint) []*models.ConversationTurn {
	t.Helper()
	turns, err := e.store.GetTurnsByContact(contactID, zeroTime, zeroTime)
	if err != nil {
		t.Fatalf("load turns: %v", err)
	}
	return turns
}

func TestStopKeywordFromInterested(t *testing.T) {
	env := newTestEnv(t, true)
	contact := env.addContact(t, "+15551230001", StateInterested)

	reply, err := env.svc.ProcessInbound(context.Background(), "+15551230001", "STOP", "SMstop001")
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if reply != config.StopConfirmationText {
		t.Errorf("reply = %q, want %q", reply, config.StopConfirmationText)
	}

	fresh, _ := env.store.GetContact(contact.ID)
	if fresh.State != string(StateStop) {
		t.Errorf("state = %s, want stop", fresh.State)
	}

	turns := env.turns(t, contact.ID)
	if len(turns) != 2 {
		t.Fatalf("turn count = %d, want 2 (inbound + confirmation)", len(turns))
	}
	out := turns[1]
	if out.Direction != models.DirectionOut || out.Outcome != models.OutcomeSent || out.Body != config.StopConfirmationText {
		t.Errorf("confirmation turn = %+v", out)
	}
}

func TestStopKeywordWinsFromAnyState(t *testing.T) {
	for i, from := range []State{StateStart, StateInterested, StateActionSqft, StateFollowUp, StatePause, StateDone} {
		env := newTestEnv(t, true)
		phone := fmt.Sprintf("+1555123%04d", i)
		contact := env.addContact(t, phone, from)

		if _, err := env.svc.ProcessInbound(context.Background(), phone, " stop ", fmt.Sprintf("SMany%04d", i)); err != nil {
			t.Fatalf("stop from %s: %v", from, err)
		}
		fresh, _ := env.store.GetContact(contact.ID)
		if fresh.State != string(StateStop) {
			t.Errorf("stop from %s left state %s", from, fresh.State)
		}

		confirmations := 0
		for _, turn := range env.turns(t, contact.ID) {
			if turn.Direction == models.DirectionOut && turn.Body == config.StopConfirmationText {
				confirmations++
			}
		}
		if confirmations != 1 {
			t.Errorf("stop from %s produced %d confirmations, want 1", from, confirmations)
		}
	}
}

func TestDuplicateMessageSIDIsIdempotent(t *testing.T) {
	env := newTestEnv(t, true)
	contact := env.addContact(t, "+15551230002", StateStart)

	if _, err := env.svc.ProcessInbound(context.Background(), "+15551230002", "yes please", "SMdup001"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	_, err := env.svc.ProcessInbound(context.Background(), "+15551230002", "yes please", "SMdup001")
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("replay error = %v, want ErrDuplicateMessage", err)
	}

	fresh, _ := env.store.GetContact(contact.ID)
	if fresh.State != string(StateInterested) {
		t.Errorf("replay advanced state to %s", fresh.State)
	}
	if got := len(env.turns(t, contact.ID)); got != 2 {
		t.Errorf("turn count = %d, want 2 (one inbound, one reply)", got)
	}
}

func TestUnknownContactRejected(t *testing.T) {
	env := newTestEnv(t, true)

	_, err := env.svc.ProcessInbound(context.Background(), "+19995550000", "hello", "SMunknown1")
	if !errors.Is(err, ErrUnknownContact) {
		t.Fatalf("error = %v, want ErrUnknownContact", err)
	}
	if _, err := env.store.GetContactByPhone("+19995550000"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("unknown phone must not be onboarded")
	}
	if env.gateway.sendCount() != 0 {
		t.Error("no send expected for unknown contact")
	}
}

func TestUnknownContactLeavesRejectionRecord(t *testing.T) {
	env := newTestEnv(t, true)

	_, err := env.svc.ProcessInbound(context.Background(), "+19995550001", "hello there", "SMreject01")
	if !errors.Is(err, ErrUnknownContact) {
		t.Fatalf("error = %v, want ErrUnknownContact", err)
	}

	rejections, err := env.store.ListRejections(0)
	if err != nil {
		t.Fatalf("ListRejections: %v", err)
	}
	if len(rejections) != 1 {
		t.Fatalf("rejection records = %d, want 1", len(rejections))
	}
	rec := rejections[0]
	if rec.ContactID != 0 {
		t.Errorf("rejection record must be contact-less, got contact %d", rec.ContactID)
	}
	if rec.Phone != "+19995550001" || rec.Body != "hello there" || rec.CarrierMessageID != "SMreject01" {
		t.Errorf("rejection record = %+v", rec)
	}
	if rec.Outcome != models.OutcomeRejected || rec.Direction != models.DirectionIn {
		t.Errorf("rejection record outcome/direction = %s/%s", rec.Outcome, rec.Direction)
	}
}

func TestSuppressedWhenOutboundDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	contact := env.addContact(t, "+15551230003", StateStart)

	reply, err := env.svc.ProcessInbound(context.Background(), "+15551230003", "still seeing ants", "SMsupp001")
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if reply == "" {
		t.Fatal("pipeline should still produce the would-be reply")
	}
	if env.gateway.sendCount() != 0 {
		t.Error("gateway must not be called when outbound is disabled")
	}

	turns := env.turns(t, contact.ID)
	if len(turns) != 2 {
		t.Fatalf("turn count = %d, want 2", len(turns))
	}
	if turns[1].Outcome != models.OutcomeSuppressed {
		t.Errorf("outbound outcome = %s, want suppressed", turns[1].Outcome)
	}
}

func TestGatewayFailureRecordedNotSilent(t *testing.T) {
	env := newTestEnv(t, true)
	contact := env.addContact(t, "+15551230004", StateStart)
	env.gateway.failTo["+15551230004"] = true

	_, err := env.svc.ProcessInbound(context.Background(), "+15551230004", "yes", "SMfail001")
	var gerr *GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("error = %v, want GatewayError", err)
	}

	// Transition was already committed before the send attempt.
	fresh, _ := env.store.GetContact(contact.ID)
	if fresh.State != string(StateInterested) {
		t.Errorf("state = %s, want interested", fresh.State)
	}

	turns := env.turns(t, contact.ID)
	if len(turns) != 2 || turns[1].Outcome != models.OutcomeFailed {
		t.Errorf("expected failed outbound turn, got %+v", turns)
	}
}

func TestReplyLengthBoundThroughPipeline(t *testing.T) {
	env := newTestEnv(t, true)
	env.addContact(t, "+15551230005", StateStart)

	// Swap in a generator that overflows the bound.
	env.svc.composer = NewReplyComposer(&stubGenerator{reply: strings.Repeat("x", 1000)}, 320)

	reply, err := env.svc.ProcessInbound(context.Background(), "+15551230005", "yes", "SMlong001")
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if n := len([]rune(reply)); n > 320 {
		t.Errorf("reply length = %d, want <= 320", n)
	}
	if env.gateway.sends[0].Body != reply {
		t.Error("sent body should equal the composed reply")
	}
}

func TestInboundWhileStoppedGetsNoReply(t *testing.T) {
	env := newTestEnv(t, true)
	contact := env.addContact(t, "+15551230006", StateStop)

	_, err := env.svc.ProcessInbound(context.Background(), "+15551230006", "hello again", "SMquiet01")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidTransitionError", err)
	}
	if env.gateway.sendCount() != 0 {
		t.Error("stopped contact must not receive an automated reply")
	}

	// The inbound message itself is still visible to operators.
	turns := env.turns(t, contact.ID)
	if len(turns) != 1 || turns[0].Direction != models.DirectionIn {
		t.Errorf("expected one inbound audit turn, got %+v", turns)
	}
}

func TestManualStopMatchesKeywordPath(t *testing.T) {
	env := newTestEnv(t, true)
	contact := env.addContact(t, "+15551230007", StateInterested)

	if err := env.svc.SetContactState(contact.ID, StateStop, TriggerManualOverride); err != nil {
		t.Fatalf("manual stop: %v", err)
	}

	fresh, _ := env.store.GetContact(contact.ID)
	if fresh.State != string(StateStop) {
		t.Errorf("state = %s, want stop", fresh.State)
	}

	turns := env.turns(t, contact.ID)
	if len(turns) != 1 {
		t.Fatalf("turn count = %d, want 1 confirmation", len(turns))
	}
	out := turns[0]
	if out.Direction != models.DirectionOut || out.Body != config.StopConfirmationText || out.Outcome != models.OutcomeSent {
		t.Errorf("manual stop confirmation = %+v, want same shape as keyword path", out)
	}
}

func TestOptInReEnrollment(t *testing.T) {
	env := newTestEnv(t, true)
	contact := env.addContact(t, "+15551230008", StateStop)

	if err := env.svc.SetContactState(contact.ID, StateStart, TriggerOptIn); err != nil {
		t.Fatalf("opt-in from stop: %v", err)
	}
	fresh, _ := env.store.GetContact(contact.ID)
	if fresh.State != string(StateStart) {
		t.Errorf("state = %s, want start", fresh.State)
	}

	// Opt-in is only legal from stop.
	other := env.addContact(t, "+15551230009", StateInterested)
	if err := env.svc.SetContactState(other.ID, StateStart, TriggerOptIn); err == nil {
		t.Error("opt-in from interested should be rejected")
	}
}

func TestConcurrentStopAndReplySerialized(t *testing.T) {
	env := newTestEnv(t, true)
	contact := env.addContact(t, "+15551230010", StateInterested)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		env.svc.ProcessInbound(context.Background(), "+15551230010", "STOP", "SMrace001")
	}()
	go func() {
		defer wg.Done()
		env.svc.SendAutomated(context.Background(), contact.ID, TriggerScheduledFollowUp)
	}()
	wg.Wait()

	fresh, _ := env.store.GetContact(contact.ID)
	if fresh.State != string(StateStop) {
		t.Errorf("state = %s, want stop (opt-out must win)", fresh.State)
	}
}
