package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/greenshield/reengage-backend/internal/config"
	"github.com/greenshield/reengage-backend/internal/models"
	"github.com/greenshield/reengage-backend/internal/storage"
)

func newTestDispatcher(env *testEnv, pace time.Duration, workers int) *CampaignDispatcher {
	return NewCampaignDispatcher(env.store, env.svc, config.Config{
		SendPaceInterval: pace,
		SendConcurrency:  workers,
	})
}

func seedCandidates(t *testing.T, env *testEnv, n int, state State) []*models.Contact {
	t.Helper()
	candidates := make([]*models.Contact, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, env.addContact(t, fmt.Sprintf("+1555987%04d", i), state))
	}
	return candidates
}

func TestCampaignAdmissionNeverExceedsMaxActive(t *testing.T) {
	env := newTestEnv(t, true)
	dispatcher := newTestDispatcher(env, 0, 1)
	candidates := seedCandidates(t, env, 5, StateStart)

	run, err := dispatcher.RunCampaign(context.Background(), "test cap", candidates, 2)
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	if run.Sent > 2 {
		t.Errorf("sent = %d, exceeds max_active 2", run.Sent)
	}
	if run.Sent+run.Suppressed+run.Skipped+run.Failed != 5 {
		t.Errorf("counts don't cover all candidates: %+v", run)
	}
	if env.gateway.sendCount() > 2 {
		t.Errorf("gateway calls = %d, exceeds cap", env.gateway.sendCount())
	}
}

func TestCampaignCountsPreexistingActiveContacts(t *testing.T) {
	env := newTestEnv(t, true)
	dispatcher := newTestDispatcher(env, 0, 1)

	// Three mid-conversation contacts already occupy the cap.
	seedCandidates(t, env, 3, StateInterested)
	candidate := env.addContact(t, "+15559990001", StateStart)

	run, err := dispatcher.RunCampaign(context.Background(), "cap occupied", []*models.Contact{candidate}, 3)
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}
	if run.Sent != 0 || run.Skipped != 1 {
		t.Errorf("expected the single candidate skipped, got %+v", run)
	}
}

func TestSweepAdmitsAlreadyActiveCandidates(t *testing.T) {
	env := newTestEnv(t, true)
	dispatcher := newTestDispatcher(env, 0, 1)

	// A follow-up sweep targets engaged contacts; they already occupy the
	// cap, so nudging them must not be blocked by it.
	candidates := seedCandidates(t, env, 3, StateInterested)

	run, err := dispatcher.RunCampaign(context.Background(), "sweep at cap", candidates, 3)
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	if run.Sent != 3 || run.Skipped != 0 {
		t.Errorf("run = %+v, want all 3 engaged candidates nudged", run)
	}
	for _, candidate := range candidates {
		fresh, _ := env.store.GetContact(candidate.ID)
		if fresh.State != string(StateFollowUp) {
			t.Errorf("candidate %s state = %s, want follow_up", candidate.Phone, fresh.State)
		}
	}
}

func TestCampaignSkipsTerminalStates(t *testing.T) {
	env := newTestEnv(t, true)
	dispatcher := newTestDispatcher(env, 0, 1)

	stopped := env.addContact(t, "+15559990010", StateStop)
	done := env.addContact(t, "+15559990011", StateDone)
	fresh := env.addContact(t, "+15559990012", StateStart)

	run, err := dispatcher.RunCampaign(context.Background(), "terminal skip",
		[]*models.Contact{stopped, done, fresh}, 10)
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	if run.Skipped != 2 || run.Sent != 1 {
		t.Errorf("run = %+v, want skipped=2 sent=1", run)
	}
	for _, sent := range env.gateway.sends {
		if sent.To == stopped.Phone || sent.To == done.Phone {
			t.Errorf("terminal contact %s received an automated send", sent.To)
		}
	}
}

func TestCampaignFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t, true)
	dispatcher := newTestDispatcher(env, 0, 1)
	candidates := seedCandidates(t, env, 5, StateStart)
	env.gateway.failTo[candidates[1].Phone] = true

	run, err := dispatcher.RunCampaign(context.Background(), "failure isolation", candidates, 10)
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	if run.Failed != 1 {
		t.Errorf("failed = %d, want 1", run.Failed)
	}
	if run.Sent != 4 {
		t.Errorf("sent = %d, want 4 (run must not abort)", run.Sent)
	}
	if run.FinishedAt == nil {
		t.Error("run was not finalized")
	}
}

func TestCampaignSuppressedWhenOutboundDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	dispatcher := newTestDispatcher(env, 0, 1)
	candidates := seedCandidates(t, env, 3, StateStart)

	run, err := dispatcher.RunCampaign(context.Background(), "suppressed run", candidates, 10)
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	if env.gateway.sendCount() != 0 {
		t.Errorf("gateway calls = %d, want 0", env.gateway.sendCount())
	}

	suppressed := 0
	for _, candidate := range candidates {
		for _, turn := range env.turns(t, candidate.ID) {
			if turn.Outcome == models.OutcomeSuppressed {
				suppressed++
			}
		}
	}
	if suppressed != 3 {
		t.Errorf("suppressed audit entries = %d, want 3", suppressed)
	}
	if run.Suppressed != 3 || run.Sent != 0 {
		t.Errorf("run counters = sent %d suppressed %d, want 0/3", run.Sent, run.Suppressed)
	}
}

func TestCampaignCancellationStopsAdmission(t *testing.T) {
	env := newTestEnv(t, true)
	dispatcher := newTestDispatcher(env, 25*time.Millisecond, 1)
	candidates := seedCandidates(t, env, 20, StateStart)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	run, err := dispatcher.RunCampaign(ctx, "cancelled run", candidates, 100)
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}

	if !run.Cancelled {
		t.Error("run should be marked cancelled")
	}
	if run.Skipped == 0 {
		t.Error("cancellation should skip the unadmitted remainder")
	}
	if run.Sent+run.Suppressed+run.Skipped+run.Failed != 20 {
		t.Errorf("partial counts must still cover all candidates: %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("cancelled run must still be finalized")
	}
}

// stallGateway parks every send until released, simulating a slow carrier.
type stallGateway struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *stallGateway) Send(to, body string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return "SMstall", nil
}

func (g *stallGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestCancellationNotBlockedByStalledWorker(t *testing.T) {
	store := storage.NewMemoryStore()
	gateway := &stallGateway{entered: make(chan struct{}, 1), release: make(chan struct{})}
	machine, err := NewStateMachine(DefaultTransitionTable())
	if err != nil {
		t.Fatalf("state machine: %v", err)
	}
	cfg := config.Config{
		OutboundEnabled: true,
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
	dispatcher := NewCampaignDispatcher(store, svc, config.Config{SendConcurrency: 1})

	candidates := make([]*models.Contact, 0, 3)
	for i := 0; i < 3; i++ {
		contact, err := store.CreateContact(&models.Contact{
			Phone: fmt.Sprintf("+1555444%04d", i),
			State: string(StateStart),
		})
		if err != nil {
			t.Fatalf("create contact: %v", err)
		}
		candidates = append(candidates, contact)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *models.CampaignRun, 1)
	go func() {
		run, err := dispatcher.RunCampaign(ctx, "stalled carrier", candidates, 10)
		if err != nil {
			t.Errorf("RunCampaign: %v", err)
		}
		done <- run
	}()

	// Wait until the single worker is parked inside the gateway call, then
	// cancel while admission is blocked handing off the next candidate.
	<-gateway.entered
	cancel()
	time.Sleep(100 * time.Millisecond)
	close(gateway.release)

	select {
	case run := <-done:
		if !run.Cancelled {
			t.Error("run should be marked cancelled")
		}
		if got := gateway.callCount(); got != 1 {
			t.Errorf("gateway calls = %d, want 1 (no admissions after cancel)", got)
		}
		if run.Sent != 1 || run.Skipped != 2 {
			t.Errorf("run = %+v, want sent=1 skipped=2", run)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}
}

func TestLaunchAndCancelByRunID(t *testing.T) {
	env := newTestEnv(t, true)
	dispatcher := newTestDispatcher(env, 20*time.Millisecond, 1)
	candidates := seedCandidates(t, env, 30, StateStart)

	run, err := dispatcher.Launch("background run", candidates, 100)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if !dispatcher.Cancel(run.RunID) {
		t.Fatal("Cancel should find the running campaign")
	}

	// Wait for finalization.
	deadline := time.After(2 * time.Second)
	for {
		stored, err := env.store.GetCampaignRun(run.RunID)
		if err == nil && stored.FinishedAt != nil {
			if !stored.Cancelled {
				t.Error("stored run should be marked cancelled")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("run was never finalized after cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if dispatcher.Cancel(run.RunID) {
		t.Error("Cancel after completion should report no running campaign")
	}
}
