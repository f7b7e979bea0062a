package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenshield/reengage-backend/internal/config"
	"github.com/greenshield/reengage-backend/internal/models"
	"github.com/greenshield/reengage-backend/internal/storage"
)

// CampaignDispatcher runs proactive outreach batches. Candidates are
// pre-filtered by the caller on business criteria; the dispatcher enforces
// the terminal-state skip, the max-active cap, pacing between sends, and a
// worker bound on concurrent gateway calls.
type CampaignDispatcher struct {
	store         storage.Store
	conversations *ConversationService

	pace    time.Duration
	workers int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCampaignDispatcher creates a dispatcher using the shared conversation
// pipeline for each admitted candidate.
func NewCampaignDispatcher(store storage.Store, conversations *ConversationService, cfg config.Config) *CampaignDispatcher {
	workers := cfg.SendConcurrency
	if workers <= 0 {
		workers = 1
	}
	return &CampaignDispatcher{
		store:         store,
		conversations: conversations,
		pace:          cfg.SendPaceInterval,
		workers:       workers,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// RunCampaign executes one batch synchronously and returns the finalized run.
// A send failure for one candidate never aborts the run.
func (d *CampaignDispatcher) RunCampaign(ctx context.Context, criteria string, candidates []*models.Contact, maxActive int) (*models.CampaignRun, error) {
	run := &models.CampaignRun{
		RunID:     uuid.NewString(),
		Criteria:  criteria,
		MaxActive: maxActive,
		StartedAt: time.Now(),
		Requested: len(candidates),
	}
	if err := d.store.CreateCampaignRun(run); err != nil {
		return nil, err
	}

	d.execute(ctx, run, candidates)
	return run, nil
}

// Launch starts a campaign in the background and returns its run record
// immediately. The run can be cancelled with Cancel(runID).
func (d *CampaignDispatcher) Launch(criteria string, candidates []*models.Contact, maxActive int) (*models.CampaignRun, error) {
	run := &models.CampaignRun{
		RunID:     uuid.NewString(),
		Criteria:  criteria,
		MaxActive: maxActive,
		StartedAt: time.Now(),
		Requested: len(candidates),
	}
	if err := d.store.CreateCampaignRun(run); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancels[run.RunID] = cancel
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.cancels, run.RunID)
			d.mu.Unlock()
			cancel()
		}()
		d.execute(ctx, run, candidates)
	}()

	return run, nil
}

// Cancel stops admitting new candidates for a running campaign. In-flight
// sends already accepted by the gateway are not interrupted.
func (d *CampaignDispatcher) Cancel(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cancel, ok := d.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}

type runTally struct {
	mu         sync.Mutex
	sent       int
	suppressed int
	skipped    int
	failed     int
}

// execute runs the admission loop and worker pool, then finalizes the run
// record with whatever counts were reached.
func (d *CampaignDispatcher) execute(ctx context.Context, run *models.CampaignRun, candidates []*models.Contact) {
	log.Printf("📤 Campaign %s starting: %d candidates, max_active=%d", run.RunID, len(candidates), run.MaxActive)

	tally := &runTally{}
	jobs := make(chan *models.Contact)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contact := range jobs {
				d.sendOne(ctx, run, contact, tally)
			}
		}()
	}

	admittedIdle := 0 // admissions expected to newly engage a contact
	cancelled := false
	capLogged := false

admission:
	for i, candidate := range candidates {
		select {
		case <-ctx.Done():
			cancelled = true
			tally.mu.Lock()
			tally.skipped += len(candidates) - i
			tally.mu.Unlock()
			break admission
		default:
		}

		// Cheap pre-check; the authoritative terminal check runs again under
		// the contact lock inside SendAutomated.
		if IsTerminal(State(candidate.State)) {
			tally.mu.Lock()
			tally.skipped++
			tally.mu.Unlock()
			continue
		}

		// The cap bounds concurrently-engaged contacts. Candidates already
		// in an active state (follow-up sweeps) are inside the cap; only an
		// admission that would newly engage an idle contact counts against it.
		if IsIdle(State(candidate.State)) {
			active, err := d.store.CountContactsNotInStates(IdleStates)
			if err != nil {
				log.Printf("⚠️  Campaign %s: active count failed: %v", run.RunID, err)
				tally.mu.Lock()
				tally.skipped++
				tally.mu.Unlock()
				continue
			}
			if active+admittedIdle >= run.MaxActive {
				// Cap reached: skipped, not failed.
				tally.mu.Lock()
				tally.skipped++
				tally.mu.Unlock()
				if !capLogged {
					log.Printf("⏸  Campaign %s: max_active cap reached (%d active)", run.RunID, active)
					capLogged = true
				}
				continue
			}
			admittedIdle++
		}

		// A stalled worker must not block cancellation.
		select {
		case jobs <- candidate:
		case <-ctx.Done():
			cancelled = true
			tally.mu.Lock()
			tally.skipped += len(candidates) - i
			tally.mu.Unlock()
			break admission
		}

		if d.pace > 0 && i < len(candidates)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(d.pace):
			}
		}
	}

	close(jobs)
	wg.Wait()

	tally.mu.Lock()
	run.Sent = tally.sent
	run.Suppressed = tally.suppressed
	run.Skipped = tally.skipped
	run.Failed = tally.failed
	tally.mu.Unlock()
	run.Cancelled = cancelled
	now := time.Now()
	run.FinishedAt = &now

	if err := d.store.UpdateCampaignRun(run); err != nil {
		log.Printf("❌ Campaign %s: failed to finalize run record: %v", run.RunID, err)
	}
	log.Printf("✅ Campaign %s finished: sent=%d suppressed=%d skipped=%d failed=%d cancelled=%v",
		run.RunID, run.Sent, run.Suppressed, run.Skipped, run.Failed, run.Cancelled)
}

// sendOne processes a single admitted candidate in a worker.
func (d *CampaignDispatcher) sendOne(ctx context.Context, run *models.CampaignRun, contact *models.Contact, tally *runTally) {
	result, err := d.conversations.SendAutomated(ctx, contact.ID, TriggerScheduledFollowUp)
	if err != nil && result == SendResultFailed {
		log.Printf("❌ Campaign %s: send to %s failed: %v", run.RunID, contact.Phone, err)
	}

	tally.mu.Lock()
	defer tally.mu.Unlock()
	switch result {
	case SendResultSent:
		tally.sent++
	case SendResultSuppressed:
		tally.suppressed++
	case SendResultFailed:
		tally.failed++
	default:
		tally.skipped++
	}
}
