package jobs

import (
	"context"
	"log"
	"time"

	"github.com/greenshield/reengage-backend/internal/config"
	"github.com/greenshield/reengage-backend/internal/services"
	"github.com/greenshield/reengage-backend/internal/storage"
)

// FollowUpJob periodically nudges contacts who engaged but went quiet:
// anyone sitting in interested or action_sqft longer than the configured age
// gets a scheduled follow-up through the campaign dispatcher.
type FollowUpJob struct {
	store      storage.Store
	dispatcher *services.CampaignDispatcher
	cfg        config.Config
	isRunning  bool
	stop       chan struct{}
}

// NewFollowUpJob creates the scheduled follow-up sweep.
func NewFollowUpJob(store storage.Store, dispatcher *services.CampaignDispatcher, cfg config.Config) *FollowUpJob {
	return &FollowUpJob{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		stop:       make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (j *FollowUpJob) Start() {
	if j.isRunning {
		log.Println("Follow-up job already running")
		return
	}
	j.isRunning = true
	log.Printf("Starting follow-up sweep every %s", j.cfg.FollowUpInterval)
	go j.loop()
}

// Stop halts the sweep loop.
func (j *FollowUpJob) Stop() {
	if !j.isRunning {
		return
	}
	j.isRunning = false
	close(j.stop)
	log.Println("Stopping follow-up sweep...")
}

func (j *FollowUpJob) loop() {
	ticker := time.NewTicker(j.cfg.FollowUpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.runSweep()
		}
	}
}

func (j *FollowUpJob) runSweep() {
	cutoff := time.Now().Add(-j.cfg.FollowUpAge)
	states := []string{string(services.StateInterested), string(services.StateActionSqft)}

	candidates, err := j.store.ListContactsInStates(states, cutoff)
	if err != nil {
		log.Printf("Error selecting follow-up candidates: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	log.Printf("Follow-up sweep: %d quiet contacts", len(candidates))
	run, err := j.dispatcher.RunCampaign(context.Background(), "scheduled follow-up sweep", candidates, j.cfg.MaxActive)
	if err != nil {
		log.Printf("Follow-up sweep failed to start: %v", err)
		return
	}
	log.Printf("Follow-up sweep %s: sent=%d suppressed=%d skipped=%d failed=%d",
		run.RunID, run.Sent, run.Suppressed, run.Skipped, run.Failed)
}
