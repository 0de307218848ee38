package notify

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"serima/config"
	"serima/core/store"
	"serima/core/utils"
)

type ReminderCatalog interface {
	ListReminders(ctx context.Context) ([]store.WorkflowReminder, error)
	ListBundleWorkflows(ctx context.Context, sectorRegulationID int64) ([]store.SectorRegulationWorkflow, error)
}

type OpenIncidents interface {
	ListOpenIncidents(ctx context.Context) ([]store.Incident, error)
}

// EmailSender is satisfied by *Notifier.
type EmailSender interface {
	SendEmail(ctx context.Context, emailID int64, inc *store.Incident)
}

// ReminderScheduler sends deadline reminders of open incidents on a cron
// schedule. Every reminder goes out at most once per incident.
type ReminderScheduler struct {
	cfg       config.SchedulerConfig
	catalog   ReminderCatalog
	incidents OpenIncidents
	reminders store.RemindersStore
	sender    EmailSender
	logger    *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewReminderScheduler(cfg config.SchedulerConfig, catalog ReminderCatalog, incidents OpenIncidents, reminders store.RemindersStore, sender EmailSender, logger *utils.Logger) *ReminderScheduler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ReminderScheduler{cfg: cfg, catalog: catalog, incidents: incidents, reminders: reminders, sender: sender, logger: logger}
}

func (s *ReminderScheduler) StartWithContext(ctx context.Context) error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	spec := s.cfg.Spec
	if spec == "" {
		spec = "@every 15m"
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(runCtx, time.Now().UTC()); err != nil {
			s.logger.Errorf("REMINDERS run failed: %v", err)
		}
	}); err != nil {
		cancel()
		return err
	}
	c.Start()
	s.cron, s.cancel, s.running = c, cancel, true
	s.logger.Printf("REMINDERS scheduler started (%s)", spec)
	return nil
}

func (s *ReminderScheduler) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c, cancel, wasRunning := s.cron, s.cancel, s.running
	s.cron, s.cancel, s.running = nil, nil, false
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sends every reminder that is due at now and was not sent yet. It
// returns the number of reminders sent.
func (s *ReminderScheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	reminders, err := s.catalog.ListReminders(ctx)
	if err != nil || len(reminders) == 0 {
		return 0, err
	}
	byBundle := map[int64][]store.WorkflowReminder{}
	for _, r := range reminders {
		byBundle[r.SectorRegulationID] = append(byBundle[r.SectorRegulationID], r)
	}
	open, err := s.incidents.ListOpenIncidents(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	workflows := map[int64][]store.SectorRegulationWorkflow{}
	for i := range open {
		inc := &open[i]
		for _, r := range byBundle[inc.SectorRegulationID] {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			items, ok := workflows[inc.SectorRegulationID]
			if !ok {
				if items, err = s.catalog.ListBundleWorkflows(ctx, inc.SectorRegulationID); err != nil {
					return sent, err
				}
				workflows[inc.SectorRegulationID] = items
			}
			due, err := s.dueAt(ctx, inc, r, items)
			if err != nil {
				return sent, err
			}
			if due == nil || now.Before(*due) {
				continue
			}
			claimed, err := s.reminders.MarkReminderSent(ctx, inc.ID, r.ID, now)
			if err != nil {
				return sent, err
			}
			if !claimed {
				continue
			}
			s.logger.Printf("REMINDERS %q due %s for %s", r.Headline, due.Format(time.RFC3339), inc.IncidentID)
			s.sender.SendEmail(ctx, r.EmailID, inc)
			sent++
		}
	}
	return sent, nil
}

// dueAt computes when a reminder fires. It returns nil when the reminder does
// not apply: the reminded workflow is already done, or its trigger has not
// happened.
func (s *ReminderScheduler) dueAt(ctx context.Context, inc *store.Incident, r store.WorkflowReminder, items []store.SectorRegulationWorkflow) (*time.Time, error) {
	done, err := s.reminders.LastWorkflowCompletion(ctx, inc.ID, r.WorkflowID)
	if err != nil || done != nil {
		return nil, err
	}
	var base *time.Time
	switch r.TriggerEvent {
	case store.TriggerNotificationDate:
		at := inc.NotificationDate
		base = &at
	case store.TriggerDetectionDate:
		base = inc.DetectionDate
	case store.TriggerPreviousWorkflow:
		prev := previousWorkflow(items, r.SectorRegulationWorkflowID)
		if prev == nil {
			at := inc.NotificationDate
			base = &at
			break
		}
		if base, err = s.reminders.LastWorkflowCompletion(ctx, inc.ID, prev.WorkflowID); err != nil {
			return nil, err
		}
	}
	if base == nil {
		return nil, nil
	}
	due := base.Add(time.Duration(r.DelayInHours) * time.Hour)
	return &due, nil
}

// previousWorkflow is the bundle workflow placed right before the given one.
func previousWorkflow(items []store.SectorRegulationWorkflow, itemID int64) *store.SectorRegulationWorkflow {
	for i := range items {
		if items[i].ID == itemID {
			for j := i - 1; j >= 0; j-- {
				if items[j].Position < items[i].Position {
					return &items[j]
				}
			}
			return nil
		}
	}
	return nil
}
