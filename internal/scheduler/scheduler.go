// Package scheduler sends the periodic low-stock and restock report.
package scheduler

import (
	"context"
	"time"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/service"
)

const DefaultInterval = time.Hour

// Sender is the part of the service the scheduler drives.
type Sender interface {
	GetSchedule(ctx context.Context) (domain.EmailSchedule, error)
	SendReport(ctx context.Context, trigger string) (domain.SendReport, error)
}

type Scheduler struct {
	sender   Sender
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time
}

func New(sender Sender, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		sender:   sender,
		interval: interval,
		log:      logger.OrNop(log).WithComponent("scheduler"),
		now:      time.Now,
	}
}

// Run checks once right away and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick sends the report when the schedule is due. It reports whether a send
// happened.
func (s *Scheduler) Tick(ctx context.Context) bool {
	sched, err := s.sender.GetSchedule(ctx)
	if err != nil {
		s.log.Warnw("load email schedule", "error", err)
		return false
	}
	if !Due(sched, s.now()) {
		return false
	}
	report, err := s.sender.SendReport(ctx, service.TriggerScheduled)
	if err != nil {
		s.log.Warnw("scheduled report failed", "error", err)
		return false
	}
	s.log.Infow("scheduled report sent", "lowStock", report.LowStockAlerts, "restock", report.RestockRecommendations)
	return true
}

// Due reports whether an enabled schedule with an address has waited long
// enough since the last send.
func Due(sched domain.EmailSchedule, now time.Time) bool {
	if !sched.Enabled || sched.Email == "" {
		return false
	}
	if sched.LastSent == nil {
		return true
	}
	return now.Sub(*sched.LastSent) >= Period(sched.Frequency)
}

func Period(frequency string) time.Duration {
	switch frequency {
	case domain.FrequencyEvery3Days:
		return 72 * time.Hour
	case domain.FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
