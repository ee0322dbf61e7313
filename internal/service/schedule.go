package service

import (
	"context"
	"fmt"
	"strings"

	"stockroom/backend/internal/alert"
	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
)

const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

var defaultSchedule = domain.EmailSchedule{Frequency: domain.FrequencyDaily}

func (s *Service) GetSchedule(ctx context.Context) (domain.EmailSchedule, error) {
	sched, _, err := store.LoadObject(ctx, s.records, store.EmailSchedule, defaultSchedule)
	return sched, err
}

func (s *Service) UpdateSchedule(ctx context.Context, update domain.EmailScheduleUpdate) (domain.EmailSchedule, error) {
	if update.Frequency != nil {
		switch *update.Frequency {
		case domain.FrequencyDaily, domain.FrequencyEvery3Days, domain.FrequencyWeekly:
		default:
			return domain.EmailSchedule{}, validation("unknown frequency %q", *update.Frequency)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, rev, err := store.LoadObject(ctx, s.records, store.EmailSchedule, defaultSchedule)
	if err != nil {
		return domain.EmailSchedule{}, err
	}
	if update.Frequency != nil {
		sched.Frequency = *update.Frequency
	}
	if update.Enabled != nil {
		sched.Enabled = *update.Enabled
	}
	if update.Email != nil {
		sched.Email = strings.TrimSpace(*update.Email)
	}
	now := s.now().UTC()
	sched.LastUpdated = &now
	if _, err := store.SaveObject(ctx, s.records, store.EmailSchedule, sched, rev); err != nil {
		return domain.EmailSchedule{}, err
	}
	return sched, nil
}

// SendNow sends the low-stock alert and restock report immediately.
func (s *Service) SendNow(ctx context.Context) (domain.SendReport, error) {
	return s.SendReport(ctx, TriggerManual)
}

// SendReport sends the low-stock alert (when any sold item is low) and the
// restock report, then stamps lastSent and appends to the schedule log.
func (s *Service) SendReport(ctx context.Context, trigger string) (domain.SendReport, error) {
	stock, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return domain.SendReport{}, err
	}
	sales, _, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return domain.SendReport{}, err
	}

	ctx = s.withAlertRecipient(ctx)
	now := s.now()
	low := lowStockItems(stock)
	if len(low) > 0 {
		if err := s.alerter.SendLowStockAlert(ctx, low); err != nil {
			s.metrics.IncAlert("failed")
			return domain.SendReport{}, fmt.Errorf("%w: low stock alert: %w", alert.ErrDispatch, err)
		}
		s.metrics.IncAlert("sent")
	}
	if err := s.alerter.SendRestockRecommendations(ctx, stock, sales); err != nil {
		s.metrics.IncAlert("failed")
		return domain.SendReport{}, fmt.Errorf("%w: restock report: %w", alert.ErrDispatch, err)
	}
	s.metrics.IncAlert("sent")
	recs := s.restock.Recommend(ctx, stock, sales, now)

	report := domain.SendReport{
		LowStockAlerts:         len(low),
		RestockRecommendations: len(recs.Recommendations),
		Timestamp:              now.UTC().Format(timestampLayout),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, schedRev, err := store.LoadObject(ctx, s.records, store.EmailSchedule, defaultSchedule)
	if err != nil {
		return report, err
	}
	stamp := now.UTC()
	sched.LastSent = &stamp
	logEntries, logRev, err := store.LoadList[domain.ScheduleLogEntry](ctx, s.records, store.EmailScheduleLog)
	if err != nil {
		return report, err
	}
	logEntries = append(logEntries, domain.ScheduleLogEntry{
		Kind:          trigger,
		Timestamp:     stamp,
		LowStockItems: report.LowStockAlerts,
		Restock:       report.RestockRecommendations,
	})

	schedWrite, err := store.Encode(store.EmailSchedule, sched, schedRev)
	if err != nil {
		return report, err
	}
	logWrite, err := store.Encode(store.EmailScheduleLog, logEntries, logRev)
	if err != nil {
		return report, err
	}
	if err := s.records.Commit(ctx, schedWrite, logWrite); err != nil {
		return report, err
	}
	s.log.Infow("alert report sent", "trigger", trigger, "lowStock", report.LowStockAlerts, "restock", report.RestockRecommendations)
	return report, nil
}

func (s *Service) RestockRecommendations(ctx context.Context) (domain.RestockReport, error) {
	stock, _, err := store.LoadList[domain.StockItem](ctx, s.records, store.Stock)
	if err != nil {
		return domain.RestockReport{}, err
	}
	sales, _, err := store.LoadList[domain.Sale](ctx, s.records, store.Sales)
	if err != nil {
		return domain.RestockReport{}, err
	}
	return s.restock.Recommend(ctx, stock, sales, s.now()), nil
}

// withAlertRecipient tags ctx with the address saved on the email schedule.
func (s *Service) withAlertRecipient(ctx context.Context) context.Context {
	sched, _, err := store.LoadObject(ctx, s.records, store.EmailSchedule, defaultSchedule)
	if err != nil || sched.Email == "" {
		return ctx
	}
	return alert.WithRecipient(ctx, sched.Email)
}
