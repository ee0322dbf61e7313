package service

import (
	"context"
	"strings"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/xid"
)

// timestampLayout matches what browsers produce for Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *Service) newNotification(kind string, message string) domain.Notification {
	now := s.now()
	return domain.Notification{
		ID:      domain.Millis(xid.Millis(now)),
		Type:    kind,
		Message: message,
		Date:    now.UTC().Format(timestampLayout),
	}
}

// unshift puts n at the head of the log, newest first.
func unshift(log []domain.Notification, n domain.Notification) []domain.Notification {
	out := make([]domain.Notification, 0, len(log)+1)
	out = append(out, n)
	return append(out, log...)
}

func (s *Service) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	list, _, err := store.LoadList[domain.Notification](ctx, s.records, store.Notifications)
	return list, err
}

// AddNotification stores a client-supplied notification with a fresh id.
func (s *Service) AddNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if strings.TrimSpace(n.Type) == "" && strings.TrimSpace(n.Message) == "" {
		return domain.Notification{}, validation("notification needs a type or message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, rev, err := store.LoadList[domain.Notification](ctx, s.records, store.Notifications)
	if err != nil {
		return domain.Notification{}, err
	}
	n.ID = domain.Millis(xid.Millis(s.now()))
	if n.Date == "" {
		n.Date = s.timestamp()
	}
	if _, err := store.SaveList(ctx, s.records, store.Notifications, unshift(list, n), rev); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// DeleteNotification removes every notification with the given id. Deleting an
// unknown id is not an error.
func (s *Service) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, rev, err := store.LoadList[domain.Notification](ctx, s.records, store.Notifications)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, n := range list {
		if n.ID.String() != strings.TrimSpace(id) {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	_, err = store.SaveList(ctx, s.records, store.Notifications, kept, rev)
	return err
}

func (s *Service) ClearNotifications(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := store.SaveList(ctx, s.records, store.Notifications, []domain.Notification{}, store.AnyRevision)
	return err
}
