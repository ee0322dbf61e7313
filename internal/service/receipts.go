package service

import (
	"context"
	"encoding/json"
	"strings"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/xid"
)

func (s *Service) ListReceipts(ctx context.Context) ([]domain.CustomerReceipt, error) {
	list, _, err := store.LoadList[domain.CustomerReceipt](ctx, s.records, store.CustomerReceipts)
	return list, err
}

func (s *Service) GetReceipt(ctx context.Context, id string) (domain.CustomerReceipt, error) {
	list, err := s.ListReceipts(ctx)
	if err != nil {
		return domain.CustomerReceipt{}, err
	}
	if i := findReceipt(list, id); i >= 0 {
		return list[i], nil
	}
	return domain.CustomerReceipt{}, notFound("receipt %q", id)
}

// CreateReceipt stores a new receipt. A receipt without an id gets a time-ordered UUID.
func (s *Service) CreateReceipt(ctx context.Context, receipt domain.CustomerReceipt) (domain.CustomerReceipt, error) {
	if receipt.ReceiptID.IsZero() {
		receipt.ReceiptID = domain.Ref(xid.Session())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, rev, err := store.LoadList[domain.CustomerReceipt](ctx, s.records, store.CustomerReceipts)
	if err != nil {
		return domain.CustomerReceipt{}, err
	}
	if findReceipt(list, receipt.ReceiptID.String()) >= 0 {
		return domain.CustomerReceipt{}, validation("receipt %q already exists", receipt.ReceiptID.String())
	}
	now := s.timestamp()
	if receipt.CreatedAt == "" {
		receipt.CreatedAt = now
	}
	receipt.UpdatedAt = now
	if _, err := store.SaveList(ctx, s.records, store.CustomerReceipts, append(list, receipt), rev); err != nil {
		return domain.CustomerReceipt{}, err
	}
	return receipt, nil
}

func (s *Service) PatchReceipt(ctx context.Context, id string, patch map[string]json.RawMessage) (domain.CustomerReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, rev, err := store.LoadList[domain.CustomerReceipt](ctx, s.records, store.CustomerReceipts)
	if err != nil {
		return domain.CustomerReceipt{}, err
	}
	i := findReceipt(list, id)
	if i < 0 {
		return domain.CustomerReceipt{}, notFound("receipt %q", id)
	}
	merged, err := domain.MergePatch(list[i], patch)
	if err != nil {
		return domain.CustomerReceipt{}, validation("receipt: %v", err)
	}
	merged.ReceiptID = list[i].ReceiptID
	merged.UpdatedAt = s.timestamp()
	list[i] = merged
	if _, err := store.SaveList(ctx, s.records, store.CustomerReceipts, list, rev); err != nil {
		return domain.CustomerReceipt{}, err
	}
	return merged, nil
}

func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, rev, err := store.LoadList[domain.CustomerReceipt](ctx, s.records, store.CustomerReceipts)
	if err != nil {
		return err
	}
	i := findReceipt(list, id)
	if i < 0 {
		return notFound("receipt %q", id)
	}
	list = append(list[:i], list[i+1:]...)
	_, err = store.SaveList(ctx, s.records, store.CustomerReceipts, list, rev)
	return err
}

func findReceipt(list []domain.CustomerReceipt, id string) int {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1
	}
	for i, r := range list {
		if r.ReceiptID.Key() == id {
			return i
		}
	}
	return -1
}
