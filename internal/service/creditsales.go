package service

import (
	"context"
	"encoding/json"
	"strings"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/fanout"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/xid"
)

func (s *Service) ListCreditSales(ctx context.Context) ([]domain.CreditSale, error) {
	list, _, err := store.LoadList[domain.CreditSale](ctx, s.records, store.CreditSales)
	return list, err
}

func (s *Service) CreateCreditSale(ctx context.Context, credit domain.CreditSale) (domain.CreditSale, error) {
	if strings.TrimSpace(credit.CustomerName) == "" {
		return domain.CreditSale{}, validation("credit sale needs a customer name")
	}
	if credit.ID.IsZero() {
		credit.ID = domain.Ref(xid.New("credit"))
	}

	s.mu.Lock()
	list, rev, err := store.LoadList[domain.CreditSale](ctx, s.records, store.CreditSales)
	if err == nil {
		_, err = store.SaveList(ctx, s.records, store.CreditSales, append(list, credit), rev)
	}
	s.mu.Unlock()
	if err != nil {
		return domain.CreditSale{}, err
	}

	s.broadcast(fanout.EventNewCreditSale, "creditSale", credit)
	return credit, nil
}

// PatchCreditSale overlays the supplied fields onto the credit sale with the
// given id. The id itself cannot change.
func (s *Service) PatchCreditSale(ctx context.Context, id string, patch map[string]json.RawMessage) (domain.CreditSale, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	list, rev, err := store.LoadList[domain.CreditSale](ctx, s.records, store.CreditSales)
	if err != nil {
		return domain.CreditSale{}, err
	}
	for i, credit := range list {
		if credit.ID.Key() != id {
			continue
		}
		merged, err := domain.MergePatch(credit, patch)
		if err != nil {
			return domain.CreditSale{}, validation("credit sale: %v", err)
		}
		merged.ID = credit.ID
		list[i] = merged
		if _, err := store.SaveList(ctx, s.records, store.CreditSales, list, rev); err != nil {
			return domain.CreditSale{}, err
		}
		return merged, nil
	}
	return domain.CreditSale{}, notFound("credit sale %q", id)
}
