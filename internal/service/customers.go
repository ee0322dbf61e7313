package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/store"
)

const customerSearchLimit = 50

type customerSources struct {
	sales    []domain.Sale
	credits  []domain.CreditSale
	receipts []domain.CustomerReceipt
}

// loadCustomerSources reads the three source collections in parallel. A source
// that cannot be read is logged and treated as empty.
func (s *Service) loadCustomerSources(ctx context.Context) (customerSources, error) {
	var src customerSources
	g, gctx := errgroup.WithContext(ctx)
	load := func(name store.Collection, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				s.log.Warnw("customer source unavailable, skipping", "collection", name, "error", err)
			}
			return nil
		})
	}
	load(store.Sales, func(ctx context.Context) (err error) {
		src.sales, _, err = store.LoadList[domain.Sale](ctx, s.records, store.Sales)
		return err
	})
	load(store.CreditSales, func(ctx context.Context) (err error) {
		src.credits, _, err = store.LoadList[domain.CreditSale](ctx, s.records, store.CreditSales)
		return err
	})
	load(store.CustomerReceipts, func(ctx context.Context) (err error) {
		src.receipts, _, err = store.LoadList[domain.CustomerReceipt](ctx, s.records, store.CustomerReceipts)
		return err
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return customerSources{}, err
	}
	return src, nil
}

// ScanCustomers builds the customer directory from sales, credit sales and
// receipts. The last non-empty phone number seen for a name wins.
func (s *Service) ScanCustomers(ctx context.Context) (domain.CustomerDirectory, error) {
	src, err := s.loadCustomerSources(ctx)
	if err != nil {
		return domain.CustomerDirectory{}, err
	}

	byKey := make(map[string]*domain.Customer)
	add := func(name string, phone string) {
		name = strings.TrimSpace(name)
		if name == "" || name == domain.CustomerPlaceholder {
			return
		}
		key := strings.ToLower(name)
		c, ok := byKey[key]
		if !ok {
			c = &domain.Customer{Name: name}
			byKey[key] = c
		}
		if phone = strings.TrimSpace(phone); phone != "" {
			c.Phone = phone
		}
	}
	for _, sale := range src.sales {
		add(sale.CustomerName, sale.CustomerPhoneNumber)
		if hb := sale.HybridBreakdown; hb != nil {
			add(hb.CustomerName, hb.CustomerPhoneNumber)
		}
	}
	for _, credit := range src.credits {
		add(credit.CustomerName, credit.CustomerPhoneNumber)
	}
	for _, receipt := range src.receipts {
		add(receipt.CustomerName, receipt.CustomerPhoneNumber)
	}

	customers := make([]domain.Customer, 0, len(byKey))
	for _, c := range byKey {
		customers = append(customers, *c)
	}
	sort.Slice(customers, func(i, j int) bool {
		return strings.ToLower(customers[i].Name) < strings.ToLower(customers[j].Name)
	})
	return domain.CustomerDirectory{Count: len(customers), Customers: customers}, nil
}

func (s *Service) SearchCustomers(ctx context.Context, query string) (domain.CustomerDirectory, error) {
	dir, err := s.ScanCustomers(ctx)
	if err != nil {
		return domain.CustomerDirectory{}, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return domain.CustomerDirectory{Count: 0, Customers: []domain.Customer{}}, nil
	}
	matches := make([]domain.Customer, 0)
	for _, c := range dir.Customers {
		if strings.Contains(strings.ToLower(c.Name), q) || (c.Phone != "" && strings.Contains(c.Phone, q)) {
			matches = append(matches, c)
			if len(matches) == customerSearchLimit {
				break
			}
		}
	}
	return domain.CustomerDirectory{Count: len(matches), Customers: matches}, nil
}

// CustomerTransactions lists every sale, credit sale and receipt for an exact
// customer name, newest first.
func (s *Service) CustomerTransactions(ctx context.Context, name string) (domain.CustomerTransactions, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.CustomerTransactions{}, validation("customer name is required")
	}
	src, err := s.loadCustomerSources(ctx)
	if err != nil {
		return domain.CustomerTransactions{}, err
	}

	txs := make([]domain.CustomerTransaction, 0)
	summary := domain.CustomerSummary{TotalAmount: decimal.Zero}

	for _, sale := range src.sales {
		hybridName := ""
		if sale.HybridBreakdown != nil {
			hybridName = strings.TrimSpace(sale.HybridBreakdown.CustomerName)
		}
		if strings.TrimSpace(sale.CustomerName) != name && hybridName != name {
			continue
		}
		total := firstValid(sale.OriginalTotal, sale.Price)
		txs = append(txs, domain.CustomerTransaction{
			Type:        "sale",
			ID:          sale.ID.String(),
			Date:        firstNonEmpty(sale.DateSold, sale.Timestamp),
			ProductName: sale.ProductName,
			Quantity:    sale.Quantity.Int(),
			Total:       total,
			PaymentType: sale.PaymentType,
			Status:      "completed",
			Data:        sale,
		})
		summary.TotalSales++
		summary.TotalAmount = summary.TotalAmount.Add(total)
	}

	for _, credit := range src.credits {
		if strings.TrimSpace(credit.CustomerName) != name {
			continue
		}
		total := firstValid(credit.OriginalTotal, credit.Price)
		status := credit.Status
		if status == "" {
			status = "pending"
		}
		txs = append(txs, domain.CustomerTransaction{
			Type:        "credit",
			ID:          credit.ID.String(),
			Date:        firstNonEmpty(credit.DateSold, credit.Timestamp),
			ProductName: credit.ProductName,
			Quantity:    credit.Quantity.Int(),
			Total:       total,
			PaymentType: credit.PaymentType,
			Status:      status,
			BalanceDue:  credit.CreditBalance,
			Data:        credit,
		})
		summary.TotalCredits++
		summary.TotalAmount = summary.TotalAmount.Add(total)
	}

	for _, receipt := range src.receipts {
		if strings.TrimSpace(receipt.CustomerName) != name {
			continue
		}
		total := firstValid(receipt.Total)
		paymentType := receipt.PaymentType
		if paymentType == "" {
			paymentType = "Unknown"
		}
		txs = append(txs, domain.CustomerTransaction{
			Type:        "receipt",
			ID:          receipt.ReceiptID.String(),
			Date:        firstNonEmpty(receipt.Date, receipt.CreatedAt),
			ProductName: receiptLabel(receipt.Items),
			Quantity:    len(receipt.Items),
			Total:       total,
			PaymentType: paymentType,
			Status:      "completed",
			Data:        receipt,
		})
		summary.TotalReceipts++
		summary.TotalAmount = summary.TotalAmount.Add(total)
	}

	sort.SliceStable(txs, func(i, j int) bool {
		return transactionTime(txs[i].Date).After(transactionTime(txs[j].Date))
	})

	return domain.CustomerTransactions{
		CustomerName:     name,
		TransactionCount: len(txs),
		Transactions:     txs,
		Summary:          summary,
	}, nil
}

func receiptLabel(items []domain.ReceiptItem) string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		if n := strings.TrimSpace(item.Name); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "Multiple Items"
	}
	return strings.Join(names, ", ")
}

func transactionTime(raw string) time.Time {
	if t, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(raw), time.Local); err == nil {
		return t
	}
	t, _ := domain.ParseTimestamp(raw)
	return t
}

func firstValid(values ...domain.Money) decimal.Decimal {
	for _, v := range values {
		if v.Valid {
			return v.Decimal
		}
	}
	return decimal.Zero
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
