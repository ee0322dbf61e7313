package domain

import (
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	// LegacyTimestampLayout is the locale timestamp older clients stored.
	LegacyTimestampLayout = "02/01/2006 15:04:05"
)

// ParseTimestamp accepts RFC3339 or the legacy DD/MM/YYYY HH:MM:SS form.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(LegacyTimestampLayout, raw, time.Local); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("02/01/2006", raw, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ParseLegacyDate converts a DD/MM/YYYY[ HH:MM:SS] timestamp to YYYY-MM-DD.
func ParseLegacyDate(raw string) (string, bool) {
	datePart, _, _ := strings.Cut(strings.TrimSpace(raw), " ")
	t, err := time.Parse("02/01/2006", datePart)
	if err != nil {
		return "", false
	}
	return t.Format(DateLayout), true
}

// SoldAt is the best known time of a sale: dateSold, else timestamp.
func (s Sale) SoldAt() (time.Time, bool) {
	if t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s.DateSold), time.Local); err == nil {
		return t, true
	}
	if t, ok := ParseTimestamp(s.DateSold); ok {
		return t, true
	}
	return ParseTimestamp(s.Timestamp)
}

// IsCreditPayment reports whether the sale settles a credit balance rather
// than moving stock.
func (s Sale) IsCreditPayment() bool {
	return s.Type == SaleTypeCreditPayment || strings.Contains(s.PaymentType, "Credit Payment")
}
