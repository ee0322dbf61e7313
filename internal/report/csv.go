// Package report renders aggregated sales for export.
package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"stockroom/backend/internal/domain"
)

var header = []string{"item_id", "item_name", "total_quantity", "total_amount"}

// WriteAggregateCSV writes one row per aggregated item, amounts fixed to two
// decimals.
func WriteAggregateCSV(w io.Writer, rows []domain.AggregateRow) error {
	out := csv.NewWriter(w)
	if err := out.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.ItemID.String(),
			row.ItemName,
			strconv.Itoa(row.TotalQuantity),
			row.TotalAmount.StringFixed(2),
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
