package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStockItemKeepsUnknownFields(t *testing.T) {
	var item StockItem
	require.NoError(t, json.Unmarshal([]byte(`{"id":"A1","name":"Rice","quantity":3,"supplier":"Acme","shelf":{"row":2}}`), &item))
	assert.Equal(t, "Rice", item.Name)
	require.Len(t, item.Extra, 2)

	body, err := json.Marshal(item)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "Acme", out["supplier"])
	assert.Equal(t, map[string]any{"row": float64(2)}, out["shelf"])
	assert.EqualValues(t, 3, out["quantity"])
}

func TestKnownFieldsWinOverExtras(t *testing.T) {
	item := StockItem{Name: "Rice", Extra: Extra{"name": json.RawMessage(`"stale"`)}}
	body, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"name":"Rice"`)
	assert.NotContains(t, string(body), "stale")
}

func TestLenientQuantity(t *testing.T) {
	cases := map[string]int{
		`12`:      12,
		`"12"`:    12,
		`" 7 "`:   7,
		`3.9`:     3,
		`"4abc"`:  4,
		`"-2"`:    -2,
		`null`:    0,
		`"bogus"`: 0,
		`true`:    0,
	}
	for raw, want := range cases {
		var q Quantity
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if q.Int() != want {
			t.Fatalf("Quantity(%s) = %d, want %d", raw, q.Int(), want)
		}
	}
}

func TestRefAcceptsNumbersAndStrings(t *testing.T) {
	var doc struct {
		A Ref `json:"a"`
		B Ref `json:"b"`
		C Ref `json:"c"`
		D Ref `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"X1","b":1700000000000,"c":null,"d":{"x":1}}`), &doc))
	assert.Equal(t, Ref("X1"), doc.A)
	assert.Equal(t, Ref("1700000000000"), doc.B)
	assert.True(t, doc.C.IsZero())
	assert.True(t, doc.D.IsZero())
	assert.True(t, Ref("   ").IsZero())
	assert.Equal(t, "X1", Ref(" X1 ").Key())
}

func TestMergePatchOverridesOnlySuppliedKeys(t *testing.T) {
	base := StockItem{ID: "A1", Name: "Rice", Quantity: 5, HasBeenSold: true, Extra: Extra{"supplier": json.RawMessage(`"Acme"`)}}
	merged, err := MergePatch(base, map[string]json.RawMessage{
		"quantity": json.RawMessage(`"40"`),
		"price":    json.RawMessage(`1250.5`),
	})
	require.NoError(t, err)

	assert.Equal(t, Ref("A1"), merged.ID)
	assert.Equal(t, 40, merged.Quantity.Int())
	assert.True(t, merged.HasBeenSold)
	assert.True(t, merged.Price.Valid)
	assert.True(t, decimal.RequireFromString("1250.5").Equal(merged.Price.Decimal))
	assert.JSONEq(t, `"Acme"`, string(merged.Extra["supplier"]))
}

func TestMergePatchPreservesExtrasProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringMatching(`x[a-z]{1,8}`).Draw(t, "key")
		value := rapid.IntRange(-1000, 1000).Draw(t, "value")
		qty := rapid.IntRange(0, 500).Draw(t, "qty")

		raw, _ := json.Marshal(value)
		base := StockItem{Name: "Item", Extra: Extra{key: raw}}
		merged, err := MergePatch(base, map[string]json.RawMessage{"quantity": json.RawMessage(mustJSON(qty))})
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		if merged.Quantity.Int() != qty {
			t.Fatalf("quantity %d, want %d", merged.Quantity.Int(), qty)
		}
		if string(merged.Extra[key]) != string(raw) {
			t.Fatalf("extra %s = %s, want %s", key, merged.Extra[key], raw)
		}
	})
}

func mustJSON(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return body
}

func TestParseLegacyDate(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"09/03/2026 08:15:00", "2026-03-09", true},
		{" 31/12/2025", "2025-12-31", true},
		{"2026-03-09", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseLegacyDate(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLegacyDate(%q) = %q/%v, want %q/%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSaleCreditPaymentDetection(t *testing.T) {
	assert.True(t, Sale{Type: SaleTypeCreditPayment}.IsCreditPayment())
	assert.True(t, Sale{PaymentType: "Credit Payment (Mobile Money)"}.IsCreditPayment())
	assert.False(t, Sale{Type: SaleTypeProduct, PaymentType: "Cash"}.IsCreditPayment())
}

func TestMoneyIsLenient(t *testing.T) {
	cases := []struct {
		raw   string
		valid bool
		want  string
	}{
		{`1250.5`, true, "1250.5"},
		{`"800"`, true, "800"},
		{`" 12.75 "`, true, "12.75"},
		{`""`, false, ""},
		{`"abc"`, false, ""},
		{`null`, false, ""},
		{`true`, false, ""},
	}
	for _, tc := range cases {
		var m Money
		if err := json.Unmarshal([]byte(tc.raw), &m); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if m.Valid != tc.valid {
			t.Fatalf("Money(%s).Valid = %v, want %v", tc.raw, m.Valid, tc.valid)
		}
		if tc.valid && !m.Decimal.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("Money(%s) = %s, want %s", tc.raw, m.Decimal, tc.want)
		}
	}
}

func TestSaleWithLegacyMoneyDecodes(t *testing.T) {
	var sale Sale
	require.NoError(t, json.Unmarshal([]byte(`{"productName":"Rice","quantity":1,"price":"","totalAmount":"1500"}`), &sale))
	assert.False(t, sale.Price.Valid)
	assert.True(t, decimal.NewFromInt(1500).Equal(sale.PaidAmount()))

	body, err := json.Marshal(sale)
	require.NoError(t, err)
	assert.JSONEq(t, `{"productName":"Rice","quantity":1,"totalAmount":1500}`, string(body))
}

func TestHasBeenSoldAcceptsLegacyShapes(t *testing.T) {
	cases := map[string]bool{`true`: true, `"true"`: true, `1`: true, `"yes"`: true, `"false"`: false, `0`: false, `null`: false}
	for raw, want := range cases {
		var item StockItem
		if err := json.Unmarshal([]byte(`{"name":"Rice","hasBeenSold":`+raw+`}`), &item); err != nil {
			t.Fatalf("unmarshal hasBeenSold=%s: %v", raw, err)
		}
		if item.HasBeenSold != want {
			t.Fatalf("hasBeenSold=%s decoded as %v, want %v", raw, item.HasBeenSold, want)
		}
		if _, ok := item.Extra["hasBeenSold"]; ok {
			t.Fatalf("hasBeenSold=%s leaked into extras", raw)
		}
	}
}

func TestOpaqueRecordMarshalsAsStored(t *testing.T) {
	var item StockItem
	item.KeepRaw(json.RawMessage(`[1,2,3]`))
	assert.True(t, item.IsOpaque())

	body, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(body))
}
