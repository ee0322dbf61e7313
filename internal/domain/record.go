package domain

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

func init() {
	// Clients send and expect plain JSON numbers for money.
	decimal.MarshalJSONWithoutQuotes = true
}

// Extra holds fields a client stored on a record that the server does not model.
// They are re-emitted verbatim so a read/modify/write cycle never drops them.
type Extra map[string]json.RawMessage

var knownKeyCache sync.Map

func knownKeys(t reflect.Type) map[string]struct{} {
	if cached, ok := knownKeyCache.Load(t); ok {
		return cached.(map[string]struct{})
	}
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" || !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		keys[name] = struct{}{}
	}
	knownKeyCache.Store(t, keys)
	return keys
}

// opaque carries a stored record that could not be decoded, so rewriting its
// collection leaves the record as it was.
type opaque struct {
	raw json.RawMessage
}

func (o *opaque) KeepRaw(raw json.RawMessage) {
	o.raw = append(json.RawMessage(nil), raw...)
}

// IsOpaque reports whether the record is an undecoded stored value.
func (o opaque) IsOpaque() bool {
	return o.raw != nil
}

// decodeRecord fills dst from data and returns every top-level key dst does not declare.
func decodeRecord[P any](data []byte, dst *P) (Extra, error) {
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	known := knownKeys(reflect.TypeOf(*dst))
	for key := range all {
		if _, ok := known[key]; ok {
			delete(all, key)
		}
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func encodeRecord(known any, extra Extra) ([]byte, error) {
	body, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return body, err
	}
	merged := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// MergePatch overlays the top-level keys of patch onto rec and decodes the result
// back into a record of the same type.
func MergePatch[T any](rec T, patch map[string]json.RawMessage) (T, error) {
	var zero T
	body, err := json.Marshal(rec)
	if err != nil {
		return zero, err
	}
	fields := make(map[string]json.RawMessage, len(patch)+8)
	if err := json.Unmarshal(body, &fields); err != nil {
		return zero, err
	}
	for key, value := range patch {
		fields[key] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// Ref is a record identifier. Legacy data stores some ids as numbers.
type Ref string

func (r *Ref) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "" || raw == "null":
		*r = ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(s)
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		*r = Ref(raw)
	default:
		*r = ""
	}
	return nil
}

func (r Ref) String() string {
	return string(r)
}

// Key is the trimmed form used for id comparisons.
func (r Ref) Key() string {
	return strings.TrimSpace(string(r))
}

func (r Ref) IsZero() bool {
	return r.Key() == ""
}

// Quantity is an integer count. Numeric strings are accepted and truncated the
// way the web client's parseInt does.
type Quantity int

func (q *Quantity) UnmarshalJSON(data []byte) error {
	*q = Quantity(lenientInt(data))
	return nil
}

func (q Quantity) Int() int {
	return int(q)
}

// Millis is a Unix millisecond timestamp used as an ordering id.
type Millis int64

func (m *Millis) UnmarshalJSON(data []byte) error {
	*m = Millis(lenientInt(data))
	return nil
}

func (m Millis) String() string {
	return strconv.FormatInt(int64(m), 10)
}

func lenientInt(data []byte) int64 {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return 0
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0
		}
		raw = strings.TrimSpace(s)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f)
	}
	end := 0
	for end < len(raw) && (raw[end] >= '0' && raw[end] <= '9' || (end == 0 && raw[end] == '-')) {
		end++
	}
	n, _ := strconv.ParseInt(raw[:end], 10, 64)
	return n
}

// Money is an optional amount. Empty strings, non-numeric text and null decode
// as absent instead of failing the whole record.
type Money decimal.NullDecimal

func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d, Valid: true}
}

func (m *Money) UnmarshalJSON(data []byte) error {
	*m = Money{}
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	*m = NewMoney(d)
	return nil
}

func (m Money) MarshalJSON() ([]byte, error) {
	return decimal.NullDecimal(m).MarshalJSON()
}

// lenientBool reads booleans the web client stored as strings or numbers.
func lenientBool(raw json.RawMessage) bool {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(raw)), `"`)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// coerceFlags rewrites the named top-level keys to real booleans when a client
// stored them in another shape. data is returned unchanged when nothing needs it.
func coerceFlags(data []byte, keys ...string) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	changed := false
	for _, key := range keys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if v := strings.TrimSpace(string(value)); v == "true" || v == "false" {
			continue
		}
		fields[key] = json.RawMessage(strconv.FormatBool(lenientBool(value)))
		changed = true
	}
	if !changed {
		return data
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return data
	}
	return out
}

// NormalizeName is the comparison key for name-based lookups.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
