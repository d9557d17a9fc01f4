package core

import (
	"bytes"
	"encoding/json"
	"math"
)

// EntryKind is the schema a stored record was written in.
type EntryKind int

const (
	KindUnknown EntryKind = iota
	KindCurrent
	KindLegacy
	KindFlat
)

func (k EntryKind) String() string {
	switch k {
	case KindCurrent:
		return "current"
	case KindLegacy:
		return "legacy"
	case KindFlat:
		return "flat"
	}
	return "unknown"
}

const legacyFlag = "isExpress"

// StoredEntry holds a daily record exactly as persisted. The shape is only
// interpreted on read, so writing it back never alters it.
type StoredEntry struct {
	raw json.RawMessage
}

// RawEntry wraps already-encoded JSON.
func RawEntry(b []byte) StoredEntry {
	return StoredEntry{raw: append(json.RawMessage(nil), b...)}
}

// Raw returns the stored bytes.
func (s StoredEntry) Raw() json.RawMessage {
	return s.raw
}

func (s StoredEntry) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.raw, nil
}

func (s *StoredEntry) UnmarshalJSON(b []byte) error {
	s.raw = append(s.raw[:0:0], b...)
	return nil
}

// Kind detects the schema structurally: a boolean isExpress marks the legacy
// shape, all four category keys mark the current one, scalar totals mark the
// flat one.
func (s StoredEntry) Kind() EntryKind {
	fields, err := s.fields()
	if err != nil {
		return KindUnknown
	}
	if _, ok := parseBool(fields[legacyFlag]); ok {
		return KindLegacy
	}
	if hasCategories(fields) {
		return KindCurrent
	}
	_, hasDeliveries := fields["deliveries"]
	_, hasEarnings := fields["earnings"]
	if hasDeliveries || hasEarnings {
		return KindFlat
	}
	return KindUnknown
}

// Flat decodes the record as scalar totals. Missing fields read as zero.
func (s StoredEntry) Flat() (FlatEntry, bool) {
	if s.Kind() != KindFlat {
		return FlatEntry{}, false
	}
	var f FlatEntry
	if err := json.Unmarshal(s.raw, &f); err != nil {
		return FlatEntry{}, false
	}
	return f, true
}

func (s StoredEntry) fields() (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(s.raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, malformed("null record")
	}
	return fields, nil
}

// Normalize upgrades a stored record to the current schema. Current records
// come back unchanged; legacy ones put each category's whole count in the
// tier named by the day-wide flag.
func Normalize(s StoredEntry) (DailyEntry, error) {
	fields, err := s.fields()
	if err != nil {
		return DailyEntry{}, malformed("not an object: %v", err)
	}
	if express, ok := parseBool(fields[legacyFlag]); ok {
		return normalizeLegacy(fields, express)
	}
	return normalizeCurrent(fields)
}

func normalizeLegacy(fields map[string]json.RawMessage, express bool) (DailyEntry, error) {
	var e DailyEntry
	for _, c := range Categories {
		raw, ok := fields[string(c)]
		if !ok {
			return DailyEntry{}, malformed("legacy record missing %q", c)
		}
		n, err := parseCount(raw)
		if err != nil {
			return DailyEntry{}, malformed("legacy %s: %v", c, err)
		}
		if express {
			e.SetCount(c, DeliveryCount{Express: n})
		} else {
			e.SetCount(c, DeliveryCount{Normal: n})
		}
	}
	return e, nil
}

func normalizeCurrent(fields map[string]json.RawMessage) (DailyEntry, error) {
	var e DailyEntry
	for _, c := range Categories {
		raw, ok := fields[string(c)]
		if !ok {
			return DailyEntry{}, malformed("record missing %q", c)
		}
		var tiers map[string]json.RawMessage
		if err := json.Unmarshal(raw, &tiers); err != nil || tiers == nil {
			return DailyEntry{}, malformed("%s is not a count object", c)
		}
		var d DeliveryCount
		for _, t := range []Tier{Normal, Express} {
			v, ok := tiers[string(t)]
			if !ok {
				continue
			}
			n, err := parseCount(v)
			if err != nil {
				return DailyEntry{}, malformed("%s.%s: %v", c, t, err)
			}
			if t == Express {
				d.Express = n
			} else {
				d.Normal = n
			}
		}
		e.SetCount(c, d)
	}
	return e, nil
}

func hasCategories(fields map[string]json.RawMessage) bool {
	for _, c := range Categories {
		if _, ok := fields[string(c)]; !ok {
			return false
		}
	}
	return true
}

func parseBool(raw json.RawMessage) (value, ok bool) {
	switch string(bytes.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parseCount(raw json.RawMessage) (int, error) {
	var f float64
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, malformed("null count")
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, malformed("count is not a number")
	}
	if f < 0 {
		return 0, ErrNegativeCount
	}
	if f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, malformed("count %v is not a whole number", f)
	}
	return int(f), nil
}
