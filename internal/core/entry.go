package core

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

const (
	Flash     Category = "flash"
	Interlog  Category = "interlog"
	Ecommerce Category = "ecommerce"
	Loggi     Category = "loggi"

	Normal  Tier = "normal"
	Express Tier = "express"
)

// Categories lists every delivery partner in display order.
var Categories = []Category{Flash, Interlog, Ecommerce, Loggi}

type (
	// Category is a delivery-service partner. The set is closed.
	Category string

	// Tier is the delivery speed.
	Tier string

	DeliveryCount struct {
		Normal  int `json:"normal"`
		Express int `json:"express"`
	}

	// DailyEntry is one day of activity in the current schema.
	DailyEntry struct {
		Flash     DeliveryCount `json:"flash"`
		Interlog  DeliveryCount `json:"interlog"`
		Ecommerce DeliveryCount `json:"ecommerce"`
		Loggi     DeliveryCount `json:"loggi"`
	}

	// LegacyDailyEntry is the earlier schema: one count per category and a
	// single express flag for the whole day.
	LegacyDailyEntry struct {
		Flash     int  `json:"flash"`
		Interlog  int  `json:"interlog"`
		Ecommerce int  `json:"ecommerce"`
		Loggi     int  `json:"loggi"`
		IsExpress bool `json:"isExpress"`
	}

	// FlatEntry is the minimal variant that stored day totals as scalars.
	FlatEntry struct {
		Deliveries int     `json:"deliveries"`
		Earnings   float64 `json:"earnings"`
	}

	// MonthData maps day-of-month to whatever shape was stored for that day.
	MonthData map[int]StoredEntry

	// AllData maps month keys to their days.
	AllData map[string]MonthData
)

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	switch c {
	case Flash, Interlog, Ecommerce, Loggi:
		return true
	}
	return false
}

// Of returns the count of the given tier.
func (d DeliveryCount) Of(t Tier) int {
	if t == Express {
		return d.Express
	}
	return d.Normal
}

// Total returns normal plus express.
func (d DeliveryCount) Total() int {
	return d.Normal + d.Express
}

// Count returns the counts stored for a category.
func (e DailyEntry) Count(c Category) DeliveryCount {
	if p := e.slot(c); p != nil {
		return *p
	}
	return DeliveryCount{}
}

// SetCount replaces the counts of a category. Unknown categories are ignored.
func (e *DailyEntry) SetCount(c Category, d DeliveryCount) {
	if p := e.slot(c); p != nil {
		*p = d
	}
}

func (e *DailyEntry) slot(c Category) *DeliveryCount {
	switch c {
	case Flash:
		return &e.Flash
	case Interlog:
		return &e.Interlog
	case Ecommerce:
		return &e.Ecommerce
	case Loggi:
		return &e.Loggi
	}
	return nil
}

// Total returns the number of deliveries of the day across categories and tiers.
func (e DailyEntry) Total() int {
	n := 0
	for _, c := range Categories {
		n += e.Count(c).Total()
	}
	return n
}

// Validate rejects negative counts.
func (e DailyEntry) Validate() error {
	for _, c := range Categories {
		d := e.Count(c)
		if d.Normal < 0 || d.Express < 0 {
			return ErrNegativeCount
		}
	}
	return nil
}

// Stored wraps the entry in the current schema for persistence.
func (e DailyEntry) Stored() StoredEntry {
	b, _ := json.Marshal(e)
	return StoredEntry{raw: b}
}

// Stored wraps the legacy entry, mostly useful to build fixtures.
func (e LegacyDailyEntry) Stored() StoredEntry {
	b, _ := json.Marshal(e)
	return StoredEntry{raw: b}
}

// Stored wraps the flat entry.
func (e FlatEntry) Stored() StoredEntry {
	b, _ := json.Marshal(e)
	return StoredEntry{raw: b}
}

// Days returns the days present in the month in ascending order.
func (m MonthData) Days() []int {
	days := make([]int, 0, len(m))
	for d := range m {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// Put stores an entry at the date's month and day, creating the month if needed.
func (a AllData) Put(t time.Time, e DailyEntry) {
	key := MonthKey(t)
	month, ok := a[key]
	if !ok {
		month = MonthData{}
		a[key] = month
	}
	month[t.Day()] = e.Stored()
}

// Get returns the raw stored record of a date.
func (a AllData) Get(t time.Time) (StoredEntry, bool) {
	e, ok := a[MonthKey(t)][t.Day()]
	return e, ok
}

// Remove deletes the record of a date. A month left without days is removed
// entirely. It reports whether a record was deleted.
func (a AllData) Remove(t time.Time) bool {
	key := MonthKey(t)
	month, ok := a[key]
	if !ok {
		return false
	}
	if _, ok := month[t.Day()]; !ok {
		return false
	}
	delete(month, t.Day())
	if len(month) == 0 {
		delete(a, key)
	}
	return true
}

// InvalidDayKey is a stored key that does not name a day of month, or a month
// whose value is not an object of days (Key empty).
type InvalidDayKey struct {
	MonthKey string
	Key      string
}

func (k InvalidDayKey) String() string {
	if k.Key == "" {
		return ErrInvalidDay.Error() + ": month " + strconv.Quote(k.MonthKey) + " is not an object"
	}
	return ErrInvalidDay.Error() + " key " + strconv.Quote(k.Key)
}

// DecodeAllData decodes a stored delivery document. Keys that cannot be read
// are left out and returned apart so one bad key does not hide every other
// day. Only a document that is not a JSON object fails.
func DecodeAllData(b []byte) (AllData, []InvalidDayKey, error) {
	var months map[string]json.RawMessage
	if err := json.Unmarshal(b, &months); err != nil {
		return nil, nil, err
	}
	data := make(AllData, len(months))
	var invalid []InvalidDayKey
	for key, raw := range months {
		var days map[string]json.RawMessage
		if err := json.Unmarshal(raw, &days); err != nil || days == nil {
			invalid = append(invalid, InvalidDayKey{MonthKey: key})
			continue
		}
		month := make(MonthData, len(days))
		for k, v := range days {
			day, err := strconv.Atoi(k)
			if err != nil || day < 1 || day > 31 {
				invalid = append(invalid, InvalidDayKey{MonthKey: key, Key: k})
				continue
			}
			month[day] = RawEntry(v)
		}
		data[key] = month
	}
	sort.Slice(invalid, func(i, j int) bool {
		if invalid[i].MonthKey != invalid[j].MonthKey {
			return invalid[i].MonthKey < invalid[j].MonthKey
		}
		return invalid[i].Key < invalid[j].Key
	})
	return data, invalid, nil
}

// Prune drops months without days, restoring the empty-month invariant on
// data that did not come through Put/Remove.
func (a AllData) Prune() int {
	n := 0
	for key, month := range a {
		if len(month) == 0 {
			delete(a, key)
			n++
		}
	}
	return n
}
