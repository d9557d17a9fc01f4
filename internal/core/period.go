package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Quinzena identifies one half of a month: days 1-15 or days 16 onwards.
type Quinzena int

const (
	FirstQuinzena  Quinzena = 1
	SecondQuinzena Quinzena = 2
)

// Valid reports whether q is 1 or 2.
func (q Quinzena) Valid() bool {
	return q == FirstQuinzena || q == SecondQuinzena
}

// Bounds returns the inclusive day range of the quinzena.
// The second half always ends at 31, whatever the month length.
func (q Quinzena) Bounds() (start, end int) {
	if q == FirstQuinzena {
		return 1, 15
	}
	return 16, 31
}

// Contains reports whether a day-of-month falls inside the quinzena.
func (q Quinzena) Contains(day int) bool {
	start, end := q.Bounds()
	return day >= start && day <= end
}

// MonthKey returns the "{year}-{month}" bucket of a date, month 1-based and unpadded.
func MonthKey(t time.Time) string {
	return MonthKeyOf(t.Year(), int(t.Month()))
}

// MonthKeyOf builds a month key from its parts.
func MonthKeyOf(year, month int) string {
	return strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

// QuinzenaOf returns 1 when the day-of-month is 15 or lower, otherwise 2.
func QuinzenaOf(t time.Time) Quinzena {
	if t.Day() <= 15 {
		return FirstQuinzena
	}
	return SecondQuinzena
}

// QuinzenaKey addresses a quinzena in the expense ledger.
func QuinzenaKey(monthKey string, q Quinzena) string {
	return monthKey + "-" + strconv.Itoa(int(q))
}

// ParseMonthKey splits a month key into year and month. Zero-padded months
// are rejected because they never address a stored bucket.
func ParseMonthKey(key string) (year, month int, err error) {
	y, m, ok := strings.Cut(key, "-")
	if !ok || y == "" || m == "" || strings.HasPrefix(m, "0") {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthKey, key)
	}
	year, err = strconv.Atoi(y)
	if err != nil || year < 1 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthKey, key)
	}
	month, err = strconv.Atoi(m)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonthKey, key)
	}
	return year, month, nil
}

// Period is a classified date: the month bucket and its half.
type Period struct {
	MonthKey string   `json:"monthKey"`
	Quinzena Quinzena `json:"quinzena"`
}

// PeriodOf classifies a date.
func PeriodOf(t time.Time) Period {
	return Period{MonthKey: MonthKey(t), Quinzena: QuinzenaOf(t)}
}

// Key returns the ledger key of the period.
func (p Period) Key() string {
	return QuinzenaKey(p.MonthKey, p.Quinzena)
}
