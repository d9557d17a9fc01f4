package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"entregas/internal/core"
)

// maxBodyBytes bounds request bodies; an import of several years of data
// stays well below it.
const maxBodyBytes = 8 << 20

var errInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// ParseDate parses a YYYY-MM-DD date in the local zone, the zone the
// classifier reads calendar fields from.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, sanitizeInput(s), time.Local)
	if err != nil {
		return time.Time{}, errInvalidDate
	}
	return t, nil
}

// ParseMonthKey validates a month path parameter.
func ParseMonthKey(s string) (string, error) {
	key := sanitizeInput(s)
	if _, _, err := core.ParseMonthKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// DecodeJSONBody decodes the request body into v, rejecting unknown fields
// and trailing data.
func DecodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
