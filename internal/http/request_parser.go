// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// bounded JSON bodies, lenient amounts, and ledger listing filters.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"akiba/internal/core"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const (
	maxBodyBytes = 1 << 20
	maxListLimit = 500
)

// DecodeJSON reads at most maxBodyBytes of r's body into dst. Unknown fields,
// trailing data and empty bodies are rejected with core.ErrInvalidInput.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", core.ErrInvalidInput, tooLarge.Limit)
		}
		return fmt.Errorf("%w: read body: %v", core.ErrInvalidInput, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", core.ErrInvalidInput)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", core.ErrInvalidInput, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", core.ErrInvalidInput)
	}
	return nil
}

// Amount accepts a JSON string ("5000", "12,5") or a bare number (5000).
// Validation happens in Decimal so a bad value surfaces as ErrInvalidAmount.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	if string(b) == "null" {
		*a = ""
		return nil
	}
	*a = Amount(b)
	return nil
}

// Decimal parses the amount with core.ParseAmount.
func (a Amount) Decimal() (decimal.Decimal, error) {
	return core.ParseAmount(string(a))
}

// ParseSavingsFilter reads goal_id, source, since, until and limit from query.
// since/until accept RFC 3339 timestamps or YYYY-MM-DD dates (UTC midnight).
func ParseSavingsFilter(query url.Values) (core.SavingsFilter, error) {
	f := core.SavingsFilter{
		GoalID: sanitizeInput(query.Get("goal_id")),
		Source: core.SavingSource(strings.ToLower(sanitizeInput(query.Get("source")))),
	}
	if f.Source != "" && !f.Source.IsValid() {
		return f, fmt.Errorf("%w: unknown source %q", core.ErrInvalidInput, f.Source)
	}

	var err error
	if f.Since, err = parseTimeParam(query, "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTimeParam(query, "until"); err != nil {
		return f, err
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Since.Before(f.Until) {
		return f, fmt.Errorf("%w: since must be before until", core.ErrInvalidInput)
	}

	if v := strings.TrimSpace(query.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			return f, fmt.Errorf("%w: limit must be between 1 and %d", core.ErrInvalidInput, maxListLimit)
		}
		f.Limit = n
	}
	return f, nil
}

func parseTimeParam(query url.Values, name string) (time.Time, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", core.ErrInvalidInput, name)
}

// pathVar returns a sanitized mux route variable.
func pathVar(r *http.Request, name string) string {
	return sanitizeInput(mux.Vars(r)[name])
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
