package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
)

const dateLayout = "2006-01-02"

// parseListFilter reads the admin listing query: status, q, from, to,
// page, page_size and before. A bare date for "to" covers that whole day.
// Pages past the first need the before returned with the first page, so
// orders created meanwhile don't shift them.
func parseListFilter(q url.Values) (domain.ListFilter, error) {
	var f domain.ListFilter

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st := domain.Status(raw)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", raw)
		}
		f.Status = &st
	}
	f.Search = strings.TrimSpace(q.Get("q"))

	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}

	if f.Page, err = parseInt(q.Get("page")); err != nil {
		return f, fmt.Errorf("page: %w", err)
	}
	if f.PageSize, err = parseInt(q.Get("page_size")); err != nil {
		return f, fmt.Errorf("page_size: %w", err)
	}
	before, err := parseInt(q.Get("before"))
	if err != nil {
		return f, fmt.Errorf("before: %w", err)
	}
	f.Before = int64(before)
	if f.Page > 1 && f.Before == 0 {
		return f, fmt.Errorf("before is required past the first page")
	}

	f.Normalize()
	return f, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return n, nil
}

func parseTime(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("expected RFC 3339 or %s, got %q", dateLayout, raw)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}
