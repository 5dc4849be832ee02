package domain

import "time"

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// ListFilter narrows the administrative order listing.
//
// Before is a pagination cursor: only orders with an id not greater than
// it are considered. The first page leaves it at zero and gets the
// cursor back in OrderPage.Before; passing it on to later pages keeps the
// page assignment stable while new orders keep coming in.
type ListFilter struct {
	Status   *Status
	Search   string
	From     *time.Time // inclusive
	To       *time.Time // exclusive
	Page     int
	PageSize int
	Before   int64
}

// Normalize clamps paging parameters to sane values.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if f.Before < 0 {
		f.Before = 0
	}
}

// Offset is the number of rows to skip for the current page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// OrderPage is one page of the newest-first order listing.
type OrderPage struct {
	Items    []*Order `json:"items"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Before   int64    `json:"before"`
}
