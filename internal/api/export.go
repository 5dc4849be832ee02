package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
)

var exportHeader = []string{
	"id", "created_at", "status", "topic", "word_count",
	"price", "api_cost", "customer_email", "payment_reference",
}

// exportOrders streams every order matching the listing filter as CSV.
// Paging is ignored, the whole result set is walked from the cursor
// pinned by the first page.
func (s *Server) exportOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Page = 1
	f.PageSize = domain.MaxPageSize

	first, err := s.orders.ListOrders(r.Context(), f)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)

	page := first
	f.Before = first.Before
	for {
		for _, o := range page.Items {
			_ = cw.Write(exportRow(o))
		}
		if len(page.Items) < f.PageSize {
			break
		}
		f.Page++
		if page, err = s.orders.ListOrders(r.Context(), f); err != nil {
			// headers are gone already, all that is left is to cut the file short
			s.logger.Errorw("Order export aborted", "page", f.Page, "error", err)
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Warnw("Writing order export failed", "error", err)
	}
}

func exportRow(o *domain.Order) []string {
	var apiCost, paymentRef string
	if o.APICost != nil {
		apiCost = strconv.FormatInt(*o.APICost, 10)
	}
	if o.PaymentReference != nil {
		paymentRef = *o.PaymentReference
	}
	return []string{
		strconv.FormatInt(o.ID, 10),
		o.CreatedAt.UTC().Format(time.RFC3339),
		string(o.Status),
		o.Topic,
		strconv.Itoa(o.WordCount),
		strconv.FormatInt(o.Price, 10),
		apiCost,
		o.CustomerEmail,
		paymentRef,
	}
}
