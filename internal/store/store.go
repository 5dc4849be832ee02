package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/pkg/metrics"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBStore is a database implementation of the order and settings stores.
type DBStore struct {
	db     *sql.DB
	logger logger.Logger
}

// NewDBStore creates a new DBStore
func NewDBStore(db *sql.DB, logger logger.Logger) *DBStore {
	return &DBStore{
		db:     db,
		logger: logger,
	}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		status     string
		apiCost    sql.NullInt64
		content    sql.NullString
		paymentRef sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.Topic, &o.WordCount, &status, &o.Price, &apiCost, &content, &o.CustomerEmail,
		&paymentRef, &o.PaymentInitiationRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)
	if apiCost.Valid {
		o.APICost = &apiCost.Int64
	}
	if content.Valid {
		o.Content = &content.String
	}
	if paymentRef.Valid {
		o.PaymentReference = &paymentRef.String
	}
	return &o, nil
}

// observe records how long a DB operation took.
func observe(op string, start time.Time) {
	metrics.DBResponseTime.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Create validates the draft and inserts a new order in status created.
func (s *DBStore) Create(ctx context.Context, d domain.OrderDraft) (*domain.Order, error) {
	defer observe("create_order", time.Now())

	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	o, err := scanOrder(s.db.QueryRowContext(ctx, qInsertOrder,
		d.Topic, d.WordCount, d.Price, d.CustomerEmail, d.PaymentInitiationRef,
	))
	if err != nil {
		if isConnectionError(err) {
			return nil, ErrConnectionFailed
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: initiation_ref=%s", ErrAlreadyExists, d.PaymentInitiationRef)
		}
		return nil, fmt.Errorf("inserting order: %w", err)
	}
	return o, nil
}

// Get retrieves a single order by id.
func (s *DBStore) Get(ctx context.Context, id int64) (*domain.Order, error) {
	defer observe("get_order", time.Now())
	return s.getOne(ctx, qGetOrderByID, id)
}

// GetByPaymentReference looks an order up by the gateway's payment id.
func (s *DBStore) GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	defer observe("get_order_by_payment_ref", time.Now())
	if strings.TrimSpace(ref) == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, qGetOrderByPaymentRef, ref)
}

// GetByInitiationRef looks an order up by the reference handed out at creation.
func (s *DBStore) GetByInitiationRef(ctx context.Context, ref string) (*domain.Order, error) {
	defer observe("get_order_by_initiation_ref", time.Now())
	if strings.TrimSpace(ref) == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, qGetOrderByInitiationRef, ref)
}

func (s *DBStore) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isConnectionError(err) {
			return nil, ErrConnectionFailed
		}
		return nil, fmt.Errorf("querying for order %v: %w", arg, err)
	}
	return o, nil
}

// Update applies the non-nil fields of u in one statement and bumps updated_at.
// It returns ErrNotFound for an unknown id and ErrStatusConflict when the
// status guard doesn't hold.
func (s *DBStore) Update(ctx context.Context, id int64, u domain.OrderUpdate) (*domain.Order, error) {
	defer observe("update_order", time.Now())

	if err := u.Validate(); err != nil {
		return nil, err
	}

	o, err := scanOrder(s.db.QueryRowContext(ctx, qUpdateOrder,
		id,
		nullStatus(u.Status),
		nullString(u.PaymentReference),
		nullString(u.Content),
		nullInt64(u.APICost),
		nullStatus(u.ExpectStatus),
	))
	if err == nil {
		return o, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.explainMiss(ctx, id, u.ExpectStatus)
	}
	if isConnectionError(err) {
		return nil, ErrConnectionFailed
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: payment_reference is owned by another order", ErrAlreadyExists)
	}
	return nil, fmt.Errorf("updating order %d: %w", id, err)
}

// explainMiss tells an unknown id apart from a failed status guard.
func (s *DBStore) explainMiss(ctx context.Context, id int64, expect *domain.Status) error {
	var status string
	err := s.db.QueryRowContext(ctx, qGetOrderStatus, id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		if isConnectionError(err) {
			return ErrConnectionFailed
		}
		return fmt.Errorf("checking status of order %d: %w", id, err)
	case expect != nil:
		return fmt.Errorf("%w: order %d is %s, expected %s", ErrStatusConflict, id, status, *expect)
	default:
		return fmt.Errorf("order %d was not updated", id)
	}
}

// List returns one page of orders, newest first, plus the total number of
// matches below the cursor.
func (s *DBStore) List(ctx context.Context, f domain.ListFilter) (*domain.OrderPage, error) {
	defer observe("list_orders", time.Now())

	f.Normalize()
	if f.Before == 0 {
		if err := s.db.QueryRowContext(ctx, qMaxOrderID).Scan(&f.Before); err != nil {
			if isConnectionError(err) {
				return nil, ErrConnectionFailed
			}
			return nil, fmt.Errorf("pinning list cursor: %w", err)
		}
	}

	where, args := buildListWhere(f)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		if isConnectionError(err) {
			return nil, ErrConnectionFailed
		}
		return nil, fmt.Errorf("counting orders: %w", err)
	}

	query := fmt.Sprintf("SELECT%s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, f.PageSize, f.Offset())...)
	if err != nil {
		if isConnectionError(err) {
			return nil, ErrConnectionFailed
		}
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	page := &domain.OrderPage{
		Items:    make([]*domain.Order, 0, f.PageSize),
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
		Before:   f.Before,
	}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		page.Items = append(page.Items, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return page, nil
}

// buildListWhere turns the filter into a WHERE clause with positional args.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	conds = append(conds, "id <= "+arg(f.Before))
	if f.Status != nil {
		conds = append(conds, "status = "+arg(string(*f.Status)))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at < "+arg(*f.To))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := arg("%" + escapeLike(q) + "%")
		cond := "(customer_email ILIKE " + like + " OR topic ILIKE " + like
		if id, err := strconv.ParseInt(strings.TrimPrefix(q, "#"), 10, 64); err == nil {
			cond += " OR id = " + arg(id)
		}
		conds = append(conds, cond+")")
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Stats computes the administrative totals in one pass.
func (s *DBStore) Stats(ctx context.Context) (*domain.Stats, error) {
	defer observe("stats", time.Now())

	var st domain.Stats
	if err := s.db.QueryRowContext(ctx, qStats).Scan(&st.TotalOrders, &st.PendingOrders, &st.TotalRevenue); err != nil {
		if isConnectionError(err) {
			return nil, ErrConnectionFailed
		}
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return &st, nil
}

// ListByStatus returns up to limit orders in the given status, oldest first.
func (s *DBStore) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Order, error) {
	defer observe("list_by_status", time.Now())

	rows, err := s.db.QueryContext(ctx, qListByStatus, string(status), limit)
	if err != nil {
		if isConnectionError(err) {
			return nil, ErrConnectionFailed
		}
		return nil, fmt.Errorf("listing %s orders: %w", status, err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PingContext lets the store double as the health checker's pinger.
func (s *DBStore) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullStatus(p *domain.Status) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// isConnectionError reports errors that come from the database being
// unreachable rather than from the query itself.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) || pgconn.SafeToRetry(err)
}
