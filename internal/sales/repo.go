package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ventittlas/storefront/internal/postgres"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const saleColumns = `s.id, s.buyer_id, s.created_at, s.total_amount, s.payment_status, s.payment_method`

// Repo is the admin console's view of committed sales.
type Repo struct{ DB postgres.DB }

// StatusChange is the outcome of a payment status update.
type StatusChange struct {
	Sale Sale
	From PaymentStatus
}

func scanSale(row pgx.Row, extra ...any) (Sale, error) {
	var (
		s      Sale
		status string
	)
	dest := append([]any{&s.ID, &s.BuyerID, &s.CreatedAt, &s.TotalAmount, &status, &s.PaymentMethod}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Sale{}, err
	}
	s.PaymentStatus = PaymentStatus(status)
	return s, nil
}

func (r *Repo) GetSale(ctx context.Context, id int64) (*SaleDetail, error) {
	sale, err := scanSale(r.DB.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSaleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sale %d: %w", id, err)
	}

	rows, err := r.DB.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price, subtotal
		FROM sale_lines WHERE sale_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get sale %d lines: %w", id, err)
	}
	defer rows.Close()

	d := &SaleDetail{Sale: sale, Lines: []SaleLine{}}
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		d.Lines = append(d.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get sale %d lines: %w", id, err)
	}
	return d, nil
}

// where renders the filter as a WHERE clause with positional args.
// Date bounds cover whole days: To includes everything up to its midnight.
func (f SaleFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add("s.created_at >= $%d", startOfDay(*f.From))
	}
	if f.To != nil {
		add("s.created_at < $%d", startOfDay(*f.To).AddDate(0, 0, 1))
	}
	if f.Status != "" {
		add("s.payment_status = $%d", string(f.Status))
	}
	if f.BuyerID != "" {
		add("s.buyer_id = $%d", f.BuyerID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// normalize applies paging defaults and caps.
func (f SaleFilter) normalize() SaleFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}

// ListSales returns one page of sales, newest first.
func (r *Repo) ListSales(ctx context.Context, f SaleFilter) (*SalePage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	f = f.normalize()
	where, args := f.where()

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT count(*) FROM sales s`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count sales: %w", err)
	}

	n := len(args)
	q := `SELECT ` + saleColumns + `, (SELECT count(*) FROM sale_lines l WHERE l.sale_id = s.id) AS line_count
		FROM sales s` + where + fmt.Sprintf(` ORDER BY s.created_at DESC, s.id DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.DB.Query(ctx, q, append(args, f.Limit, (f.Page-1)*f.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	page := &SalePage{
		Sales:      []SaleSummary{},
		Page:       f.Page,
		PerPage:    f.Limit,
		Total:      total,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}
	for rows.Next() {
		var sum SaleSummary
		sum.Sale, err = scanSale(rows, &sum.LineCount)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		page.Sales = append(page.Sales, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return page, nil
}

// UpdatePaymentStatus moves a sale along the payment lifecycle. The sale row
// is locked so concurrent updates serialize on the transition check.
func (r *Repo) UpdatePaymentStatus(ctx context.Context, id int64, to PaymentStatus) (*StatusChange, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sale, err := scanSale(tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales s WHERE s.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSaleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock sale %d: %w", id, err)
	}

	from := sale.PaymentStatus
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if _, err := tx.Exec(ctx, `UPDATE sales SET payment_status = $2 WHERE id = $1`, id, string(to)); err != nil {
		return nil, fmt.Errorf("update sale %d status: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}

	sale.PaymentStatus = to
	return &StatusChange{Sale: sale, From: from}, nil
}
