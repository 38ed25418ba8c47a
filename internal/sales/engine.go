package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ventittlas/storefront/internal/inventory"
	"github.com/ventittlas/storefront/internal/logging"
	"github.com/ventittlas/storefront/internal/postgres"
)

// DefaultPaymentMethod is recorded when the shopper picked no stored method
// (pay on delivery); such sales start out pending.
const DefaultPaymentMethod = "cash"

type PricePolicy int

const (
	// PriceFromClient totals the sale from caller-submitted unit prices.
	PriceFromClient PricePolicy = iota
	// PriceFromCatalog prices each line from the locked product row and
	// rejects submissions that disagree beyond Tolerance.
	PriceFromCatalog
)

var tracer = otel.Tracer("github.com/ventittlas/storefront/internal/sales")

type Engine struct {
	DB        postgres.TxBeginner
	Ledger    *inventory.Ledger
	Validator *Validator
	Pricing   PricePolicy
	Tolerance decimal.Decimal
	Timeout   time.Duration
	Log       *zap.Logger
}

func NewEngine(db postgres.TxBeginner, ledger *inventory.Ledger, log *zap.Logger) *Engine {
	return &Engine{
		DB:        db,
		Ledger:    ledger,
		Validator: NewValidator(),
		Timeout:   5 * time.Second,
		Log:       logging.OrNop(log),
	}
}

// Checkout turns a cart into a committed Sale. Every line is reserved through
// the Ledger, then the header and lines are inserted, all in one transaction;
// any failure rolls back everything. Not idempotent: two calls with the same
// cart make two sales.
func (e *Engine) Checkout(ctx context.Context, auth AuthContext, req CheckoutRequest) (*Receipt, error) {
	log := logging.OrNop(e.Log)

	if err := e.Validator.Checkout(req); err != nil {
		return nil, err
	}
	if !auth.Authenticated() {
		return nil, &Error{Kind: KindUnauthenticated, Message: "no authenticated buyer"}
	}

	ctx, span := tracer.Start(ctx, "sales.Checkout")
	defer span.End()
	span.SetAttributes(
		attribute.String("buyer.id", auth.BuyerID),
		attribute.Int("cart.lines", len(req.Lines)),
	)

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	rec, err := e.checkoutTx(ctx, log, auth, req)
	if err != nil {
		se := classify(ctx, err)
		if se.Kind == KindStorageUnavailable {
			span.RecordError(se)
			span.SetStatus(codes.Error, string(se.Kind))
			log.Error("checkout failed", zap.String("buyer_id", auth.BuyerID), zap.Error(se))
		} else {
			span.SetAttributes(attribute.String("checkout.rejected", string(se.Kind)))
			log.Warn("checkout rejected",
				zap.String("buyer_id", auth.BuyerID),
				zap.String("kind", string(se.Kind)),
				zap.Int64("product_id", se.ProductID),
				zap.Int("available", se.Available),
				zap.Int("requested", se.Requested))
		}
		return nil, se
	}

	span.SetAttributes(attribute.Int64("sale.id", rec.Sale.ID))
	log.Info("sale created",
		zap.Int64("sale_id", rec.Sale.ID),
		zap.String("buyer_id", auth.BuyerID),
		zap.String("total_amount", rec.Sale.TotalAmount.StringFixed(moneyPlaces)),
		zap.String("payment_status", string(rec.Sale.PaymentStatus)),
		zap.Int("lines", rec.LineCount))
	return rec, nil
}

func (e *Engine) checkoutTx(ctx context.Context, log *zap.Logger, auth AuthContext, req CheckoutRequest) (*Receipt, error) {
	tx, err := e.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storage("begin checkout", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Reserve in ascending product id so concurrent carts lock rows in the
	// same order and cannot deadlock each other.
	order := make([]int, len(req.Lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return req.Lines[order[a]].ProductID < req.Lines[order[b]].ProductID
	})

	prices := make([]decimal.Decimal, len(req.Lines))
	for _, i := range order {
		l := req.Lines[i]
		r, err := e.Ledger.Reserve(ctx, tx, l.ProductID, l.Quantity)
		if err != nil {
			return nil, reserveError(l, err)
		}
		price, err := e.price(l, r)
		if err != nil {
			return nil, err
		}
		prices[i] = price
		log.Debug("reserved",
			zap.Int64("product_id", l.ProductID),
			zap.Int("quantity", l.Quantity),
			zap.Int("stock_before", r.Before))
	}

	// catalog prices can push a cart past the column limits the client input passed
	if fields := amountFields(req.Lines, prices); len(fields) > 0 {
		return nil, invalid("cart amount out of range", fields)
	}

	lines := make([]SaleLine, len(req.Lines))
	total := decimal.Zero
	for i, l := range req.Lines {
		sub := prices[i].Mul(decimal.NewFromInt(int64(l.Quantity)))
		lines[i] = SaleLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: prices[i], Subtotal: sub}
		total = total.Add(sub)
	}

	sale := Sale{
		BuyerID:       auth.BuyerID,
		TotalAmount:   total,
		PaymentStatus: StatusPending,
		PaymentMethod: DefaultPaymentMethod,
	}
	if req.PaymentMethod != "" {
		sale.PaymentStatus = StatusPaid
		sale.PaymentMethod = req.PaymentMethod
	}

	err = tx.QueryRow(ctx, `INSERT INTO sales (buyer_id, total_amount, payment_status, payment_method) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		sale.BuyerID, sale.TotalAmount, string(sale.PaymentStatus), sale.PaymentMethod,
	).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return nil, storage("insert sale", err)
	}

	for i := range lines {
		lines[i].SaleID = sale.ID
		err := tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, subtotal) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			sale.ID, lines[i].ProductID, lines[i].Quantity, lines[i].UnitPrice, lines[i].Subtotal,
		).Scan(&lines[i].ID)
		if err != nil {
			return nil, storage(fmt.Sprintf("insert sale line %d", i), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storage("commit checkout", err)
	}
	return &Receipt{Sale: sale, Lines: lines, LineCount: len(lines)}, nil
}

func (e *Engine) price(l CartLine, r inventory.Reservation) (decimal.Decimal, error) {
	if e.Pricing != PriceFromCatalog {
		return l.UnitPrice, nil
	}
	if l.UnitPrice.Sub(r.CatalogPrice).Abs().GreaterThan(e.Tolerance) {
		return decimal.Zero, &Error{
			Kind:      KindPriceMismatch,
			Message:   fmt.Sprintf("price for product %d is %s, submitted %s", l.ProductID, r.CatalogPrice.StringFixed(moneyPlaces), l.UnitPrice.StringFixed(moneyPlaces)),
			ProductID: l.ProductID,
		}
	}
	return r.CatalogPrice, nil
}

// reserveError maps a ledger failure for line l onto the checkout taxonomy.
func reserveError(l CartLine, err error) error {
	var ise *inventory.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		return &Error{
			Kind:      KindInsufficientStock,
			Message:   ise.Error(),
			ProductID: ise.ProductID,
			Available: ise.Available,
			Requested: ise.Requested,
		}
	case errors.Is(err, inventory.ErrProductNotFound):
		return &Error{Kind: KindProductNotFound, Message: err.Error(), ProductID: l.ProductID}
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return invalid(err.Error(), nil)
	default:
		return storage(fmt.Sprintf("reserve product %d", l.ProductID), err)
	}
}

// classify makes sure every failure leaving Checkout is an *Error.
func classify(ctx context.Context, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if ctx.Err() != nil {
		return storage("checkout timed out", err)
	}
	return storage("checkout storage failure", err)
}
