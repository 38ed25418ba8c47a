// Package inventory owns Product.stock. Every stock mutation goes through the
// Ledger, under a row lock held until the caller's transaction ends.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrProductNotFound = errors.New("product not found")
)

type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (available: %d, requested: %d)",
		e.ProductID, e.Available, e.Requested)
}

// Tx is the part of pgx.Tx the ledger issues statements on. Callers pass the
// transaction they opened; the ledger never begins or ends one.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reservation is the ledger's receipt for one decrement.
type Reservation struct {
	ProductID    int64
	Before       int
	After        int
	CatalogPrice decimal.Decimal
}

type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// Reserve locks the product row (FOR UPDATE) and decrements its stock by
// quantity. On shortage nothing is written. The decrement becomes visible when
// tx commits and disappears if it rolls back.
func (l *Ledger) Reserve(ctx context.Context, tx Tx, productID int64, quantity int) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}

	stock, price, err := l.lock(ctx, tx, productID)
	if err != nil {
		return Reservation{}, err
	}
	if stock < quantity {
		return Reservation{}, &InsufficientStockError{ProductID: productID, Available: stock, Requested: quantity}
	}

	ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1`, productID, quantity)
	if err != nil {
		return Reservation{}, fmt.Errorf("decrement stock %d: %w", productID, err)
	}
	if ct.RowsAffected() != 1 {
		return Reservation{}, fmt.Errorf("decrement stock %d: %d rows affected", productID, ct.RowsAffected())
	}

	return Reservation{
		ProductID:    productID,
		Before:       stock,
		After:        stock - quantity,
		CatalogPrice: price,
	}, nil
}

// Restock adds quantity to the product under the same lock discipline and
// returns the new stock.
func (l *Ledger) Restock(ctx context.Context, tx Tx, productID int64, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}

	stock, _, err := l.lock(ctx, tx, productID)
	if err != nil {
		return 0, err
	}

	ct, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, productID, quantity)
	if err != nil {
		return 0, fmt.Errorf("increment stock %d: %w", productID, err)
	}
	if ct.RowsAffected() != 1 {
		return 0, fmt.Errorf("increment stock %d: %d rows affected", productID, ct.RowsAffected())
	}
	return stock + quantity, nil
}

func (l *Ledger) lock(ctx context.Context, tx Tx, productID int64) (int, decimal.Decimal, error) {
	var (
		stock int
		price decimal.Decimal
	)
	err := tx.QueryRow(ctx, `SELECT stock, price FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&stock, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, decimal.Zero, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("lock product %d: %w", productID, err)
	}
	return stock, price, nil
}
