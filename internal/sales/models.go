package sales

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one line as submitted by the checkout UI. UnitPrice is the
// caller's assertion, not the catalog price.
type CartLine struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gt=0,lte=2147483647"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

type CheckoutRequest struct {
	Lines         []CartLine `json:"lines" validate:"required,min=1,dive"`
	PaymentMethod string     `json:"payment_method" validate:"max=64"`
}

type Sale struct {
	ID            int64           `json:"sale_id"`
	BuyerID       string          `json:"buyer_id"`
	CreatedAt     time.Time       `json:"created_at"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`
}

type SaleLine struct {
	ID        int64           `json:"line_id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Receipt is what a successful checkout returns.
type Receipt struct {
	Sale      Sale
	Lines     []SaleLine
	LineCount int
}

type SaleDetail struct {
	Sale
	Lines []SaleLine `json:"lines"`
}

type SaleSummary struct {
	Sale
	LineCount int `json:"line_count"`
}

type SaleFilter struct {
	From    *time.Time
	To      *time.Time
	Status  PaymentStatus
	BuyerID string
	Page    int
	Limit   int
}

type SalePage struct {
	Sales      []SaleSummary `json:"sales"`
	Page       int           `json:"current_page"`
	PerPage    int           `json:"per_page"`
	Total      int           `json:"total_sales"`
	TotalPages int           `json:"total_pages"`
}
