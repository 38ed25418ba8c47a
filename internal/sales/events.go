package sales

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicSaleCreated          = "sale.created"
	TopicPaymentStatusChanged = "sale.payment_status_changed"
)

const (
	EventSaleCreated          = "SaleCreated"
	EventPaymentStatusChanged = "PaymentStatusChanged"
)

// PartitionKey keeps every event of one sale on one partition, in order.
func PartitionKey(saleID int64) []byte { return []byte(strconv.FormatInt(saleID, 10)) }

type LineQty struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleCreatedPayload struct {
	SaleID        int64           `json:"sale_id"`
	BuyerID       string          `json:"buyer_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`
	Lines         []LineQty       `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
}

type PaymentStatusChangedPayload struct {
	SaleID int64         `json:"sale_id"`
	From   PaymentStatus `json:"from"`
	To     PaymentStatus `json:"to"`
}

func NewSaleCreated(r *Receipt) SaleCreatedPayload {
	p := SaleCreatedPayload{
		SaleID:        r.Sale.ID,
		BuyerID:       r.Sale.BuyerID,
		TotalAmount:   r.Sale.TotalAmount,
		PaymentStatus: r.Sale.PaymentStatus,
		PaymentMethod: r.Sale.PaymentMethod,
		Lines:         make([]LineQty, len(r.Lines)),
		CreatedAt:     r.Sale.CreatedAt,
	}
	for i, l := range r.Lines {
		p.Lines[i] = LineQty{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return p
}
