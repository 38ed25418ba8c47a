package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	kafkax "github.com/ventittlas/storefront/internal/kafka"
	"github.com/ventittlas/storefront/internal/logging"
	"github.com/ventittlas/storefront/internal/redisx"
	"github.com/ventittlas/storefront/internal/sales"
)

const (
	maxBodyBytes      = 1 << 20
	maxIdempotencyKey = 255
)

type Checkouter interface {
	Checkout(ctx context.Context, auth sales.AuthContext, req sales.CheckoutRequest) (*sales.Receipt, error)
}

type CheckoutHandler struct {
	Engine    Checkouter
	Idem      *redisx.IdempotencyStore // nil disables Idempotency-Key handling
	Publisher kafkax.Publisher
	Service   string
	Log       *zap.Logger
}

// Wire shapes use pointers so a missing field is told apart from a zero one.
type cartLineReq struct {
	ProductID *int64           `json:"product_id"`
	Quantity  *int             `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type checkoutReq struct {
	Lines         []cartLineReq `json:"lines"`
	PaymentMethod string        `json:"payment_method"`
}

type CheckoutResp struct {
	SaleID      int64  `json:"sale_id"`
	TotalAmount string `json:"total_amount"`
	LineCount   int    `json:"line_count"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	log := logging.OrNop(h.Log).With(zap.String("request_id", middleware.GetReqID(r.Context())))
	auth := AuthFrom(r.Context())

	req, err := decodeCheckout(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	token := r.Header.Get("Idempotency-Key")
	if len(token) > maxIdempotencyKey {
		writeKind(w, sales.KindInvalidRequest, "Idempotency-Key too long")
		return
	}

	var claimed string
	if token != "" && h.Idem != nil && auth.Authenticated() {
		key := redisx.CheckoutKey(auth.BuyerID, token)
		c, err := h.Idem.Claim(r.Context(), key)
		switch {
		case err != nil:
			log.Warn("idempotency store unavailable, proceeding without", zap.Error(err))
		case c.State == redisx.ClaimInFlight:
			writeKind(w, KindDuplicateSubmission, "a checkout with this Idempotency-Key is in progress")
			return
		case c.State == redisx.ClaimDone:
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(c.Response)
			return
		default:
			claimed = key
		}
	}

	rec, err := h.Engine.Checkout(r.Context(), auth, req)
	if err != nil {
		if claimed != "" {
			if rerr := h.Idem.Release(context.WithoutCancel(r.Context()), claimed); rerr != nil {
				log.Warn("release idempotency claim", zap.Error(rerr))
			}
		}
		writeError(w, err)
		return
	}

	resp := CheckoutResp{
		SaleID:      rec.Sale.ID,
		TotalAmount: rec.Sale.TotalAmount.StringFixed(2),
		LineCount:   rec.LineCount,
	}
	body := kafkax.MustMarshal(resp)
	if claimed != "" {
		if err := h.Idem.Complete(context.WithoutCancel(r.Context()), claimed, body); err != nil {
			log.Warn("store idempotent response", zap.Error(err))
		}
	}

	h.publishCreated(r, log, rec)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// publishCreated runs after commit; a failed publish never fails the sale.
func (h *CheckoutHandler) publishCreated(r *http.Request, log *zap.Logger, rec *sales.Receipt) {
	if h.Publisher == nil {
		return
	}
	id := strconv.FormatInt(rec.Sale.ID, 10)
	env := kafkax.NewEnvelope(sales.EventSaleCreated, h.Service, id, sales.NewSaleCreated(rec))
	env.TraceID = middleware.GetReqID(r.Context())

	headers := append(kafkax.EventHeaders(sales.EventSaleCreated), kafkax.TraceHeaders(r.Context())...)
	if err := h.Publisher.Publish(sales.PartitionKey(rec.Sale.ID), kafkax.MustMarshal(env), headers...); err != nil {
		log.Error("publish sale created", zap.Int64("sale_id", rec.Sale.ID), zap.Error(err))
	}
}

// decodeStrict reads exactly one JSON object with no unknown fields.
func decodeStrict(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return &sales.Error{Kind: sales.KindInvalidRequest, Message: decodeMessage(err), Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &sales.Error{Kind: sales.KindInvalidRequest, Message: "body must contain a single JSON object"}
	}
	return nil
}

func decodeCheckout(w http.ResponseWriter, r *http.Request) (sales.CheckoutRequest, error) {
	var in checkoutReq
	if err := decodeStrict(w, r, &in); err != nil {
		return sales.CheckoutRequest{}, err
	}

	missing := map[string]string{}
	out := sales.CheckoutRequest{Lines: make([]sales.CartLine, len(in.Lines)), PaymentMethod: in.PaymentMethod}
	for i, l := range in.Lines {
		if l.ProductID == nil {
			missing[fmt.Sprintf("lines[%d].product_id", i)] = "required"
		} else {
			out.Lines[i].ProductID = *l.ProductID
		}
		if l.Quantity == nil {
			missing[fmt.Sprintf("lines[%d].quantity", i)] = "required"
		} else {
			out.Lines[i].Quantity = *l.Quantity
		}
		if l.UnitPrice == nil {
			missing[fmt.Sprintf("lines[%d].unit_price", i)] = "required"
		} else {
			out.Lines[i].UnitPrice = *l.UnitPrice
		}
	}
	if len(missing) > 0 {
		return sales.CheckoutRequest{}, &sales.Error{Kind: sales.KindInvalidRequest, Message: "invalid cart", Fields: missing}
	}
	return out, nil
}

func decodeMessage(err error) string {
	var (
		syn  *json.SyntaxError
		typ  *json.UnmarshalTypeError
		size *http.MaxBytesError
	)
	switch {
	case errors.As(err, &syn):
		return fmt.Sprintf("malformed JSON at offset %d", syn.Offset)
	case errors.As(err, &typ):
		return fmt.Sprintf("field %q has the wrong type", typ.Field)
	case errors.As(err, &size):
		return "request body too large"
	case errors.Is(err, io.EOF):
		return "request body is empty"
	default:
		return "invalid JSON body: " + err.Error()
	}
}
