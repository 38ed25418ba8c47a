package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	kafkax "github.com/ventittlas/storefront/internal/kafka"
	"github.com/ventittlas/storefront/internal/logging"
	"github.com/ventittlas/storefront/internal/sales"
)

const dateLayout = "2006-01-02"

// SalesStore is the admin console's read and status-update surface.
type SalesStore interface {
	GetSale(ctx context.Context, id int64) (*sales.SaleDetail, error)
	ListSales(ctx context.Context, f sales.SaleFilter) (*sales.SalePage, error)
	UpdatePaymentStatus(ctx context.Context, id int64, to sales.PaymentStatus) (*sales.StatusChange, error)
}

type AdminHandler struct {
	Repo      SalesStore
	Publisher kafkax.Publisher
	Service   string
	Log       *zap.Logger
}

type statusReq struct {
	Status sales.PaymentStatus `json:"status"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/sales", h.listSales)
	r.Get("/sales/{id}", h.getSale)
	r.Put("/sales/{id}/status", h.updateStatus)
}

func (h *AdminHandler) listSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := sales.SaleFilter{
		Status:  sales.PaymentStatus(q.Get("status")),
		BuyerID: q.Get("buyer_id"),
	}
	for name, dst := range map[string]**time.Time{"date_from": &f.From, "date_to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(dateLayout, v)
			if err != nil {
				writeKind(w, sales.KindInvalidRequest, name+" must be YYYY-MM-DD")
				return
			}
			*dst = &t
		}
	}
	for name, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeKind(w, sales.KindInvalidRequest, name+" must be a positive integer")
				return
			}
			*dst = n
		}
	}

	page, err := h.Repo.ListSales(r.Context(), f)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *AdminHandler) getSale(w http.ResponseWriter, r *http.Request) {
	id, ok := saleID(w, r)
	if !ok {
		return
	}
	d, err := h.Repo.GetSale(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *AdminHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := saleID(w, r)
	if !ok {
		return
	}
	var req statusReq
	if err := decodeStrict(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ch, err := h.Repo.UpdatePaymentStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}

	if h.Publisher != nil {
		payload := sales.PaymentStatusChangedPayload{SaleID: id, From: ch.From, To: ch.Sale.PaymentStatus}
		env := kafkax.NewEnvelope(sales.EventPaymentStatusChanged, h.Service, strconv.FormatInt(id, 10), payload)
		env.TraceID = middleware.GetReqID(r.Context())
		headers := append(kafkax.EventHeaders(sales.EventPaymentStatusChanged), kafkax.TraceHeaders(r.Context())...)
		if err := h.Publisher.Publish(sales.PartitionKey(id), kafkax.MustMarshal(env), headers...); err != nil {
			logging.OrNop(h.Log).Error("publish payment status changed", zap.Int64("sale_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, ch.Sale)
}

func saleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeKind(w, sales.KindInvalidRequest, "sale id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sales.ErrSaleNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{ErrorKind: "SaleNotFound", Message: err.Error()})
	case errors.Is(err, sales.ErrInvalidStatus):
		writeKind(w, sales.KindInvalidRequest, err.Error())
	case errors.Is(err, sales.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{ErrorKind: "InvalidTransition", Message: err.Error()})
	default:
		logging.OrNop(h.Log).Error("admin sales query failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, err)
	}
}
