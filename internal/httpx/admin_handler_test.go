package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	kafkax "github.com/ventittlas/storefront/internal/kafka"
	"github.com/ventittlas/storefront/internal/sales"
)

func adminToken(t *testing.T) string { return token(t, "ops-1", sales.RoleAdmin) }

func TestAdmin_RequiresAdminRole(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(http.MethodGet, "/api/v1/admin/sales", token(t, "buyer-1", ""), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/admin/sales", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_ListSales(t *testing.T) {
	api := newTestAPI(t, nil)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	api.store.On("ListSales", mock.MatchedBy(func(f sales.SaleFilter) bool {
		return f.Status == sales.StatusPaid && f.BuyerID == "buyer-9" &&
			f.From != nil && f.From.Equal(from) && f.To == nil &&
			f.Page == 2 && f.Limit == 10
	})).Return(&sales.SalePage{
		Sales:      []sales.SaleSummary{{Sale: sales.Sale{ID: 3, TotalAmount: decimal.RequireFromString("9.99")}, LineCount: 1}},
		Page:       2,
		PerPage:    10,
		Total:      11,
		TotalPages: 2,
	}, nil).Once()

	rec := api.do(http.MethodGet, "/api/v1/admin/sales?status=paid&buyer_id=buyer-9&date_from=2026-03-01&page=2&limit=10", adminToken(t), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.EqualValues(t, 11, page["total_sales"])
	assert.EqualValues(t, 2, page["current_page"])
	sale := page["sales"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 3, sale["sale_id"])
	assert.EqualValues(t, 1, sale["line_count"])
}

func TestAdmin_ListSales_BadQuery(t *testing.T) {
	for _, q := range []string{"date_from=03/01/2026", "page=0", "limit=abc"} {
		t.Run(q, func(t *testing.T) {
			api := newTestAPI(t, nil)
			rec := api.do(http.MethodGet, "/api/v1/admin/sales?"+q, adminToken(t), "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdmin_GetSale(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.store.On("GetSale", int64(5)).Return(&sales.SaleDetail{
			Sale:  sales.Sale{ID: 5, PaymentStatus: sales.StatusPending},
			Lines: []sales.SaleLine{{ID: 50, SaleID: 5, ProductID: 1, Quantity: 2}},
		}, nil).Once()

		rec := api.do(http.MethodGet, "/api/v1/admin/sales/5", adminToken(t), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"line_id":50`)
	})

	t.Run("missing", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.store.On("GetSale", int64(404)).Return(nil, fmt.Errorf("%w: 404", sales.ErrSaleNotFound)).Once()

		rec := api.do(http.MethodGet, "/api/v1/admin/sales/404", adminToken(t), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		api := newTestAPI(t, nil)
		rec := api.do(http.MethodGet, "/api/v1/admin/sales/abc", adminToken(t), "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdmin_UpdateStatus(t *testing.T) {
	t.Run("publishes the change", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.store.On("UpdatePaymentStatus", int64(7), sales.StatusPaid).Return(&sales.StatusChange{
			Sale: sales.Sale{ID: 7, PaymentStatus: sales.StatusPaid},
			From: sales.StatusPending,
		}, nil).Once()

		rec := api.do(http.MethodPut, "/api/v1/admin/sales/7/status", adminToken(t), `{"status":"paid"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"payment_status":"paid"`)

		msgs := api.pub.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "7", string(msgs[0].Key))
		assert.Equal(t, sales.EventPaymentStatusChanged, header(msgs[0], "x-event-type"))
		var env kafkax.Envelope
		require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
		p, err := kafkax.UnwrapPayload[sales.PaymentStatusChangedPayload](env.Payload)
		require.NoError(t, err)
		assert.Equal(t, sales.StatusPending, p.From)
		assert.Equal(t, sales.StatusPaid, p.To)
	})

	t.Run("rejected transition", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.store.On("UpdatePaymentStatus", int64(7), sales.StatusPending).
			Return(nil, fmt.Errorf("%w: cancelled -> pending", sales.ErrInvalidTransition)).Once()

		rec := api.do(http.MethodPut, "/api/v1/admin/sales/7/status", adminToken(t), `{"status":"pending"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, api.pub.messages())
	})

	t.Run("unknown status", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.store.On("UpdatePaymentStatus", int64(7), sales.PaymentStatus("shipped")).
			Return(nil, fmt.Errorf("%w: %q", sales.ErrInvalidStatus, "shipped")).Once()

		rec := api.do(http.MethodPut, "/api/v1/admin/sales/7/status", adminToken(t), `{"status":"shipped"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		api := newTestAPI(t, nil)
		rec := api.do(http.MethodPut, "/api/v1/admin/sales/7/status", adminToken(t), `{"status":"paid","note":"x"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
