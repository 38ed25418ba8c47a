package httpx

import (
	"bytes"
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ventittlas/storefront/internal/redisx"
	"github.com/ventittlas/storefront/internal/sales"
)

var testAuth = &Authenticator{Secret: []byte("test-secret")}

type mockEngine struct{ mock.Mock }

func (m *mockEngine) Checkout(ctx context.Context, auth sales.AuthContext, req sales.CheckoutRequest) (*sales.Receipt, error) {
	args := m.Called(auth, req)
	rec, _ := args.Get(0).(*sales.Receipt)
	return rec, args.Error(1)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) GetSale(ctx context.Context, id int64) (*sales.SaleDetail, error) {
	args := m.Called(id)
	d, _ := args.Get(0).(*sales.SaleDetail)
	return d, args.Error(1)
}

func (m *mockStore) ListSales(ctx context.Context, f sales.SaleFilter) (*sales.SalePage, error) {
	args := m.Called(f)
	p, _ := args.Get(0).(*sales.SalePage)
	return p, args.Error(1)
}

func (m *mockStore) UpdatePaymentStatus(ctx context.Context, id int64, to sales.PaymentStatus) (*sales.StatusChange, error) {
	args := m.Called(id, to)
	ch, _ := args.Get(0).(*sales.StatusChange)
	return ch, args.Error(1)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *recordingPublisher) Publish(key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	return nil
}

func (p *recordingPublisher) messages() []kafkago.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafkago.Message(nil), p.msgs...)
}

func header(m kafkago.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb, mr
}

type testAPI struct {
	router *chi.Mux
	engine *mockEngine
	store  *mockStore
	pub    *recordingPublisher
}

func newTestAPI(t *testing.T, idem *redisx.IdempotencyStore) *testAPI {
	t.Helper()
	api := &testAPI{engine: &mockEngine{}, store: &mockStore{}, pub: &recordingPublisher{}}
	api.router = NewRouter(nil, nil)
	MountAPI(api.router, testAuth,
		&CheckoutHandler{Engine: api.engine, Idem: idem, Publisher: api.pub, Service: "storefront-test"},
		&AdminHandler{Repo: api.store, Publisher: api.pub, Service: "storefront-test"},
	)
	t.Cleanup(func() {
		api.engine.AssertExpectations(t)
		api.store.AssertExpectations(t)
	})
	return api
}

func token(t *testing.T, buyerID, role string) string {
	t.Helper()
	s, err := testAuth.Sign(sales.AuthContext{BuyerID: buyerID, Role: role},
		jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	return s
}

func (a *testAPI) do(method, path, bearer, body string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}
