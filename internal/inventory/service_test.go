package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	kafkax "github.com/ventittlas/storefront/internal/kafka"
)

const restockMarkerSQL = `INSERT INTO restocks`

func restockMessage(eventID string, p RestockRequestedPayload) kafkago.Message {
	env := kafkax.NewEnvelope(EventRestockRequested, "warehouse", "", p)
	env.EventID = eventID
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func newTestService(t *testing.T) (*Service, pgxmock.PgxPoolIface, *miniredis.Miniredis) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	return &Service{DB: mock, Ledger: NewLedger(), Redis: rdb, ServiceName: "restock"}, mock, mr
}

func TestService_HandleRestock(t *testing.T) {
	ctx := context.Background()

	t.Run("applies and marks seen", func(t *testing.T) {
		svc, mock, mr := newTestService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(7)).WillReturnRows(stockRow(2, "4.00"))
		mock.ExpectExec(incrementSQL).WithArgs(int64(7), 3).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(restockMarkerSQL).WithArgs("ev-1", int64(7), 3).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		err := svc.HandleRestock(ctx, restockMessage("ev-1", RestockRequestedPayload{ProductID: 7, Quantity: 3}))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.True(t, mr.Exists("dedup:restock:ev-1"))
	})

	t.Run("redis dedup short-circuits", func(t *testing.T) {
		svc, mock, mr := newTestService(t)
		require.NoError(t, mr.Set("dedup:restock:ev-2", "1"))

		err := svc.HandleRestock(ctx, restockMessage("ev-2", RestockRequestedPayload{ProductID: 7, Quantity: 3}))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed event id rolls back", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(7)).WillReturnRows(stockRow(5, "4.00"))
		mock.ExpectExec(incrementSQL).WithArgs(int64(7), 3).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(restockMarkerSQL).WithArgs("ev-3", int64(7), 3).WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectRollback()

		err := svc.HandleRestock(ctx, restockMessage("ev-3", RestockRequestedPayload{ProductID: 7, Quantity: 3}))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown product is dropped", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(404)).WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		err := svc.HandleRestock(ctx, restockMessage("ev-4", RestockRequestedPayload{ProductID: 404, Quantity: 1}))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage error is returned for retry", func(t *testing.T) {
		svc, mock, mr := newTestService(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := svc.HandleRestock(ctx, restockMessage("ev-5", RestockRequestedPayload{ProductID: 7, Quantity: 1}))
		require.Error(t, err)
		assert.False(t, mr.Exists("dedup:restock:ev-5"))
	})

	t.Run("missing event id is dropped", func(t *testing.T) {
		svc, mock, mr := newTestService(t)
		core, logs := observer.New(zap.WarnLevel)
		svc.Log = zap.New(core)

		require.NoError(t, svc.HandleRestock(ctx, restockMessage("", RestockRequestedPayload{ProductID: 7, Quantity: 1})))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.False(t, mr.Exists("dedup:restock:"))
		assert.Equal(t, 1, logs.FilterMessage("drop restock without event_id").Len())
	})

	t.Run("redis failure after commit is logged", func(t *testing.T) {
		svc, mock, mr := newTestService(t)
		core, logs := observer.New(zap.WarnLevel)
		svc.Log = zap.New(core)
		mr.SetError("ERR server unavailable")

		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(7)).WillReturnRows(stockRow(2, "4.00"))
		mock.ExpectExec(incrementSQL).WithArgs(int64(7), 3).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(restockMarkerSQL).WithArgs("ev-7", int64(7), 3).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, svc.HandleRestock(ctx, restockMessage("ev-7", RestockRequestedPayload{ProductID: 7, Quantity: 3})))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, 1, logs.FilterMessage("mark restock seen").Len())
	})

	t.Run("malformed and foreign events are skipped", func(t *testing.T) {
		svc, mock, _ := newTestService(t)

		require.NoError(t, svc.HandleRestock(ctx, kafkago.Message{Value: []byte("not json")}))
		foreign := kafkax.NewEnvelope("SaleCreated", "api", "1", map[string]int{"sale_id": 1})
		require.NoError(t, svc.HandleRestock(ctx, kafkago.Message{Value: kafkax.MustMarshal(foreign)}))
		require.NoError(t, svc.HandleRestock(ctx, restockMessage("ev-6", RestockRequestedPayload{ProductID: 7, Quantity: 0})))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
