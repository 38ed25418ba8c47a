package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ventittlas/storefront/internal/kafka"
	"github.com/ventittlas/storefront/internal/logging"
	"github.com/ventittlas/storefront/internal/postgres"
	"github.com/ventittlas/storefront/internal/redisx"
)

// Service applies restock events from Kafka through the Ledger.
type Service struct {
	DB          postgres.TxBeginner
	Ledger      *Ledger
	Redis       *redis.Client // optional fast-path dedup
	Log         *zap.Logger
	ServiceName string
}

// HandleRestock is installed as the consumer handler. Returning nil commits
// the offset, so malformed events are logged and dropped while storage errors
// are returned and the consumer retries the same message.
func (s *Service) HandleRestock(ctx context.Context, m kafkago.Message) error {
	log := logging.OrNop(s.Log)
	ctx = kafkax.ExtractTrace(ctx, m.Headers)

	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Warn("drop malformed envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != EventRestockRequested {
		return nil
	}
	// the event id is the dedup key; without one every such event would collide
	if env.EventID == "" {
		log.Warn("drop restock without event_id", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
		return nil
	}
	p, err := kafkax.UnwrapPayload[RestockRequestedPayload](env.Payload)
	if err != nil || p.ProductID <= 0 || p.Quantity <= 0 {
		log.Warn("drop invalid restock", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if s.Redis != nil {
		if seen, err := redisx.Seen(ctx, s.Redis, dkey); err == nil && seen {
			return nil
		}
	}

	after, applied, err := s.apply(ctx, env.EventID, p)
	switch {
	case errors.Is(err, ErrProductNotFound):
		log.Warn("drop restock for unknown product", zap.String("event_id", env.EventID), zap.Int64("product_id", p.ProductID))
		return nil
	case err != nil:
		return err
	}

	if s.Redis != nil {
		if _, err := redisx.MarkSeen(ctx, s.Redis, dkey, redisx.TTLDedup); err != nil {
			log.Warn("mark restock seen", zap.String("event_id", env.EventID), zap.Error(err))
		}
	}
	if applied {
		log.Info("restock applied",
			zap.String("event_id", env.EventID),
			zap.Int64("product_id", p.ProductID),
			zap.Int("quantity", p.Quantity),
			zap.Int("stock", after))
	}
	return nil
}

// apply increments stock and records the event id in one tx. The product row
// lock is taken first, so a replayed event id is detected under it and the
// increment rolls back.
func (s *Service) apply(ctx context.Context, eventID string, p RestockRequestedPayload) (int, bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	after, err := s.Ledger.Restock(ctx, tx, p.ProductID, p.Quantity)
	if err != nil {
		return 0, false, err
	}

	ct, err := tx.Exec(ctx, `INSERT INTO restocks (event_id, product_id, quantity) VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, p.ProductID, p.Quantity)
	if err != nil {
		return 0, false, err
	}
	if ct.RowsAffected() == 0 {
		return 0, false, nil // duplicate: rollback via defer
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return after, true, nil
}
