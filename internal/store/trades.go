// internal/store/trades.go
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hakimelghazi/confidential-book/internal/engine"
	"github.com/hakimelghazi/confidential-book/internal/settlement"
)

// u64 columns are NUMERIC(20,0): BIGINT cannot hold the full unsigned range.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id           UUID PRIMARY KEY,
	pair_id      NUMERIC(20,0) NOT NULL,
	buyer_id     UUID          NOT NULL,
	seller_id    UUID          NOT NULL,
	price        NUMERIC(20,0) NOT NULL,
	quantity     NUMERIC(20,0) NOT NULL,
	executed_at  NUMERIC(20,0) NOT NULL,
	created_at   TIMESTAMPTZ   NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settlement_instructions (
	trade_id     UUID PRIMARY KEY REFERENCES trades(id),
	base_amount  NUMERIC(20,0) NOT NULL,
	quote_amount NUMERIC(20,0) NOT NULL,
	settled      BOOLEAN       NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS trades_pair_buyer  ON trades (pair_id, buyer_id);
CREATE INDEX IF NOT EXISTS trades_pair_seller ON trades (pair_id, seller_id);
`

type TradeRecord struct {
	ID          uuid.UUID `json:"id"`
	PairID      uint64    `json:"pair_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Price       uint64    `json:"price"`
	Quantity    uint64    `json:"quantity"`
	ExecutedAt  uint64    `json:"executed_at"`
	QuoteAmount *uint64   `json:"quote_amount,omitempty"` // nil when no instruction was recorded
}

// Store journals trades and their settlement instructions for the ledger.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// PersistTrades writes the batch in one transaction. A trade whose quote
// amount overflows is still recorded, without a settlement instruction.
func (s *Store) PersistTrades(ctx context.Context, pairID uint64, trades []engine.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, tr := range trades {
		if err := insertTrade(ctx, tx, pairID, tr); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, pairID uint64, tr engine.Trade) error {
	tradeID, err := newUUID()
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trades (id, pair_id, buyer_id, seller_id, price, quantity, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tradeID,
		numericFromUint64(pairID),
		pgUUID(tr.BuyerID),
		pgUUID(tr.SellerID),
		numericFromUint64(tr.Price),
		numericFromUint64(tr.Quantity),
		numericFromUint64(tr.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	ins, err := settlement.FromTrade(pairID, tr)
	if errors.Is(err, settlement.ErrMathOverflow) {
		log.Printf("[store] pair %d: trade %s left unsettled: %v", pairID, uuid.UUID(tradeID.Bytes), err)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO settlement_instructions (trade_id, base_amount, quote_amount)
		VALUES ($1, $2, $3)`,
		tradeID,
		numericFromUint64(ins.BaseAmount),
		numericFromUint64(ins.QuoteAmount),
	)
	if err != nil {
		return fmt.Errorf("insert settlement instruction: %w", err)
	}
	return nil
}

// ListTrades returns the trader's most recent trades on a pair, as buyer or seller.
func (s *Store) ListTrades(ctx context.Context, pairID uint64, trader engine.TraderID, limit int) ([]TradeRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.pair_id::text, t.buyer_id, t.seller_id, t.price::text,
		       t.quantity::text, t.executed_at::text, s.quote_amount::text
		FROM trades t
		LEFT JOIN settlement_instructions s ON s.trade_id = t.id
		WHERE t.pair_id = $1 AND (t.buyer_id = $2 OR t.seller_id = $2)
		ORDER BY t.executed_at DESC, t.created_at DESC
		LIMIT $3`,
		numericFromUint64(pairID), pgUUID(trader), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	out := make([]TradeRecord, 0)
	for rows.Next() {
		var (
			id, buyer, seller          pgtype.UUID
			pair, price, qty, executed string
			quote                      pgtype.Text
		)
		if err := rows.Scan(&id, &pair, &buyer, &seller, &price, &qty, &executed, &quote); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec, err := toRecord(id, buyer, seller, pair, price, qty, executed, quote)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func toRecord(id, buyer, seller pgtype.UUID, pair, price, qty, executed string, quote pgtype.Text) (TradeRecord, error) {
	var rec TradeRecord
	var err error
	rec.ID = uuid.UUID(id.Bytes)
	rec.BuyerID = uuid.UUID(buyer.Bytes)
	rec.SellerID = uuid.UUID(seller.Bytes)
	if rec.PairID, err = parseUint(pair); err != nil {
		return TradeRecord{}, err
	}
	if rec.Price, err = parseUint(price); err != nil {
		return TradeRecord{}, err
	}
	if rec.Quantity, err = parseUint(qty); err != nil {
		return TradeRecord{}, err
	}
	if rec.ExecutedAt, err = parseUint(executed); err != nil {
		return TradeRecord{}, err
	}
	if quote.Valid {
		q, err := parseUint(quote.String)
		if err != nil {
			return TradeRecord{}, err
		}
		rec.QuoteAmount = &q
	}
	return rec, nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode numeric %q: %w", s, err)
	}
	return v, nil
}

func newUUID() (pgtype.UUID, error) {
	uid, err := uuid.NewRandom()
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgUUID(uid), nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func numericFromUint64(v uint64) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   new(big.Int).SetUint64(v),
		Valid: true,
	}
}
