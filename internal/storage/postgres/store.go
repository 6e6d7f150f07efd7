package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chainSync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS contract_events (
	chain_id     BIGINT      NOT NULL,
	address      TEXT        NOT NULL,
	event        TEXT        NOT NULL,
	block_number BIGINT      NOT NULL,
	block_hash   TEXT        NOT NULL,
	tx_hash      TEXT        NOT NULL,
	log_index    BIGINT      NOT NULL,
	args         JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, tx_hash, log_index)
);
CREATE TABLE IF NOT EXISTS event_decode_errors (
	chain_id     BIGINT      NOT NULL,
	address      TEXT        NOT NULL,
	event        TEXT        NOT NULL,
	block_number BIGINT      NOT NULL,
	tx_hash      TEXT        NOT NULL,
	log_index    BIGINT      NOT NULL,
	topic0       TEXT        NOT NULL,
	error        TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, tx_hash, log_index)
);
`

// Store exports event records to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the export tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutEvents inserts records, ignoring ones already exported.
func (s *Store) PutEvents(ctx context.Context, records []model.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		args, err := argsJSON(r)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO contract_events (
				chain_id, address, event, block_number, block_hash, tx_hash, log_index, args
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(r.ChainID),
			r.Address,
			r.Event,
			int64(r.BlockNumber),
			r.BlockHash,
			r.TxHash,
			int64(r.LogIndex),
			args,
		)
	}
	return s.send(ctx, batch, len(records))
}

// PutDecodeErrors inserts decode failures, keeping the first one per log.
func (s *Store) PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error {
	if len(errs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range errs {
		batch.Queue(`
			INSERT INTO event_decode_errors (
				chain_id, address, event, block_number, tx_hash, log_index, topic0, error
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(e.ChainID),
			e.Address,
			e.Event,
			int64(e.BlockNumber),
			e.TxHash,
			int64(e.LogIndex),
			e.Topic0,
			e.Error,
		)
	}
	return s.send(ctx, batch, len(errs))
}

func (s *Store) send(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// argsJSON keys arguments by name, falling back to their position for unnamed ones.
func argsJSON(r model.EventRecord) ([]byte, error) {
	out := make(map[string]any, len(r.Args))
	for i, v := range r.Args {
		name := ""
		if i < len(r.ArgNames) {
			name = r.ArgNames[i]
		}
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		out[name] = model.FormatArg(v)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal event args: %w", err)
	}
	return data, nil
}
