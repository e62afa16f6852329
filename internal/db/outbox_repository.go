package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
)

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(database *PostgresDB) *OutboxRepository {
	return &OutboxRepository{db: database.Conn}
}

// Enqueue stores messages in their own transaction. Duplicate dedupe keys
// are ignored.
func (r *OutboxRepository) Enqueue(ctx context.Context, messages ...outbox.Message) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return insertOutbox(ctx, tx, messages)
	})
}

func insertOutbox(ctx context.Context, tx *sql.Tx, messages []outbox.Message) error {
	query := `
		INSERT INTO outbox_events (dedupe_key, exchange, routing_key, correlation_id, payload, headers)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedupe_key) DO NOTHING
	`
	for _, m := range messages {
		headers, err := json.Marshal(m.Headers)
		if err != nil {
			return fmt.Errorf("failed to marshal outbox headers: %w", err)
		}
		if m.Headers == nil {
			headers = []byte("{}")
		}
		_, err = tx.ExecContext(ctx, query, m.DedupeKey, m.Exchange, m.RoutingKey, m.CorrelationID, m.Payload, headers)
		if err != nil {
			return fmt.Errorf("failed to insert outbox event %s: %w", m.DedupeKey, err)
		}
	}
	return nil
}

// ProcessPending locks up to limit unpublished messages, hands each to fn in
// insertion order and marks the ones fn accepted as published. Processing
// stops at the first error so ordering is kept; that error is returned after
// the accepted prefix is committed. Concurrent relays skip each other's rows.
func (r *OutboxRepository) ProcessPending(ctx context.Context, limit int, fn func(context.Context, outbox.Message) error) (int, error) {
	published := 0
	var publishErr error
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			SELECT id, dedupe_key, exchange, routing_key, correlation_id, payload, headers, created_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`
		rows, err := tx.QueryContext(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("failed to query outbox: %w", err)
		}

		var pending []outbox.Message
		for rows.Next() {
			var m outbox.Message
			var headers []byte
			if err := rows.Scan(&m.ID, &m.DedupeKey, &m.Exchange, &m.RoutingKey, &m.CorrelationID, &m.Payload, &headers, &m.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan outbox event: %w", err)
			}
			if len(headers) > 0 {
				if err := json.Unmarshal(headers, &m.Headers); err != nil {
					rows.Close()
					return fmt.Errorf("failed to decode outbox headers: %w", err)
				}
			}
			pending = append(pending, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate outbox: %w", err)
		}

		var ids []int64
		for _, m := range pending {
			if publishErr = fn(ctx, m); publishErr != nil {
				break
			}
			ids = append(ids, m.ID)
		}

		if len(ids) > 0 {
			_, err := tx.ExecContext(ctx,
				`UPDATE outbox_events SET published_at = NOW() WHERE id = ANY($1)`,
				pq.Array(ids),
			)
			if err != nil {
				return fmt.Errorf("failed to mark outbox events published: %w", err)
			}
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, publishErr
}
