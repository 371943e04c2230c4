// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archgw/archgw/internal/json"
)

// dbTimeout bounds every database round trip.
const dbTimeout = 5 * time.Second

// PostgresStore persists conversation state in the conversation_states
// table. The schema is managed externally:
//
//	conversation_states(response_id text primary key, input_items jsonb,
//	    created_at bigint, model text, provider text,
//	    updated_at timestamptz default now())
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to the given DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Put(ctx context.Context, state *ConversationState) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	items, err := json.Marshal(state.InputItems)
	if err != nil {
		return fmt.Errorf("failed to marshal input items: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_states (response_id, input_items, created_at, model, provider, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (response_id) DO UPDATE SET
			input_items = EXCLUDED.input_items,
			created_at = EXCLUDED.created_at,
			model = EXCLUDED.model,
			provider = EXCLUDED.provider,
			updated_at = now()`,
		state.ResponseID, items, state.CreatedAt, state.Model, state.Provider)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation state %s: %w", state.ResponseID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, responseID string) (*ConversationState, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	var (
		items []byte
		out   = ConversationState{ResponseID: responseID}
	)
	err := s.pool.QueryRow(ctx, `
		SELECT input_items, created_at, model, provider
		FROM conversation_states WHERE response_id = $1`, responseID).
		Scan(&items, &out.CreatedAt, &out.Model, &out.Provider)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation state %s: %w", responseID, err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &out.InputItems); err != nil {
			return nil, fmt.Errorf("corrupt input items for %s: %w", responseID, err)
		}
	}
	return &out, nil
}

func (s *PostgresStore) Exists(ctx context.Context, responseID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_states WHERE response_id = $1)`, responseID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation state %s: %w", responseID, err)
	}
	return exists, nil
}

func (s *PostgresStore) Delete(ctx context.Context, responseID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM conversation_states WHERE response_id = $1`, responseID); err != nil {
		return fmt.Errorf("failed to delete conversation state %s: %w", responseID, err)
	}
	return nil
}
