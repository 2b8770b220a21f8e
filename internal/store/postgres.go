// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of the [Store] interface.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore and connects to the database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscribers (
			chat_id TEXT PRIMARY KEY,
			chat_name TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS subscriptions (
			chat_id TEXT NOT NULL REFERENCES subscribers (chat_id),
			topic TEXT NOT NULL,
			subscribed BOOLEAN NOT NULL,
			PRIMARY KEY (chat_id, topic)
		);
	`); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Get retrieves a subscriber by chat ID.
func (s *PostgresStore) Get(ctx context.Context, chatID string) (*Subscriber, error) {
	sub := &Subscriber{ChatID: chatID}
	if err := s.pool.QueryRow(ctx, `
		SELECT chat_name FROM subscribers WHERE chat_id = $1;
	`, chatID).Scan(&sub.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT topic, subscribed FROM subscriptions WHERE chat_id = $1;
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			topic string
			on    bool
		)
		if err := rows.Scan(&topic, &on); err != nil {
			return nil, err
		}
		if sub.Topics == nil {
			sub.Topics = make(map[string]bool)
		}
		sub.Topics[topic] = on
	}
	return sub, rows.Err()
}

// Scan returns all subscribers ordered by chat ID.
func (s *PostgresStore) Scan(ctx context.Context) ([]*Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.chat_id, s.chat_name, t.topic, t.subscribed
		FROM subscribers s
		LEFT JOIN subscriptions t ON t.chat_id = s.chat_id
		ORDER BY s.chat_id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		var (
			chatID, name string
			topic        *string
			on           *bool
		)
		if err := rows.Scan(&chatID, &name, &topic, &on); err != nil {
			return nil, err
		}
		if topic != nil && on != nil {
			subs = appendRow(subs, chatID, name, *topic, true, *on)
		} else {
			subs = appendRow(subs, chatID, name, "", false, false)
		}
	}
	return subs, rows.Err()
}

// Update changes attributes of a subscriber in a single transaction.
func (s *PostgresStore) Update(ctx context.Context, chatID string, u Update) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if u.Name != nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO subscribers (chat_id, chat_name) VALUES ($1, $2)
				ON CONFLICT (chat_id) DO UPDATE SET chat_name = EXCLUDED.chat_name;
			`, chatID, *u.Name)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO subscribers (chat_id) VALUES ($1)
				ON CONFLICT (chat_id) DO NOTHING;
			`, chatID)
		}
		if err != nil {
			return err
		}

		for topic, on := range u.Topics {
			if _, err := tx.Exec(ctx, `
				INSERT INTO subscriptions (chat_id, topic, subscribed) VALUES ($1, $2, $3)
				ON CONFLICT (chat_id, topic) DO UPDATE SET subscribed = EXCLUDED.subscribed;
			`, chatID, topic, on); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
