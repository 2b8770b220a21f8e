// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of the [Store] interface.
type SQLiteStore struct {
	db *sql.DB
}

// connPragmas are applied by the driver to every new connection of the pool.
var connPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// NewSQLiteStore creates a new [SQLiteStore] and connects to the database.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, err
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS subscribers (
			chat_id TEXT PRIMARY KEY,
			chat_name TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			chat_id TEXT NOT NULL REFERENCES subscribers (chat_id),
			topic TEXT NOT NULL,
			subscribed INTEGER NOT NULL,
			PRIMARY KEY (chat_id, topic)
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteStore{db: db}, nil
}

func withPragmas(dsn string) string {
	params := make(url.Values)
	for _, p := range connPragmas {
		params.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + params.Encode()
}

// Get retrieves a subscriber by chat ID.
func (s *SQLiteStore) Get(ctx context.Context, chatID string) (*Subscriber, error) {
	sub := &Subscriber{ChatID: chatID}
	if err := s.db.QueryRowContext(ctx, `
		SELECT chat_name FROM subscribers WHERE chat_id = ?;
	`, chatID).Scan(&sub.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, subscribed FROM subscriptions WHERE chat_id = ?;
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
func (s *SQLiteStore) Scan(ctx context.Context) ([]*Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
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
			topic        sql.NullString
			on           sql.NullBool
		)
		if err := rows.Scan(&chatID, &name, &topic, &on); err != nil {
			return nil, err
		}
		subs = appendRow(subs, chatID, name, topic.String, topic.Valid, on.Bool)
	}
	return subs, rows.Err()
}

// appendRow folds one row of a subscribers/subscriptions join ordered by chat
// ID into subs.
func appendRow(subs []*Subscriber, chatID, name, topic string, hasTopic, on bool) []*Subscriber {
	if len(subs) == 0 || subs[len(subs)-1].ChatID != chatID {
		subs = append(subs, &Subscriber{ChatID: chatID, Name: name})
	}
	if hasTopic {
		last := subs[len(subs)-1]
		if last.Topics == nil {
			last.Topics = make(map[string]bool)
		}
		last.Topics[topic] = on
	}
	return subs
}

// Update changes attributes of a subscriber in a single transaction.
func (s *SQLiteStore) Update(ctx context.Context, chatID string, u Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if u.Name != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscribers (chat_id, chat_name) VALUES (?, ?)
			ON CONFLICT (chat_id) DO UPDATE SET chat_name = excluded.chat_name;
		`, chatID, *u.Name)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscribers (chat_id) VALUES (?)
			ON CONFLICT (chat_id) DO NOTHING;
		`, chatID)
	}
	if err != nil {
		return err
	}

	for topic, on := range u.Topics {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (chat_id, topic, subscribed) VALUES (?, ?, ?)
			ON CONFLICT (chat_id, topic) DO UPDATE SET subscribed = excluded.subscribed;
		`, chatID, topic, on); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
