// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"slices"
	"strings"

	"go.astrophena.name/visnyk/internal/util/syncx"
)

// MemStore is an in-memory implementation of the [Store] interface.
type MemStore struct {
	subs *syncx.Protected[map[string]*Subscriber]
}

// NewMemStore creates a new empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{subs: syncx.Protect(make(map[string]*Subscriber))}
}

// Get retrieves a subscriber by chat ID.
func (s *MemStore) Get(_ context.Context, chatID string) (*Subscriber, error) {
	var sub *Subscriber
	s.subs.RAccess(func(m map[string]*Subscriber) {
		if found, ok := m[chatID]; ok {
			// Return a copy to prevent the caller from mutating the store.
			sub = clone(found)
		}
	})
	return sub, nil
}

// Scan returns all subscribers ordered by chat ID.
func (s *MemStore) Scan(_ context.Context) ([]*Subscriber, error) {
	var subs []*Subscriber
	s.subs.RAccess(func(m map[string]*Subscriber) {
		for _, sub := range m {
			subs = append(subs, clone(sub))
		}
	})
	slices.SortFunc(subs, func(a, b *Subscriber) int { return strings.Compare(a.ChatID, b.ChatID) })
	return subs, nil
}

// Update changes attributes of a subscriber.
func (s *MemStore) Update(_ context.Context, chatID string, u Update) error {
	s.subs.Access(func(m map[string]*Subscriber) {
		sub, ok := m[chatID]
		if !ok {
			sub = &Subscriber{ChatID: chatID}
			m[chatID] = sub
		}
		u.apply(sub)
	})
	return nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }
