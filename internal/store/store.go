// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements the subscriber preference store.
//
// A preference store keeps one record per chat: a display name and a boolean
// subscription flag per topic. Records are created implicitly by the first
// [Store.Update] and are never deleted.
package store

import (
	"context"
	"maps"
)

// Subscriber is a chat that can opt in to daily articles.
type Subscriber struct {
	ChatID string          `json:"chat_id"`
	Name   string          `json:"name,omitempty"`
	Topics map[string]bool `json:"topics,omitempty"`
}

// Subscribed reports whether the subscriber opted in to the topic.
func (s *Subscriber) Subscribed(topic string) bool {
	if s == nil {
		return false
	}
	return s.Topics[topic]
}

// Active reports whether any of the subscriber's flags is set.
func (s *Subscriber) Active() bool {
	for _, on := range s.Topics {
		if on {
			return true
		}
	}
	return false
}

// Update describes attributes changed by [Store.Update]. Attributes not
// mentioned keep their stored values.
type Update struct {
	// Name, if not nil, replaces the display name.
	Name *string
	// Topics sets the flags of the listed topics.
	Topics map[string]bool
}

func (u Update) apply(s *Subscriber) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if len(u.Topics) > 0 && s.Topics == nil {
		s.Topics = make(map[string]bool, len(u.Topics))
	}
	maps.Copy(s.Topics, u.Topics)
}

// Store is a subscriber preference store.
type Store interface {
	// Get returns the subscriber with the given chat ID.
	// It must return (nil, nil) if the subscriber is not found.
	Get(ctx context.Context, chatID string) (*Subscriber, error)
	// Scan returns all stored subscribers, including ones with no flags set.
	Scan(ctx context.Context) ([]*Subscriber, error)
	// Update changes attributes of the subscriber in one write, creating it if
	// necessary.
	Update(ctx context.Context, chatID string, u Update) error
	// Close closes the store and releases any resources.
	Close() error
}

func clone(s *Subscriber) *Subscriber {
	c := *s
	c.Topics = maps.Clone(s.Topics)
	return &c
}
