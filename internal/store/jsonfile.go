// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"strings"

	"crawshaw.dev/jsonfile"
)

// JSONFile is a file-backed implementation of the [Store] interface.
type JSONFile struct {
	f *jsonfile.JSONFile[jsonStore]
}

type jsonStore struct {
	Subscribers map[string]*Subscriber `json:"subscribers"`
}

// NewJSONFile creates a new [JSONFile] backed by the file at path, creating
// the file if it doesn't exist.
func NewJSONFile(path string) (*JSONFile, error) {
	f, err := jsonfile.Load[jsonStore](path)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = jsonfile.New[jsonStore](path)
		if err == nil {
			err = f.Write(func(js *jsonStore) error {
				js.Subscribers = make(map[string]*Subscriber)
				return nil
			})
		}
	}
	if err != nil {
		return nil, err
	}
	return &JSONFile{f: f}, nil
}

// Get retrieves a subscriber by chat ID.
func (s *JSONFile) Get(_ context.Context, chatID string) (*Subscriber, error) {
	var sub *Subscriber
	s.f.Read(func(js *jsonStore) {
		if found, ok := js.Subscribers[chatID]; ok {
			sub = clone(found)
		}
	})
	return sub, nil
}

// Scan returns all subscribers ordered by chat ID.
func (s *JSONFile) Scan(_ context.Context) ([]*Subscriber, error) {
	var subs []*Subscriber
	s.f.Read(func(js *jsonStore) {
		for _, sub := range js.Subscribers {
			subs = append(subs, clone(sub))
		}
	})
	slices.SortFunc(subs, func(a, b *Subscriber) int { return strings.Compare(a.ChatID, b.ChatID) })
	return subs, nil
}

// Update changes attributes of a subscriber and writes the file.
func (s *JSONFile) Update(_ context.Context, chatID string, u Update) error {
	return s.f.Write(func(js *jsonStore) error {
		if js.Subscribers == nil {
			js.Subscribers = make(map[string]*Subscriber)
		}
		sub, ok := js.Subscribers[chatID]
		if !ok {
			sub = &Subscriber{ChatID: chatID}
			js.Subscribers[chatID] = sub
		}
		u.apply(sub)
		return nil
	})
}

// Close closes the file store.
func (s *JSONFile) Close() error { return nil }
