// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package sender defines a transport-agnostic message delivery interface.
package sender

import "context"

// Sender delivers messages to chats.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a transport-agnostic outgoing message.
type Message struct {
	ChatID string
	Text   string
	// ParseMode selects how the transport interprets markup in Text, for
	// example "HTML". Empty means plain text.
	ParseMode string
}

// ParseModeHTML marks message text as HTML.
const ParseModeHTML = "HTML"
