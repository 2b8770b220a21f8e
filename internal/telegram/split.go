// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf16"

	"golang.org/x/net/html"
)

// piece is the smallest unit a message can be split between: a single
// character or a tag.
type piece struct {
	raw string
	// width is the length in UTF-16 code units after entity parsing, which
	// is what Telegram counts against maxMessageLen. Tags have zero width.
	width   int
	space   bool
	newline bool
	open    string // tag name of a start tag
	close   string // tag name of an end tag
}

func runePiece(r rune, raw string) piece {
	w := utf16.RuneLen(r)
	if w < 0 {
		w = 1
	}
	return piece{
		raw:     raw,
		width:   w,
		space:   unicode.IsSpace(r),
		newline: r == '\n',
	}
}

func textPieces(text string) []piece {
	ps := make([]piece, 0, len(text))
	for _, r := range text {
		ps = append(ps, runePiece(r, string(r)))
	}
	return ps
}

func htmlPieces(text string) []piece {
	ps := make([]piece, 0, len(text))
	z := html.NewTokenizer(strings.NewReader(text))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return ps
		}
		// TagName lowercases the token buffer in place.
		raw := string(z.Raw())
		switch tt {
		case html.TextToken:
			for _, r := range string(z.Text()) {
				ps = append(ps, runePiece(r, html.EscapeString(string(r))))
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			ps = append(ps, piece{raw: raw, open: string(name)})
		case html.EndTagToken:
			name, _ := z.TagName()
			ps = append(ps, piece{raw: raw, close: string(name)})
		default:
			ps = append(ps, piece{raw: raw})
		}
	}
}

// splitMessage splits text into chunks Telegram accepts. Chunks end at the
// last newline or whitespace before the limit when there is one.
//
// If isHTML is set, text is treated as Telegram HTML: tags open at a split
// point are closed at the end of the chunk and reopened at the start of the
// next one, and entities are never cut.
func splitMessage(text string, isHTML bool) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var ps []piece
	if isHTML {
		ps = htmlPieces(text)
	} else {
		ps = textPieces(text)
	}
	if visibleWidth(ps) <= maxMessageLen {
		return []string{text}
	}

	var (
		chunks []string
		open   []piece
	)
	for len(ps) > 0 {
		end, next, still := cut(ps, open)
		if body := trimSpace(ps[:end]); visibleWidth(body) > 0 {
			chunks = append(chunks, render(open, body, still))
		}
		ps, open = trimLeadingSpace(ps[next:]), still
	}
	return chunks
}

// cut returns where the first chunk of ps ends, where the rest starts and
// which tags are open at that point. open holds tags left open by previous
// chunks.
func cut(ps, open []piece) (end, next int, still []piece) {
	var (
		width        int
		stack        = slices.Clone(open)
		lastNewline  = -1
		lastSpace    = -1
		newlineStack []piece
		spaceStack   []piece
	)
	for i, p := range ps {
		if width+p.width > maxMessageLen {
			switch {
			case lastNewline > 0:
				return lastNewline, lastNewline + 1, newlineStack
			case lastSpace > 0:
				return lastSpace, lastSpace + 1, spaceStack
			}
			return i, i, stack
		}
		width += p.width
		stack = applyTag(stack, p)
		switch {
		case p.newline:
			lastNewline, newlineStack = i, slices.Clone(stack)
		case p.space:
			lastSpace, spaceStack = i, slices.Clone(stack)
		}
	}
	return len(ps), len(ps), stack
}

func applyTag(stack []piece, p piece) []piece {
	switch {
	case p.open != "":
		return append(stack, p)
	case p.close != "":
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].open == p.close {
				return stack[:i]
			}
		}
	}
	return stack
}

func render(open, body, still []piece) string {
	var sb strings.Builder
	for _, p := range open {
		sb.WriteString(p.raw)
	}
	for _, p := range body {
		sb.WriteString(p.raw)
	}
	for i := len(still) - 1; i >= 0; i-- {
		sb.WriteString("</" + still[i].open + ">")
	}
	return sb.String()
}

func visibleWidth(ps []piece) int {
	var n int
	for _, p := range ps {
		n += p.width
	}
	return n
}

func trimSpace(ps []piece) []piece {
	for len(ps) > 0 && ps[len(ps)-1].space {
		ps = ps[:len(ps)-1]
	}
	return trimLeadingSpace(ps)
}

func trimLeadingSpace(ps []piece) []piece {
	for len(ps) > 0 && ps[0].space {
		ps = ps[1:]
	}
	return ps
}
