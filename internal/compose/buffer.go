// Package compose implements the personalized-message composer: plain
// text buffers with cursor and selection, WhatsApp-style inline
// formatting, placeholder templating, and the per-recipient fan-out.
package compose

import (
	"errors"
	"strings"
)

var (
	// ErrNoActiveBuffer guides the user to focus a buffer before
	// inserting a variable.
	ErrNoActiveBuffer = errors.New("focus the message or caption field to insert variables")
	// ErrNoSelection guides the user to select text before formatting.
	ErrNoSelection = errors.New("select the text you want to format")
)

// Format is an inline formatting style.
type Format string

const (
	Bold   Format = "bold"
	Italic Format = "italic"
)

// Buffer is an editable text buffer with an explicit cursor and
// selection, both byte offsets into Text. It replaces the DOM
// selection/range model: formatting and insertion work purely on
// offsets and strings.
type Buffer struct {
	text string
	// cursor is the insertion point.
	cursor int
	// selStart/selEnd delimit the selection; equal offsets mean no
	// selection.
	selStart int
	selEnd   int
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Text returns the buffer contents.
func (b *Buffer) Text() string {
	return b.text
}

// SetText replaces the contents and collapses cursor and selection to
// the end.
func (b *Buffer) SetText(text string) {
	b.text = text
	b.cursor = len(text)
	b.selStart, b.selEnd = b.cursor, b.cursor
}

// Cursor returns the insertion point.
func (b *Buffer) Cursor() int {
	return b.cursor
}

// SetCursor moves the insertion point, clamped to the text bounds, and
// clears the selection.
func (b *Buffer) SetCursor(pos int) {
	b.cursor = clamp(pos, 0, len(b.text))
	b.selStart, b.selEnd = b.cursor, b.cursor
}

// Select marks [start, end) as selected, clamped and reordered as
// needed. The cursor follows the selection end.
func (b *Buffer) Select(start, end int) {
	start = clamp(start, 0, len(b.text))
	end = clamp(end, 0, len(b.text))
	if start > end {
		start, end = end, start
	}
	b.selStart, b.selEnd = start, end
	b.cursor = end
}

// Selection returns the selected text, "" when nothing is selected.
func (b *Buffer) Selection() string {
	return b.text[b.selStart:b.selEnd]
}

// Insert places s at the cursor and moves the cursor immediately after
// it.
func (b *Buffer) Insert(s string) {
	b.text = b.text[:b.cursor] + s + b.text[b.cursor:]
	b.cursor += len(s)
	b.selStart, b.selEnd = b.cursor, b.cursor
}

// ReplaceSelection swaps the selected text for s, leaving the cursor
// after the replacement.
func (b *Buffer) ReplaceSelection(s string) {
	b.text = b.text[:b.selStart] + s + b.text[b.selEnd:]
	b.cursor = b.selStart + len(s)
	b.selStart, b.selEnd = b.cursor, b.cursor
}

// ToggleFormat applies f to the current selection using marker toggle
// semantics: a format already present on the selection is stripped, the
// other format being present combines both markers, neither present
// applies just the requested one. Presence is judged by substring
// inspection of the selection alone.
func (b *Buffer) ToggleFormat(f Format) error {
	selected := strings.TrimSpace(b.Selection())
	if selected == "" {
		return ErrNoSelection
	}

	hasBold := strings.Contains(selected, "*")
	hasItalic := strings.Contains(selected, "_")

	// Strip leading/trailing markers so reapplying never nests them.
	clean := strings.Trim(selected, "*")
	clean = strings.Trim(clean, "_")

	var formatted string
	switch f {
	case Bold:
		switch {
		case hasBold:
			formatted = clean
		case hasItalic:
			formatted = "*_" + clean + "_*"
		default:
			formatted = "*" + clean + "*"
		}
	case Italic:
		switch {
		case hasItalic:
			formatted = clean
		case hasBold:
			formatted = "*_" + clean + "_*"
		default:
			formatted = "_" + clean + "_"
		}
	default:
		formatted = clean
	}

	b.ReplaceSelection(formatted)
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
