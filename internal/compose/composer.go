package compose

import (
	"github.com/msgblast/msgblast-go/internal/api"
)

// Target names one of the composer's two buffers.
type Target string

const (
	TargetMessage Target = "message"
	TargetCaption Target = "caption"
)

// Composer manages the message and caption buffers and tracks which one
// last had focus, because placeholder insertion must land in the buffer
// the user is actually editing.
type Composer struct {
	message *Buffer
	caption *Buffer
	active  Target
}

// NewComposer creates a Composer with two empty buffers and no focus.
func NewComposer() *Composer {
	return &Composer{
		message: NewBuffer(),
		caption: NewBuffer(),
	}
}

// Message returns the message buffer.
func (c *Composer) Message() *Buffer {
	return c.message
}

// Caption returns the caption buffer.
func (c *Composer) Caption() *Buffer {
	return c.caption
}

// Focus marks t as the active buffer.
func (c *Composer) Focus(t Target) {
	if t == TargetMessage || t == TargetCaption {
		c.active = t
	}
}

// Blur clears focus; insertion is rejected until a buffer is focused
// again.
func (c *Composer) Blur() {
	c.active = ""
}

// Active returns the focused buffer's name, "" when none.
func (c *Composer) Active() Target {
	return c.active
}

// InsertPlaceholder inserts the literal {{field}} token at the active
// buffer's cursor, leaving the cursor right after the token.
func (c *Composer) InsertPlaceholder(field string) error {
	buf := c.activeBuffer()
	if buf == nil {
		return ErrNoActiveBuffer
	}
	buf.Insert("{{" + field + "}}")
	return nil
}

// ToggleFormat applies f to the selection of the named buffer.
func (c *Composer) ToggleFormat(t Target, f Format) error {
	buf := c.buffer(t)
	if buf == nil {
		return ErrNoActiveBuffer
	}
	return buf.ToggleFormat(f)
}

// Reset clears both buffers and the focus, the post-send state.
func (c *Composer) Reset() {
	c.message.SetText("")
	c.caption.SetText("")
	c.active = ""
}

// BuildMessages produces one outbound message per entry of the
// comma-separated numbers list, in input order, duplicates preserved.
// When a recipient table row matches a number, placeholders in message
// and caption resolve against it; otherwise the generic text is sent
// untouched.
func (c *Composer) BuildMessages(numbers string, table *RecipientTable, countryCode string) []api.OutboundMessage {
	messageText := c.message.Text()
	captionText := c.caption.Text()

	list := SplitNumbers(numbers)
	out := make([]api.OutboundMessage, 0, len(list))
	for _, number := range list {
		cleaned := CleanNumber(number)
		formatted := FormatNumber(cleaned, countryCode)

		text := messageText
		caption := captionText
		if !table.Empty() {
			if row := table.FindByPhone(cleaned); row != nil {
				if text != "" {
					text = ReplacePlaceholders(text, row)
				}
				if caption != "" {
					caption = ReplacePlaceholders(caption, row)
				}
			}
		}

		out = append(out, api.OutboundMessage{
			Number:  formatted,
			Text:    text,
			Caption: caption,
		})
	}
	return out
}

func (c *Composer) activeBuffer() *Buffer {
	return c.buffer(c.active)
}

func (c *Composer) buffer(t Target) *Buffer {
	switch t {
	case TargetMessage:
		return c.message
	case TargetCaption:
		return c.caption
	default:
		return nil
	}
}
