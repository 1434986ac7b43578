package compose

import (
	"github.com/spf13/cast"

	"github.com/msgblast/msgblast-go/internal/api"
)

// phoneField is the required column naming a row's phone number.
const phoneField = "phone_numbers"

// RecipientTable holds a parsed recipient table as returned by the
// backend's CSV upload: ordered headers and header-keyed rows.
type RecipientTable struct {
	Headers []string
	Rows    []map[string]any
}

// NewRecipientTable builds a table from an upload response.
func NewRecipientTable(resp *api.CSVUploadResponse) *RecipientTable {
	return &RecipientTable{
		Headers: resp.Headers,
		Rows:    resp.Data,
	}
}

// Empty reports whether there is any row to personalize from.
func (t *RecipientTable) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// FindByPhone returns the first row whose phone_numbers field, cleaned
// the same way as input numbers, equals cleaned. nil when no row
// matches.
func (t *RecipientTable) FindByPhone(cleaned string) map[string]any {
	if t == nil {
		return nil
	}
	for _, row := range t.Rows {
		rowPhone := CleanNumber(cast.ToString(row[phoneField]))
		if rowPhone == cleaned {
			return row
		}
	}
	return nil
}
