package archive

import (
	"context"
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 form records carry in their timestamp
// attribute. The cutoff must use the same layout because the table compares
// the two as plain strings.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Record is one table item, kept exactly as the table returned it.
type Record map[string]any

// ID returns the value of the key attribute formatted for logs.
func (r Record) ID(keyAttr string) string {
	v, ok := r[keyAttr]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Cursor is an opaque continuation token owned by the Table that produced
// it. A nil Cursor starts a scan; a nil Page.Next ends it.
type Cursor any

type Page struct {
	Records []Record
	Next    Cursor
}

// Table is the primary store the job drains.
type Table interface {
	// Scan returns one page of records whose timestamp attribute is strictly
	// less than cutoff.
	Scan(ctx context.Context, cutoff string, cursor Cursor) (Page, error)
	Delete(ctx context.Context, rec Record) error
}

// Cutoff returns now minus maxAge in TimestampLayout.
func Cutoff(now time.Time, maxAge time.Duration) string {
	return now.Add(-maxAge).UTC().Format(TimestampLayout)
}
