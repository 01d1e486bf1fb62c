package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/dev-tams/archivekit/internal/storage/blob"
)

type Outcome string

const (
	// OutcomeEmpty: nothing was older than the cutoff.
	OutcomeEmpty Outcome = "empty"
	// OutcomeCompleted: every selected record was archived and deleted.
	OutcomeCompleted Outcome = "completed"
	// OutcomeUploadFailed: the archive store answered with a status other
	// than 200. Nothing was deleted.
	OutcomeUploadFailed Outcome = "upload_failed"
	// OutcomePartiallyDeleted: the archive was written but a delete failed.
	// Records after the failing one are in both the table and the archive.
	OutcomePartiallyDeleted Outcome = "partially_deleted"
	// OutcomeFailed: selection, encoding or the upload call itself failed.
	OutcomeFailed Outcome = "failed"
)

var ErrUploadRejected = errors.New("archive upload was not acknowledged with status 200")

// DeleteError identifies the record that stopped the deletion loop.
type DeleteError struct {
	Index  int
	ItemID string
	Err    error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete item %q (#%d): %v", e.ItemID, e.Index, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

type Result struct {
	RunID    string
	Outcome  Outcome
	Cutoff   string
	Selected int
	Archived int
	Deleted  int
	Key      string
	Receipt  blob.Receipt
	Duration time.Duration
}

// OK reports whether the run left the table and the archive consistent.
func (r Result) OK() bool {
	return r.Outcome == OutcomeEmpty || r.Outcome == OutcomeCompleted
}

// Pending is the number of archived records still present in the table.
func (r Result) Pending() int {
	return r.Archived - r.Deleted
}

// Err turns soft outcomes into errors. It returns nil for OutcomeEmpty and
// OutcomeCompleted.
func (r Result) Err() error {
	switch r.Outcome {
	case OutcomeEmpty, OutcomeCompleted:
		return nil
	case OutcomeUploadFailed:
		return fmt.Errorf("%w: status %d for %s", ErrUploadRejected, r.Receipt.StatusCode, r.Key)
	case OutcomePartiallyDeleted:
		return fmt.Errorf("archived %d items to %s but deleted only %d", r.Archived, r.Key, r.Deleted)
	default:
		return fmt.Errorf("archive run %s", r.Outcome)
	}
}
