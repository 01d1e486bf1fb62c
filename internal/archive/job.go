package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dev-tams/archivekit/internal/storage"
)

type Options struct {
	// MaxAge is how old a record must be before it is archived.
	MaxAge time.Duration
	// Prefix is prepended to archive keys.
	Prefix string
	// KeyAttribute names the attribute used in logs and delete errors.
	KeyAttribute string
	Encode       EncodeOptions
	// Now defaults to time.Now.
	Now func() time.Time
}

// Job moves stale records from a Table into a single archive object and then
// removes them from the Table. A Job holds no state between runs.
type Job struct {
	table  Table
	store  storage.Storage
	opts   Options
	logger *zap.Logger
}

func NewJob(table Table, store storage.Storage, opts Options, logger *zap.Logger) *Job {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{table: table, store: store, opts: opts, logger: logger}
}

// Run performs one pass: select, upload, delete. Selection is held entirely in
// memory before anything is written.
//
// An upload answered with a status other than 200 ends the run with
// OutcomeUploadFailed and a nil error. A failed delete stops the loop and
// returns OutcomePartiallyDeleted together with a *DeleteError.
func (j *Job) Run(ctx context.Context) (Result, error) {
	started := j.opts.Now()
	res := Result{Cutoff: Cutoff(started, j.opts.MaxAge)}
	log := j.logger.With(zap.String("cutoff", res.Cutoff))

	records, err := j.selectRecords(ctx, res.Cutoff)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Duration = j.opts.Now().Sub(started)
		return res, fmt.Errorf("select records: %w", err)
	}
	res.Selected = len(records)

	if len(records) == 0 {
		log.Info("No items to archive.")
		res.Outcome = OutcomeEmpty
		res.Duration = j.opts.Now().Sub(started)
		return res, nil
	}

	res.Key = ArchiveKey(j.opts.Prefix, j.opts.Now(), j.opts.Encode)
	log = log.With(zap.String("key", res.Key))

	if ce := log.Check(zap.DebugLevel, "selected items"); ce != nil {
		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.ID(j.opts.KeyAttribute)
		}
		ce.Write(zap.Int("count", len(ids)), zap.Strings("item_ids", ids))
	}

	obj, err := Encode(res.Key, records, j.opts.Encode)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Duration = j.opts.Now().Sub(started)
		return res, err
	}

	rcpt, err := j.store.Put(ctx, obj, func(loaded, total int64) {
		log.Debug("uploading archive", zap.Int64("loaded", loaded), zap.Int64("total", total))
	})
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Duration = j.opts.Now().Sub(started)
		return res, fmt.Errorf("upload archive %s: %w", res.Key, err)
	}
	res.Receipt = rcpt

	if !rcpt.OK() {
		log.Error("failed to upload archive",
			zap.String("storage", j.store.Name()),
			zap.Any("receipt", rcpt),
		)
		res.Outcome = OutcomeUploadFailed
		res.Duration = j.opts.Now().Sub(started)
		return res, nil
	}

	res.Archived = len(records)
	log.Info("archived items",
		zap.Int("count", res.Archived),
		zap.String("location", rcpt.Location),
		zap.Int64("bytes", rcpt.Bytes),
	)

	for i, rec := range records {
		if err := j.table.Delete(ctx, rec); err != nil {
			derr := &DeleteError{Index: i, ItemID: rec.ID(j.opts.KeyAttribute), Err: err}
			res.Outcome = OutcomePartiallyDeleted
			res.Duration = j.opts.Now().Sub(started)
			log.Error("delete failed, remaining items stay in the table and the archive",
				zap.String("item_id", derr.ItemID),
				zap.Int("deleted", res.Deleted),
				zap.Int("pending", res.Pending()),
				zap.Error(err),
			)
			return res, derr
		}
		res.Deleted++
	}

	res.Outcome = OutcomeCompleted
	res.Duration = j.opts.Now().Sub(started)
	log.Info("deleted archived items from table", zap.Int("count", res.Deleted))
	return res, nil
}

func (j *Job) selectRecords(ctx context.Context, cutoff string) ([]Record, error) {
	var (
		records []Record
		cursor  Cursor
		pages   int
	)
	for {
		page, err := j.table.Scan(ctx, cutoff, cursor)
		if err != nil {
			return nil, fmt.Errorf("scan page %d: %w", pages+1, err)
		}
		pages++
		records = append(records, page.Records...)

		if page.Next == nil {
			break
		}
		cursor = page.Next
	}

	j.logger.Debug("scan finished", zap.Int("pages", pages), zap.Int("items", len(records)))
	return records, nil
}
