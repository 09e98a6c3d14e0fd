// Package pipeline drives the ingestion run: folder enumeration and
// resolution, the per-folder counting phase, and the decode/persist loop
// with batch commit boundaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/mailvault/mailvault/internal/db"
	"github.com/mailvault/mailvault/internal/decoder"
	"github.com/mailvault/mailvault/internal/imap"
)

// Source is the mail store the pipeline reads from.
type Source interface {
	// Folders returns the mailboxes to process, optionally restricted by a
	// comma-separated filter.
	Folders(filter string) ([]imap.Folder, error)
	// MessageCount returns the number of messages in a folder.
	MessageCount(encodedPath string) (int, error)
	// Messages yields the raw bytes of every message in a folder in server
	// order; a message with no readable body is yielded with nil raw. It
	// stops early when fn returns an error or ctx is cancelled.
	Messages(ctx context.Context, encodedPath string, batchSize int, fn func(seqNum uint32, raw []byte) error) error
}

// Stats summarizes one pipeline run. Counters are owned by the single
// worker; they are returned, never shared.
type Stats struct {
	Folders       int
	Total         int
	Processed     int
	Inserted      int
	Skipped       int
	FetchErrors   int
	DecodeErrors  int
	PersistErrors int
}

// Options configures a pipeline run.
type Options struct {
	// FolderFilter optionally restricts the run to a comma-separated list of
	// folder names.
	FolderFilter string
	// BatchSize is both the FETCH batch size and the number of messages per
	// commit.
	BatchSize int
	// CSVLogPath, when set, appends one audit row per inserted message.
	CSVLogPath string
	// ShowProgress renders terminal progress bars.
	ShowProgress bool
}

// Pipeline wires the source, the folder resolver and the persistence engine
// into a sequential single-worker run.
type Pipeline struct {
	source  Source
	folders *db.FolderStore
	engine  *db.Engine
	log     *logrus.Logger
	opts    Options
}

// New creates a pipeline.
func New(source Source, folders *db.FolderStore, engine *db.Engine, log *logrus.Logger, opts Options) *Pipeline {
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	return &Pipeline{
		source:  source,
		folders: folders,
		engine:  engine,
		log:     log,
		opts:    opts,
	}
}

// folderInfo is one folder with its resolved id and message count, produced
// by the counting phase.
type folderInfo struct {
	folder   imap.Folder
	folderID int64
	count    int
}

// Run executes the full ingestion: list folders, resolve and count them,
// then ingest folder by folder. A single bad message never aborts the run;
// cancellation finishes or rolls back the in-flight message and commits the
// completed part of the batch before returning.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	folders, err := p.source.Folders(p.opts.FolderFilter)
	if err != nil {
		return stats, fmt.Errorf("failed to enumerate folders: %w", err)
	}
	if len(folders) == 0 {
		p.log.Warn("No folders to process")
		return stats, nil
	}

	// Phase 1: resolve folder ids and count messages for progress totals.
	infos := make([]folderInfo, 0, len(folders))
	for _, folder := range folders {
		folderID, err := p.folders.Resolve(ctx, folder.FullPath, folder.Delimiter)
		if err != nil {
			return stats, fmt.Errorf("failed to resolve folder %s: %w", folder.FullPath, err)
		}

		count, err := p.source.MessageCount(folder.EncodedPath)
		if err != nil {
			p.log.WithError(err).Warnf("Unable to select folder %q, skipping", folder.FullPath)
			count = 0
		}

		infos = append(infos, folderInfo{folder: folder, folderID: folderID, count: count})
		stats.Total += count
	}
	stats.Folders = len(infos)
	p.log.Infof("Total: %d message(s) across %d folder(s)", stats.Total, stats.Folders)

	var audit *auditLog
	if p.opts.CSVLogPath != "" {
		audit, err = openAuditLog(p.opts.CSVLogPath)
		if err != nil {
			return stats, fmt.Errorf("failed to open CSV log: %w", err)
		}
		defer func() {
			if err := audit.Close(); err != nil {
				p.log.WithError(err).Warn("Failed to close CSV log")
			}
		}()
		p.log.Infof("Logging inserted emails to CSV: %s", p.opts.CSVLogPath)
	}

	bar := p.newProgressBar(stats.Total)

	// Phase 2: ingest folder by folder, messages in server order.
	for _, info := range infos {
		if info.count == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		bar.Describe(info.folder.FullPath)
		if err := p.ingestFolder(ctx, info, &stats, audit, bar); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stats, err
			}
			p.log.WithError(err).Errorf("Folder %q aborted", info.folder.FullPath)
		}
	}

	_ = bar.Finish()
	return stats, nil
}

// ingestFolder runs the decode/persist loop over one folder. Batches commit
// every BatchSize staged messages; each message stays individually atomic
// inside its batch.
func (p *Pipeline) ingestFolder(ctx context.Context, info folderInfo, stats *Stats, audit *auditLog, bar *progressbar.ProgressBar) error {
	batch, err := p.engine.BeginBatch(ctx)
	if err != nil {
		return err
	}
	// Aborting mid-folder discards only messages staged since the last
	// commit boundary.
	defer func() {
		if batch != nil {
			_ = p.engine.RollbackBatch(context.WithoutCancel(ctx), batch)
		}
	}()

	err = p.source.Messages(ctx, info.folder.EncodedPath, p.opts.BatchSize, func(seqNum uint32, raw []byte) error {
		stats.Processed++
		_ = bar.Add(1)

		if raw == nil {
			stats.FetchErrors++
			p.log.Warnf("Skipping message %d in %q: no readable body", seqNum, info.folder.FullPath)
			return nil
		}

		msg, err := decoder.Decode(raw)
		if err != nil {
			stats.DecodeErrors++
			p.log.WithError(err).Warnf("Skipping undecodable message %d in %q", seqNum, info.folder.FullPath)
			return nil
		}

		outcome, err := p.engine.Persist(ctx, batch, info.folderID, msg, raw)
		switch outcome {
		case db.OutcomeInserted:
			stats.Inserted++
			if audit != nil {
				if err := audit.Record(msg, info.folder.FullPath); err != nil {
					p.log.WithError(err).Warn("Failed to write CSV log row")
				}
			}
		case db.OutcomeSkipped:
			stats.Skipped++
		case db.OutcomeFailed:
			stats.PersistErrors++
			p.log.WithError(err).Errorf("Failed to persist message %d (Message-ID=%q) in %q", seqNum, msg.MessageID, info.folder.FullPath)
		}

		if batch.Size() >= p.opts.BatchSize {
			if err := p.engine.CommitBatch(ctx, batch); err != nil {
				batch = nil
				return err
			}
			batch, err = p.engine.BeginBatch(ctx)
			if err != nil {
				batch = nil
				return err
			}
		}
		return nil
	})

	// Commit the completed messages staged so far, including on
	// cancellation: every staged message is a fully written unit.
	if batch != nil {
		commitCtx := ctx
		if err != nil {
			commitCtx = context.WithoutCancel(ctx)
		}
		if commitErr := p.engine.CommitBatch(commitCtx, batch); commitErr != nil {
			batch = nil
			if err == nil {
				err = commitErr
			} else {
				p.log.WithError(commitErr).Errorf("Failed to commit final batch for %q", info.folder.FullPath)
			}
		}
		batch = nil
	}

	return err
}

func (p *Pipeline) newProgressBar(total int) *progressbar.ProgressBar {
	if !p.opts.ShowProgress {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Total"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("msg"),
		progressbar.OptionClearOnFinish(),
	)
}
