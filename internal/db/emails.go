package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/mailvault/mailvault/internal/decoder"
)

// Outcome is the result of persisting one decoded message.
type Outcome int

const (
	// OutcomeInserted means the email and all its child rows were written.
	OutcomeInserted Outcome = iota
	// OutcomeSkipped means a row with the same (message_id, folder_id)
	// already exists; nothing was written.
	OutcomeSkipped
	// OutcomeFailed means the message could not be written; its partial rows
	// were rolled back.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Engine writes decoded messages and their child rows. Messages are staged
// into batches that commit as one transaction for throughput; each message
// is wrapped in a nested transaction (a savepoint) so a failure rolls back
// that message alone, never the rest of the batch.
type Engine struct {
	pool         *pgxpool.Pool
	log          *logrus.Logger
	skipExisting bool
}

// NewEngine creates a persistence engine. When skipExisting is true,
// re-ingesting a message already present in the same folder is a no-op
// reported as OutcomeSkipped.
func NewEngine(pool *pgxpool.Pool, log *logrus.Logger, skipExisting bool) *Engine {
	return &Engine{pool: pool, log: log, skipExisting: skipExisting}
}

// Batch is an open batch-level transaction.
type Batch struct {
	tx     pgx.Tx
	staged int
}

// Size returns the number of messages staged in this batch so far.
func (b *Batch) Size() int {
	return b.staged
}

// BeginBatch opens a new batch transaction, retrying transient failures.
func (e *Engine) BeginBatch(ctx context.Context) (*Batch, error) {
	var tx pgx.Tx
	err := withRetry(ctx, e.log, "batch begin", func() error {
		var err error
		tx, err = e.pool.Begin(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}
	return &Batch{tx: tx}, nil
}

// CommitBatch commits every message staged in the batch.
func (e *Engine) CommitBatch(ctx context.Context, b *Batch) error {
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch of %d message(s): %w", b.staged, err)
	}
	return nil
}

// RollbackBatch discards every message staged in the batch.
func (e *Engine) RollbackBatch(ctx context.Context, b *Batch) error {
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back batch: %w", err)
	}
	return nil
}

// Persist stages one decoded message into the batch. The email row and all
// its recipient, header, attachment and reference rows are written as one
// atomic unit: either every row for the message exists after the batch
// commits, or none do.
func (e *Engine) Persist(ctx context.Context, b *Batch, folderID int64, msg *decoder.Message, raw []byte) (Outcome, error) {
	if e.skipExisting && msg.MessageID != "" {
		var exists bool
		err := b.tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM emails WHERE message_id = $1 AND folder_id = $2)
		`, msg.MessageID, folderID).Scan(&exists)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to check for existing message: %w", err)
		}
		if exists {
			e.log.Debugf("Duplicate skipped: Message-ID=%s folder_id=%d", msg.MessageID, folderID)
			return OutcomeSkipped, nil
		}
	}

	// pgx nested transactions are savepoints: a failed message releases only
	// its own work, leaving earlier messages in the batch intact. The
	// savepoint rollback also makes the message safely retryable after a
	// transient failure such as a deadlock, without disturbing the batch.
	err := withRetry(ctx, e.log, "message insert", func() error {
		nested, err := b.tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin message savepoint: %w", err)
		}
		if err := insertMessage(ctx, nested, folderID, msg, raw); err != nil {
			_ = nested.Rollback(ctx)
			return err
		}
		if err := nested.Commit(ctx); err != nil {
			return fmt.Errorf("failed to release message savepoint: %w", err)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			e.log.Debugf("Duplicate skipped on unique constraint: Message-ID=%s folder_id=%d", msg.MessageID, folderID)
			return OutcomeSkipped, nil
		}
		return OutcomeFailed, err
	}

	b.staged++
	return OutcomeInserted, nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, folderID int64, msg *decoder.Message, raw []byte) error {
	var messageID *string
	if msg.MessageID != "" {
		messageID = &msg.MessageID
	}

	var emailID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO emails
			(message_id, folder_id, subject, sender_name, sender_address,
			 date_sent, in_reply_to, body_text, body_html, raw_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		messageID,
		folderID,
		nullIfEmpty(msg.Subject),
		nullIfEmpty(msg.SenderName),
		nullIfEmpty(msg.SenderAddress),
		msg.DateSent,
		nullIfEmpty(msg.InReplyTo),
		nullIfEmpty(msg.BodyText),
		nullIfEmpty(msg.BodyHTML),
		raw,
	).Scan(&emailID)
	if err != nil {
		return fmt.Errorf("failed to insert email: %w", err)
	}

	for position, referenced := range msg.References {
		if _, err := tx.Exec(ctx, `
			INSERT INTO email_references (email_id, referenced_message_id, position)
			VALUES ($1, $2, $3)
		`, emailID, referenced, position); err != nil {
			return fmt.Errorf("failed to insert reference %d: %w", position, err)
		}
	}

	for _, recipient := range msg.Recipients {
		if _, err := tx.Exec(ctx, `
			INSERT INTO recipients (email_id, role, name, address)
			VALUES ($1, $2, $3, $4)
		`, emailID, string(recipient.Role), nullIfEmpty(recipient.Name), nullIfEmpty(recipient.Address)); err != nil {
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
	}

	for _, header := range msg.Headers {
		if _, err := tx.Exec(ctx, `
			INSERT INTO headers (email_id, field_name, field_value)
			VALUES ($1, $2, $3)
		`, emailID, header.Name, nullIfEmpty(header.Value)); err != nil {
			return fmt.Errorf("failed to insert header %s: %w", header.Name, err)
		}
	}

	for _, attachment := range msg.Attachments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO attachments (email_id, filename, content_type, size)
			VALUES ($1, $2, $3, $4)
		`, emailID, nullIfEmpty(attachment.Filename), nullIfEmpty(attachment.ContentType), attachment.Size); err != nil {
			return fmt.Errorf("failed to insert attachment %s: %w", attachment.Filename, err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
