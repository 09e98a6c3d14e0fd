package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/mailvault/mailvault/internal/decoder"
)

// auditLog appends one CSV row per inserted message, for external
// reconciliation of long runs. The file is opened in append mode so
// re-running the export extends the same log.
type auditLog struct {
	file   *os.File
	writer *csv.Writer
}

var auditHeader = []string{"message_id", "date_sent", "sender_address", "subject", "full_path"}

func openAuditLog(path string) (*auditLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	log := &auditLog{file: file, writer: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		if err := log.writer.Write(auditHeader); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		log.writer.Flush()
	}

	return log, nil
}

// Record appends one row for an inserted message and flushes it, so the log
// stays useful even if the run is interrupted.
func (l *auditLog) Record(msg *decoder.Message, fullPath string) error {
	dateSent := ""
	if msg.DateSent != nil {
		dateSent = msg.DateSent.Format("2006-01-02T15:04:05Z07:00")
	}

	if err := l.writer.Write([]string{msg.MessageID, dateSent, msg.SenderAddress, msg.Subject, fullPath}); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

func (l *auditLog) Close() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
