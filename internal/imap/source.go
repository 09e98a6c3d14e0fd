package imap

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// Folder describes one selectable mailbox chosen for ingestion.
type Folder struct {
	// EncodedPath is the name used for SELECT, exactly as the server sent it
	// (possibly modified UTF-7).
	EncodedPath string
	// FullPath is the decoded Unicode path used for storage and display.
	FullPath  string
	Delimiter string
}

// Client wraps a logged-in IMAP connection as a message source.
type Client struct {
	c   *client.Client
	log *logrus.Logger
}

// NewClient creates a message source over an authenticated IMAP client.
func NewClient(c *client.Client, log *logrus.Logger) *Client {
	return &Client{c: c, log: log}
}

// ListEntries lists all mailboxes on the server as raw listing entries.
func (s *Client) ListEntries() ([]ListingEntry, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var entries []ListingEntry
	for m := range mailboxes {
		entries = append(entries, ListingEntry{Line: formatListingLine(m)})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return entries, nil
}

// formatListingLine renders a parsed mailbox into canonical LIST form so the
// listing normalizer sees the same shape regardless of transport.
func formatListingLine(m *imap.MailboxInfo) string {
	delimiter := "NIL"
	if m.Delimiter != "" {
		delimiter = `"` + m.Delimiter + `"`
	}
	return fmt.Sprintf(`(%s) %s "%s"`, strings.Join(m.Attributes, " "), delimiter, m.Name)
}

// Folders returns the mailboxes to process. filter is an optional
// comma-separated list of folder names (encoded or decoded); folders
// requested but not listed by the server are passed through as-is so a
// SELECT can still be attempted.
func (s *Client) Folders(filter string) ([]Folder, error) {
	entries, err := s.ListEntries()
	if err != nil {
		return nil, err
	}

	listings, warnings := NormalizeListings(entries, s.log)
	if warnings > 0 {
		s.log.Warnf("Ignored %d unparsable folder listing(s)", warnings)
	}

	all := make([]Folder, 0, len(listings))
	for _, listing := range listings {
		all = append(all, Folder{
			EncodedPath: listing.Name,
			FullPath:    DecodeMailboxName(listing.Name),
			Delimiter:   listing.Delimiter,
		})
	}

	if strings.TrimSpace(filter) == "" {
		return all, nil
	}

	var selected []Folder
	for _, requested := range strings.Split(filter, ",") {
		requested = strings.TrimSpace(requested)
		if requested == "" {
			continue
		}
		found := false
		for _, folder := range all {
			if folder.EncodedPath == requested || folder.FullPath == requested {
				selected = append(selected, folder)
				found = true
				break
			}
		}
		if !found {
			selected = append(selected, Folder{
				EncodedPath: requested,
				FullPath:    DecodeMailboxName(requested),
			})
		}
	}

	return selected, nil
}

// MessageCount selects a folder read-only and returns its message count.
// Folders that cannot be selected count as zero rather than failing the run.
func (s *Client) MessageCount(encodedPath string) (int, error) {
	mbox, err := s.c.Select(encodedPath, true)
	if err != nil {
		return 0, fmt.Errorf("failed to select folder %s: %w", encodedPath, err)
	}
	return int(mbox.Messages), nil
}

// Messages fetches every message in a folder in server order, in batches of
// batchSize, and calls fn with the raw RFC 822 bytes of each. A message the
// server returns no readable body for is yielded with nil raw so the caller
// can count it. Iteration stops early when fn returns an error or ctx is
// cancelled.
func (s *Client) Messages(ctx context.Context, encodedPath string, batchSize int, fn func(seqNum uint32, raw []byte) error) error {
	mbox, err := s.c.Select(encodedPath, true)
	if err != nil {
		return fmt.Errorf("failed to select folder %s: %w", encodedPath, err)
	}

	total := mbox.Messages
	if total == 0 {
		return nil
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	for start := uint32(1); start <= total; start += uint32(batchSize) {
		end := start + uint32(batchSize) - 1
		if end > total {
			end = total
		}

		seqSet := new(imap.SeqSet)
		seqSet.AddRange(start, end)

		messages := make(chan *imap.Message, batchSize)
		done := make(chan error, 1)

		go func() {
			done <- s.c.Fetch(seqSet, items, messages)
		}()

		var callbackErr error
		for msg := range messages {
			if callbackErr != nil {
				continue // drain the channel so the fetch goroutine can finish
			}
			if err := ctx.Err(); err != nil {
				callbackErr = err
				continue
			}

			body := msg.GetBody(section)
			if body == nil {
				s.log.Warnf("Server returned no body for message %d in %s", msg.SeqNum, encodedPath)
				callbackErr = fn(msg.SeqNum, nil)
				continue
			}
			raw, err := io.ReadAll(body)
			if err != nil {
				s.log.WithError(err).Warnf("Failed to read message %d in %s", msg.SeqNum, encodedPath)
				callbackErr = fn(msg.SeqNum, nil)
				continue
			}

			callbackErr = fn(msg.SeqNum, raw)
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch messages %d:%d from %s: %w", start, end, encodedPath, err)
		}
		if callbackErr != nil {
			return callbackErr
		}
	}

	return nil
}

// Logout closes the IMAP session.
func (s *Client) Logout() error {
	return s.c.Logout()
}
