package imap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/utf7"
	"github.com/sirupsen/logrus"
)

// ErrMalformedListing is returned for a LIST response that cannot be parsed
// structurally. Callers drop the entry and keep the rest of the listing.
var ErrMalformedListing = errors.New("malformed LIST response")

// ListingEntry is one raw LIST response as delivered by the mail store.
//
// Line holds the response text after the "* LIST" prefix. Literal, when
// non-nil, holds a mailbox name the server sent out-of-band as an IMAP
// literal; Line then ends with the {n} length marker instead of the name.
type ListingEntry struct {
	Line    string
	Literal []byte
}

// FolderListing is a canonical LIST entry: mailbox name (as sent by the
// server, possibly modified UTF-7), hierarchy delimiter (empty when the
// server reported NIL) and mailbox attributes.
type FolderListing struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// ParseListing parses one listing entry. The second return value is false
// when the entry is empty or absent; such entries are dropped without error.
//
// Three shapes are accepted:
//   - a plain response line: (\HasNoChildren) "/" "INBOX/Subfolder"
//   - a two-part literal: (\HasNoChildren) "/" {5} plus the name out-of-band
//   - an empty or absent entry
func ParseListing(entry ListingEntry) (FolderListing, bool, error) {
	line := entry.Line
	if entry.Literal != nil {
		line = substituteLiteral(line, entry.Literal)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return FolderListing{}, false, nil
	}

	listing, err := parseListLine(line)
	if err != nil {
		return FolderListing{}, false, err
	}
	return listing, true, nil
}

// substituteLiteral rebuilds a canonical response line from the two-part
// literal form: the {n} length marker at the end of the line is replaced by
// the quoted out-of-band name.
func substituteLiteral(line string, literal []byte) string {
	if idx := strings.LastIndex(line, "{"); idx != -1 {
		line = line[:idx]
	}
	return line + `"` + string(literal) + `"`
}

func parseListLine(line string) (FolderListing, error) {
	var listing FolderListing

	rest := line
	if strings.HasPrefix(rest, "(") {
		end := strings.Index(rest, ")")
		if end == -1 {
			return listing, fmt.Errorf("%w: unterminated attribute list in %q", ErrMalformedListing, line)
		}
		listing.Attributes = strings.Fields(rest[1:end])
		rest = strings.TrimSpace(rest[end+1:])
	}

	// Delimiter: quoted, NIL, or a bare single character.
	switch {
	case strings.HasPrefix(rest, `"`):
		end := strings.Index(rest[1:], `"`)
		if end == -1 {
			return listing, fmt.Errorf("%w: unterminated delimiter in %q", ErrMalformedListing, line)
		}
		listing.Delimiter = rest[1 : 1+end]
		rest = strings.TrimSpace(rest[end+2:])
	case strings.HasPrefix(strings.ToUpper(rest), "NIL"):
		rest = strings.TrimSpace(rest[3:])
	case rest != "":
		listing.Delimiter = rest[:1]
		rest = strings.TrimSpace(rest[1:])
	}

	name := strings.Trim(rest, `"`)
	if name == "" {
		return listing, fmt.Errorf("%w: missing mailbox name in %q", ErrMalformedListing, line)
	}
	listing.Name = name

	return listing, nil
}

// NormalizeListings converts raw listing entries into canonical form.
// Empty entries are silently dropped; structurally unparsable entries are
// logged as warnings and excluded. One bad entry never loses the rest, and
// the pass itself never fails.
func NormalizeListings(entries []ListingEntry, log *logrus.Logger) ([]FolderListing, int) {
	listings := make([]FolderListing, 0, len(entries))
	warnings := 0

	for _, entry := range entries {
		listing, ok, err := ParseListing(entry)
		if err != nil {
			warnings++
			if log != nil {
				log.WithError(err).Warnf("Skipping unparsable folder listing %q", entry.Line)
			}
			continue
		}
		if !ok {
			continue
		}
		listings = append(listings, listing)
	}

	return listings, warnings
}

// DecodeMailboxName decodes an IMAP modified UTF-7 mailbox name (RFC 3501)
// into Unicode, turning names like "&2Dzfpw- Deezer" into "🎧 Deezer".
// The original string is returned unchanged when decoding fails.
func DecodeMailboxName(name string) string {
	if !strings.Contains(name, "&") {
		return name
	}
	decoded, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return decoded
}
