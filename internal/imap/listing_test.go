package imap

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseListing(t *testing.T) {
	tests := []struct {
		name          string
		entry         ListingEntry
		wantDropped   bool
		wantErr       bool
		wantName      string
		wantDelimiter string
		wantAttrs     []string
	}{
		{
			name:          "plain line with quoted name",
			entry:         ListingEntry{Line: `(\HasNoChildren) "/" "INBOX/Subfolder"`},
			wantName:      "INBOX/Subfolder",
			wantDelimiter: "/",
			wantAttrs:     []string{`\HasNoChildren`},
		},
		{
			name:          "plain line with unquoted name",
			entry:         ListingEntry{Line: `(\HasNoChildren) "." INBOX.Subfolder`},
			wantName:      "INBOX.Subfolder",
			wantDelimiter: ".",
			wantAttrs:     []string{`\HasNoChildren`},
		},
		{
			name:          "NIL delimiter",
			entry:         ListingEntry{Line: `(\Noselect) NIL "INBOX"`},
			wantName:      "INBOX",
			wantDelimiter: "",
			wantAttrs:     []string{`\Noselect`},
		},
		{
			name:          "unquoted single character delimiter",
			entry:         ListingEntry{Line: `(\HasChildren) / "Archive"`},
			wantName:      "Archive",
			wantDelimiter: "/",
			wantAttrs:     []string{`\HasChildren`},
		},
		{
			name:          "multiple attributes",
			entry:         ListingEntry{Line: `(\HasNoChildren \Marked) "/" "Sent"`},
			wantName:      "Sent",
			wantDelimiter: "/",
			wantAttrs:     []string{`\HasNoChildren`, `\Marked`},
		},
		{
			name: "two-part literal form",
			entry: ListingEntry{
				Line:    `(\HasNoChildren) "/" {5}`,
				Literal: []byte("INBOX"),
			},
			wantName:      "INBOX",
			wantDelimiter: "/",
			wantAttrs:     []string{`\HasNoChildren`},
		},
		{
			name: "literal name containing spaces",
			entry: ListingEntry{
				Line:    `(\HasNoChildren) "/" {12}`,
				Literal: []byte("My Projects!"),
			},
			wantName:      "My Projects!",
			wantDelimiter: "/",
			wantAttrs:     []string{`\HasNoChildren`},
		},
		{
			name:        "empty entry is dropped silently",
			entry:       ListingEntry{Line: ""},
			wantDropped: true,
		},
		{
			name:        "whitespace-only entry is dropped silently",
			entry:       ListingEntry{Line: "   "},
			wantDropped: true,
		},
		{
			name:    "unterminated attribute list",
			entry:   ListingEntry{Line: `(\HasNoChildren "/" "INBOX"`},
			wantErr: true,
		},
		{
			name:    "unterminated delimiter quote",
			entry:   ListingEntry{Line: `(\HasNoChildren) "/ INBOX`},
			wantErr: true,
		},
		{
			name:    "missing mailbox name",
			entry:   ListingEntry{Line: `(\HasNoChildren) "/"`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, ok, err := ParseListing(tt.entry)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got %+v", listing)
				}
				if !errors.Is(err, ErrMalformedListing) {
					t.Errorf("Expected ErrMalformedListing, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if tt.wantDropped {
				if ok {
					t.Fatalf("Expected entry to be dropped, got %+v", listing)
				}
				return
			}
			if !ok {
				t.Fatal("Expected a listing, entry was dropped")
			}

			if listing.Name != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, listing.Name)
			}
			if listing.Delimiter != tt.wantDelimiter {
				t.Errorf("Expected delimiter %q, got %q", tt.wantDelimiter, listing.Delimiter)
			}
			if len(listing.Attributes) != len(tt.wantAttrs) {
				t.Fatalf("Expected %d attributes, got %v", len(tt.wantAttrs), listing.Attributes)
			}
			for i, attr := range tt.wantAttrs {
				if listing.Attributes[i] != attr {
					t.Errorf("Expected attribute %d to be %q, got %q", i, attr, listing.Attributes[i])
				}
			}
		})
	}
}

func TestNormalizeListings(t *testing.T) {
	log := logrus.New()

	t.Run("mixture of shapes matches all-canonical result", func(t *testing.T) {
		mixed := []ListingEntry{
			{Line: `(\HasNoChildren) "/" "INBOX"`},
			{Line: ""},
			{Line: `(\HasChildren) "/" {7}`, Literal: []byte("Finance")},
			{Line: `(\HasNoChildren) "/" "INBOX/Receipts"`},
		}
		canonical := []ListingEntry{
			{Line: `(\HasNoChildren) "/" "INBOX"`},
			{Line: `(\HasChildren) "/" "Finance"`},
			{Line: `(\HasNoChildren) "/" "INBOX/Receipts"`},
		}

		gotMixed, warnings := NormalizeListings(mixed, log)
		if warnings != 0 {
			t.Errorf("Expected 0 warnings, got %d", warnings)
		}
		gotCanonical, _ := NormalizeListings(canonical, log)

		if len(gotMixed) != len(gotCanonical) {
			t.Fatalf("Expected %d listings, got %d", len(gotCanonical), len(gotMixed))
		}
		for i := range gotMixed {
			if gotMixed[i].Name != gotCanonical[i].Name || gotMixed[i].Delimiter != gotCanonical[i].Delimiter {
				t.Errorf("Listing %d: expected %+v, got %+v", i, gotCanonical[i], gotMixed[i])
			}
		}
	})

	t.Run("one bad entry never loses the rest", func(t *testing.T) {
		entries := []ListingEntry{
			{Line: `(\HasNoChildren) "/" "INBOX"`},
			{Line: `(\Broken "/" "Nope"`},
			{Line: `(\HasNoChildren) "/" "Sent"`},
		}

		listings, warnings := NormalizeListings(entries, log)
		if warnings != 1 {
			t.Errorf("Expected 1 warning, got %d", warnings)
		}
		if len(listings) != 2 {
			t.Fatalf("Expected 2 listings, got %d", len(listings))
		}
		if listings[0].Name != "INBOX" || listings[1].Name != "Sent" {
			t.Errorf("Expected INBOX and Sent, got %q and %q", listings[0].Name, listings[1].Name)
		}
	})
}

func TestDecodeMailboxName(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		want    string
	}{
		{"plain ASCII passes through", "INBOX", "INBOX"},
		{"modified UTF-7 emoji", "&2Dzfpw- Deezer", "🎧 Deezer"},
		{"modified UTF-7 accents", "Bo&AO4-tes", "Boîtes"},
		{"escaped ampersand", "Tom &- Jerry", "Tom & Jerry"},
		{"invalid encoding returns input unchanged", "&invalid*-", "&invalid*-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeMailboxName(tt.encoded); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
