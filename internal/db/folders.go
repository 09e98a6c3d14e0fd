package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// FolderStore resolves folder paths to row identifiers, lazily creating the
// hierarchy. The in-memory cache is a performance optimization only: the
// unique index on folders.full_path is the authoritative guard against
// duplicate rows, so correctness survives concurrent creation of the same
// path.
type FolderStore struct {
	pool  *pgxpool.Pool
	log   *logrus.Logger
	cache map[string]int64
}

// NewFolderStore creates a folder resolver over the given pool.
func NewFolderStore(pool *pgxpool.Pool, log *logrus.Logger) *FolderStore {
	return &FolderStore{
		pool:  pool,
		log:   log,
		cache: make(map[string]int64),
	}
}

// Resolve returns the folder id for fullPath, creating the folder and any
// missing ancestors. Resolving the same path twice returns the same id and
// creates at most one row per path segment.
//
// For example, fullPath "INBOX/🎧 Deezer" with delimiter "/" ensures rows for
// "INBOX" and "INBOX/🎧 Deezer" exist, with parent_id linking them.
func (s *FolderStore) Resolve(ctx context.Context, fullPath, delimiter string) (int64, error) {
	if id, ok := s.cache[fullPath]; ok {
		return id, nil
	}

	parts := []string{fullPath}
	if delimiter != "" && strings.Contains(fullPath, delimiter) {
		parts = strings.Split(fullPath, delimiter)
	}

	var parentID *int64
	accumulated := ""

	for _, part := range parts {
		if accumulated != "" {
			accumulated += delimiter + part
		} else {
			accumulated = part
		}

		if id, ok := s.cache[accumulated]; ok {
			cached := id
			parentID = &cached
			continue
		}

		var id int64
		err := withRetry(ctx, s.log, "folder resolve", func() error {
			var err error
			id, err = s.getOrCreate(ctx, part, accumulated, parentID, delimiter)
			return err
		})
		if err != nil {
			return 0, err
		}

		s.cache[accumulated] = id
		created := id
		parentID = &created
	}

	return s.cache[fullPath], nil
}

func (s *FolderStore) getOrCreate(ctx context.Context, name, fullPath string, parentID *int64, delimiter string) (int64, error) {
	var id int64
	var storedDelimiter *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, delimiter FROM folders WHERE full_path = $1
	`, fullPath).Scan(&id, &storedDelimiter)
	if err == nil {
		// Differing hierarchies are never merged silently: the path string is
		// the identity, and a delimiter mismatch is only reported.
		if storedDelimiter != nil && delimiter != "" && *storedDelimiter != delimiter {
			s.log.Warnf("Folder %q listed with delimiter %q but stored with %q", fullPath, delimiter, *storedDelimiter)
		}
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up folder %s: %w", fullPath, err)
	}

	var delim *string
	if delimiter != "" {
		delim = &delimiter
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO folders (name, full_path, parent_id, delimiter)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (full_path) DO NOTHING
		RETURNING id
	`, name, fullPath, parentID, delim).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to create folder %s: %w", fullPath, err)
	}

	// Another writer created the row between our lookup and insert; the
	// unique index swallowed the insert, so read the winner's id.
	err = s.pool.QueryRow(ctx, `
		SELECT id FROM folders WHERE full_path = $1
	`, fullPath).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to re-read folder %s after conflict: %w", fullPath, err)
	}

	return id, nil
}
