// Package migrations embeds the SQL schema migrations so both the CLI and
// the test helpers can apply them without a checkout-relative path.
package migrations

import (
	"embed"
	"fmt"
	"sort"
)

//go:embed *.up.sql
var files embed.FS

// Migration is one schema migration, identified by its filename.
type Migration struct {
	Name string
	SQL  string
}

// All returns every embedded migration sorted by filename, which encodes the
// execution order.
func All() ([]Migration, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		content, err := files.ReadFile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{
			Name: entry.Name(),
			SQL:  string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})

	return migrations, nil
}
