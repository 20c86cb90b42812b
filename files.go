package intake

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// MigrationsFor returns the goose migration set of one dialect, rooted so
// the SQL files sit at the top level
func MigrationsFor(dialect goose.Dialect) (fs.FS, error) {
	var dir string
	switch dialect {
	case goose.DialectSQLite3:
		dir = "data/sql/migrations/sqlite"
	case goose.DialectPostgres:
		dir = "data/sql/migrations/postgres"
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
	return fs.Sub(migrationsFS, dir)
}
