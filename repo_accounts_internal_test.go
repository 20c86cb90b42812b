package intake

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func TestCurrentStatusQuery(t *testing.T) {
	id := uuid.New()

	t.Run("postgres locks the row", func(t *testing.T) {
		// sql.Open does not connect, the query is only rendered
		sqldb, err := sql.Open("pgx", "postgres://intake@localhost:5432/intake?sslmode=disable")
		require.NoError(t, err)
		db := bun.NewDB(sqldb, pgdialect.New())
		t.Cleanup(func() { _ = db.Close() })

		query := currentStatusQuery(db, id).String()
		assert.Contains(t, query, "FOR UPDATE")
		assert.Contains(t, query, id.String())
	})

	t.Run("sqlite reads without locking", func(t *testing.T) {
		db, err := OpenDatabase(DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		query := currentStatusQuery(db, id).String()
		assert.NotContains(t, query, "FOR UPDATE")
		assert.Contains(t, query, "verification_status")
	})
}
