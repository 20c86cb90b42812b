package intake_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/goliatone/go-intake"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageKey(t *testing.T) {
	id := uuid.MustParse("6f1c2a7e-8d43-4b8e-9a51-2f1d6c0e7b3a")
	now := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)

	key := intake.StorageKey(id, "Scan.PDF", now)
	pattern := regexp.MustCompile(`^accounts/6f1c2a7e-8d43-4b8e-9a51-2f1d6c0e7b3a/2026/02/[0-9a-f-]{36}\.pdf$`)
	assert.Regexp(t, pattern, key)

	assert.NotEqual(t, key, intake.StorageKey(id, "Scan.PDF", now), "keys are unique per call")
}

func TestLocalFileStore(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "nested", "uploads")

	store, err := intake.NewLocalFileStore(root, "files/")
	require.NoError(t, err)
	assert.Equal(t, "/files", store.PublicPath())

	t.Run("put writes below root", func(t *testing.T) {
		locator, err := store.Put(ctx, "accounts/a/doc.png", "image/png", pngFixture)
		require.NoError(t, err)
		assert.Equal(t, "/files/accounts/a/doc.png", locator)

		data, err := os.ReadFile(filepath.Join(root, "accounts", "a", "doc.png"))
		require.NoError(t, err)
		assert.Equal(t, pngFixture, data)

		url, err := store.URL(ctx, locator)
		require.NoError(t, err)
		assert.Equal(t, locator, url)
	})

	t.Run("keys can not escape root", func(t *testing.T) {
		locator, err := store.Put(ctx, "../../escape.png", "image/png", pngFixture)
		require.NoError(t, err)
		assert.Equal(t, "/files/escape.png", locator)
		_, err = os.Stat(filepath.Join(root, "escape.png"))
		assert.NoError(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := store.Put(ctx, "", "image/png", pngFixture)
		assert.True(t, intake.HasTextCode(err, intake.TextCodeInvalidUpload))
	})

	t.Run("foreign locator", func(t *testing.T) {
		_, err := store.URL(ctx, "s3://bucket/key")
		assert.True(t, intake.HasTextCode(err, intake.TextCodeDocumentNotFound))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Put(cctx, "late.png", "image/png", pngFixture)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("root is required", func(t *testing.T) {
		_, err := intake.NewLocalFileStore("", "")
		assert.Error(t, err)
	})
}

func TestMigrationsFor(t *testing.T) {
	for _, dialect := range []goose.Dialect{goose.DialectSQLite3, goose.DialectPostgres} {
		fsys, err := intake.MigrationsFor(dialect)
		require.NoError(t, err)

		entries, err := fs.Glob(fsys, "*.sql")
		require.NoError(t, err)
		assert.NotEmpty(t, entries, string(dialect))
	}

	_, err := intake.MigrationsFor(goose.DialectMySQL)
	assert.Error(t, err)
}
