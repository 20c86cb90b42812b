package intake

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"

	// DefaultPublicPath is where the local store is served from
	DefaultPublicPath = "/uploads"
)

// FileStore stores uploaded bytes and hands back a locator. The locator
// is persisted with the document and resolved to a fetchable URL on demand.
type FileStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	URL(ctx context.Context, locator string) (string, error)
}

// StorageKey builds a unique object key for an account upload, keeping
// the original file extension.
func StorageKey(accountID uuid.UUID, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("accounts/%s/%d/%02d/%s%s", accountID, now.Year(), now.Month(), uuid.NewString(), ext)
}

// LocalFileStore writes files below a directory served under PublicPath
type LocalFileStore struct {
	root       string
	publicPath string
}

// NewLocalFileStore creates root if needed
func NewLocalFileStore(root, publicPath string) (*LocalFileStore, error) {
	if root == "" {
		return nil, goerrors.New("storage directory is required", goerrors.CategoryBadInput)
	}
	if publicPath == "" {
		publicPath = DefaultPublicPath
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create storage directory")
	}
	return &LocalFileStore{
		root:       root,
		publicPath: "/" + strings.Trim(publicPath, "/"),
	}, nil
}

// Root returns the directory files are written to
func (s *LocalFileStore) Root() string {
	return s.root
}

// PublicPath returns the URL prefix files are served under
func (s *LocalFileStore) PublicPath() string {
	return s.publicPath
}

func (s *LocalFileStore) Put(ctx context.Context, key, _ string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store file")
	}
	if err := os.WriteFile(target, body, 0o644); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store file")
	}

	return path.Join(s.publicPath, clean), nil
}

// URL returns the public path, local locators are already fetchable
func (s *LocalFileStore) URL(_ context.Context, locator string) (string, error) {
	if !strings.HasPrefix(locator, s.publicPath+"/") {
		return "", withMessage(ErrDocumentNotFound, "Unknown document locator")
	}
	return locator, nil
}

func cleanKey(key string) (string, error) {
	clean := path.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", withMessage(ErrInvalidUpload, "Invalid storage key")
	}
	return clean, nil
}
