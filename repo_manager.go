package intake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	DB() *bun.DB
	Accounts() Accounts
	Migrate(ctx context.Context) error
	Close() error
}

type mngr struct {
	db       *bun.DB
	driver   string
	accounts Accounts
}

// NewRepositoryManager wraps an open bun.DB. driver selects the
// migration set and must match the DB dialect.
func NewRepositoryManager(db *bun.DB, driver string) RepositoryManager {
	return &mngr{
		db:       db,
		driver:   driver,
		accounts: NewAccountsRepository(db),
	}
}

// OpenDatabase opens a bun.DB for the given driver and DSN
func OpenDatabase(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqldb.SetMaxOpenConns(1)
		db := bun.NewDB(sqldb, sqlitedialect.New())
		if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	case DriverPostgres, "pgx", "postgresql":
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (m *mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if _, err := m.dialect(); err != nil {
		return err
	}

	return nil
}

func (m *mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *mngr) DB() *bun.DB {
	return m.db
}

func (m *mngr) Accounts() Accounts {
	return m.accounts
}

func (m *mngr) Close() error {
	return m.db.Close()
}

// Migrate applies the embedded goose migrations for the configured driver
func (m *mngr) Migrate(ctx context.Context) error {
	dialect, err := m.dialect()
	if err != nil {
		return err
	}

	fsys, err := MigrationsFor(dialect)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, m.db.DB, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func (m *mngr) dialect() (goose.Dialect, error) {
	switch strings.ToLower(m.driver) {
	case DriverSQLite, "sqlite3":
		return goose.DialectSQLite3, nil
	case DriverPostgres, "pgx", "postgresql":
		return goose.DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", m.driver)
	}
}
