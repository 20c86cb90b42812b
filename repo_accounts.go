package intake

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Accounts is the credential store. Child collections are appended with
// single inserts so concurrent writers never overwrite each other.
type Accounts interface {
	Create(ctx context.Context, account *Account) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Account, error)
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, filter AccountFilter) ([]*Account, error)
	CountByStatus(ctx context.Context, role Role) (map[VerificationStatus]int, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, changes AccountChanges) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, event *VerificationEvent, opts ...StatusUpdateOption) (StatusChange, error)
	AppendNote(ctx context.Context, note *VerificationNote) error
	AppendDocuments(ctx context.Context, accountID uuid.UUID, docs []*Document) error
	SetDocumentVerified(ctx context.Context, accountID, documentID uuid.UUID, verified bool) error
	// RunInTx runs fn against a store bound to one transaction. Any
	// error returned by fn rolls back every write made through it.
	RunInTx(ctx context.Context, fn func(ctx context.Context, accounts Accounts) error) error
}

// AccountFilter narrows List results. Zero values mean "any".
type AccountFilter struct {
	Role        Role
	Status      VerificationStatus
	Active      *bool
	NewestFirst bool
	Limit       int
	Offset      int
}

// AccountChanges is a partial update. Nil fields are left untouched.
type AccountChanges struct {
	FirstName *string
	LastName  *string
	Email     *string
	Profile   Profile
}

// IsEmpty reports whether the update writes nothing
func (c AccountChanges) IsEmpty() bool {
	return c.FirstName == nil && c.LastName == nil && c.Email == nil && c.Profile == nil
}

// StatusChange reports the outcome of UpdateStatus
type StatusChange struct {
	Applied bool
	From    VerificationStatus
}

// StatusUpdate holds the conditions checked by UpdateStatus inside its
// transaction
type StatusUpdate struct {
	Expect                   []VerificationStatus
	RequireVerifiedDocuments bool
}

// StatusUpdateOption sets a condition on a status update
type StatusUpdateOption func(*StatusUpdate)

// ExpectStatus only applies the update while the current status is one
// of statuses. No statuses means any.
func ExpectStatus(statuses ...VerificationStatus) StatusUpdateOption {
	return func(u *StatusUpdate) {
		u.Expect = append(u.Expect, statuses...)
	}
}

// RequireVerifiedDocuments fails the update with ErrDocumentsNotVerified
// unless the account has documents and all of them are verified
func RequireVerifiedDocuments() StatusUpdateOption {
	return func(u *StatusUpdate) {
		u.RequireVerifiedDocuments = true
	}
}

type accountsRepository struct {
	repository.Repository[*Account]
	db  bun.IDB
	now func() time.Time
}

var _ Accounts = (*accountsRepository)(nil)

// NewAccountsRepository returns the bun backed Accounts
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	return &accountsRepository{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (r *accountsRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, accounts Accounts) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &accountsRepository{
			Repository: r.Repository,
			db:         tx,
			now:        r.now,
		})
	})
}

func (r *accountsRepository) timestamp() time.Time {
	return r.now().UTC()
}

func (r *accountsRepository) Create(ctx context.Context, account *Account) (*Account, error) {
	if account == nil {
		return nil, goerrors.New("account is required", goerrors.CategoryBadInput)
	}

	account.Email = NormalizeEmail(account.Email)
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.VerificationStatus == "" {
		account.VerificationStatus = StatusPending
	}
	now := r.timestamp()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*Account)(nil)).
			Where("email = ?", account.Email).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEmail
		}

		if _, err := r.Repository.CreateTx(ctx, tx, account); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEmail
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err, "failed to create account")
	}

	account.Documents = []*Document{}
	account.VerificationHistory = []*VerificationEvent{}
	account.VerificationNotes = []*VerificationNote{}
	return account, nil
}

func (r *accountsRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	account := new(Account)
	err := r.selectFull(account).
		Where("acc.email = ?", NormalizeEmail(email)).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, ErrAccountNotFound, "failed to find account by email")
	}
	return account, nil
}

func (r *accountsRepository) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := r.Repository.GetByIdentifierTx(ctx, r.db, id.String(), withChildren)
	if err != nil {
		return nil, notFoundOr(err, ErrAccountNotFound, "failed to find account")
	}
	return account, nil
}

func (r *accountsRepository) selectFull(account *Account) *bun.SelectQuery {
	return withChildren(r.db.NewSelect().Model(account))
}

// withChildren loads the child collections in insertion order
func withChildren(q *bun.SelectQuery) *bun.SelectQuery {
	return q.
		Relation("Documents", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("seq ASC")
		}).
		Relation("VerificationHistory", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id ASC")
		}).
		Relation("VerificationNotes", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("id ASC")
		})
}

func (r *accountsRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Account, error) {
	if len(ids) == 0 {
		return []*Account{}, nil
	}

	var accounts []*Account
	err := r.db.NewSelect().
		Model(&accounts).
		Column("id", "email", "first_name", "last_name", "role").
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storageError(err, "failed to load accounts")
	}
	return accounts, nil
}

func (r *accountsRepository) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := r.db.NewSelect().
		Model((*Account)(nil)).
		Column("is_active").
		Where("id = ?", id).
		Scan(ctx, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storageError(err, "failed to check account state")
	}
	return active, nil
}

func (r *accountsRepository) List(ctx context.Context, filter AccountFilter) ([]*Account, error) {
	var accounts []*Account
	q := withChildren(r.db.NewSelect().Model(&accounts))

	if filter.Role != "" {
		q = q.Where("acc.role = ?", filter.Role)
	}
	if filter.Status != "" {
		q = q.Where("acc.verification_status = ?", filter.Status)
	}
	if filter.Active != nil {
		q = q.Where("acc.is_active = ?", *filter.Active)
	}
	if filter.NewestFirst {
		q = q.Order("acc.created_at DESC")
	} else {
		q = q.Order("acc.created_at ASC")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storageError(err, "failed to list accounts")
	}
	if accounts == nil {
		accounts = []*Account{}
	}
	return accounts, nil
}

func (r *accountsRepository) CountByStatus(ctx context.Context, role Role) (map[VerificationStatus]int, error) {
	var rows []struct {
		Status VerificationStatus `bun:"verification_status"`
		Count  int                `bun:"count"`
	}

	q := r.db.NewSelect().
		Model((*Account)(nil)).
		Column("verification_status").
		ColumnExpr("COUNT(*) AS count").
		Group("verification_status")
	if role != "" {
		q = q.Where("role = ?", role)
	}

	if err := q.Scan(ctx, &rows); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storageError(err, "failed to count accounts")
	}

	out := make(map[VerificationStatus]int, len(Statuses))
	for _, s := range Statuses {
		out[s] = 0
	}
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *accountsRepository) UpdateDetails(ctx context.Context, id uuid.UUID, changes AccountChanges) error {
	q := r.db.NewUpdate().
		Model((*Account)(nil)).
		Set("updated_at = ?", r.timestamp()).
		Where("id = ?", id)

	if changes.FirstName != nil {
		q = q.Set("first_name = ?", *changes.FirstName)
	}
	if changes.LastName != nil {
		q = q.Set("last_name = ?", *changes.LastName)
	}
	if changes.Email != nil {
		q = q.Set("email = ?", NormalizeEmail(*changes.Email))
	}
	if changes.Profile != nil {
		q = q.Set("profile = ?", ProfileEnvelope{Profile: changes.Profile})
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return storageError(err, "failed to update account")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountsRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Account)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", r.timestamp()).
		Where("id = ?", id).
		Where("is_active = ?", !active).
		Exec(ctx)
	if err != nil {
		return false, storageError(err, "failed to update account state")
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	if _, err := r.exists(ctx, r.db, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *accountsRepository) UpdateStatus(ctx context.Context, id uuid.UUID, event *VerificationEvent, opts ...StatusUpdateOption) (StatusChange, error) {
	var change StatusChange
	if event == nil || !event.Status.IsValid() {
		return change, ErrInvalidStatus
	}
	if event.ChangedAt.IsZero() {
		event.ChangedAt = r.timestamp()
	}
	event.AccountID = id

	update := StatusUpdate{}
	for _, opt := range opts {
		if opt != nil {
			opt(&update)
		}
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var current VerificationStatus
		if err := currentStatusQuery(tx, id).Scan(ctx, &current); err != nil {
			return notFoundOr(err, ErrAccountNotFound, "failed to read verification status")
		}
		change.From = current

		if len(update.Expect) > 0 && !containsStatus(update.Expect, current) {
			return nil
		}

		if update.RequireVerifiedDocuments {
			if err := requireVerifiedDocuments(ctx, tx, id); err != nil {
				return err
			}
		}

		res, err := tx.NewUpdate().
			Model((*Account)(nil)).
			Set("verification_status = ?", event.Status).
			Set("updated_at = ?", event.ChangedAt).
			Where("id = ?", id).
			Where("verification_status = ?", current).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		if _, err := tx.NewInsert().Model(event).Exec(ctx); err != nil {
			return err
		}
		change.Applied = true
		return nil
	})
	if err != nil {
		return StatusChange{}, storageError(err, "failed to update verification status")
	}
	return change, nil
}

// currentStatusQuery reads the status of one account. On postgres the
// row stays locked until the transaction ends, sqlite serializes writers
// on its own.
func currentStatusQuery(db bun.IDB, id uuid.UUID) *bun.SelectQuery {
	q := db.NewSelect().
		Model((*Account)(nil)).
		Column("verification_status").
		Where("id = ?", id)
	if db.Dialect().Name() == dialect.PG {
		q = q.For("UPDATE")
	}
	return q
}

func requireVerifiedDocuments(ctx context.Context, tx bun.IDB, accountID uuid.UUID) error {
	total, err := tx.NewSelect().
		Model((*Document)(nil)).
		Where("account_id = ?", accountID).
		Count(ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		return ErrDocumentsNotVerified
	}

	unverified, err := tx.NewSelect().
		Model((*Document)(nil)).
		Where("account_id = ?", accountID).
		Where("verified = ?", false).
		Exists(ctx)
	if err != nil {
		return err
	}
	if unverified {
		return ErrDocumentsNotVerified
	}
	return nil
}

func containsStatus(statuses []VerificationStatus, status VerificationStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r *accountsRepository) AppendNote(ctx context.Context, note *VerificationNote) error {
	if note == nil {
		return goerrors.New("note is required", goerrors.CategoryBadInput)
	}
	if note.AddedAt.IsZero() {
		note.AddedAt = r.timestamp()
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.touch(ctx, tx, note.AccountID, note.AddedAt); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(note).Exec(ctx)
		return err
	})
	return storageError(err, "failed to append note")
}

func (r *accountsRepository) AppendDocuments(ctx context.Context, accountID uuid.UUID, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	now := r.timestamp()
	for _, d := range docs {
		d.AccountID = accountID
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		if d.UploadedAt.IsZero() {
			d.UploadedAt = now
		}
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.touch(ctx, tx, accountID, now); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&docs).Exec(ctx)
		return err
	})
	return storageError(err, "failed to append documents")
}

func (r *accountsRepository) SetDocumentVerified(ctx context.Context, accountID, documentID uuid.UUID, verified bool) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Document)(nil)).
			Set("verified = ?", verified).
			Where("id = ?", documentID).
			Where("account_id = ?", accountID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := r.exists(ctx, tx, accountID); err != nil {
				return err
			}
			return ErrDocumentNotFound
		}
		return r.touch(ctx, tx, accountID, r.timestamp())
	})
	return storageError(err, "failed to update document")
}

// touch bumps updated_at and doubles as an existence check
func (r *accountsRepository) touch(ctx context.Context, db bun.IDB, id uuid.UUID, at time.Time) error {
	res, err := db.NewUpdate().
		Model((*Account)(nil)).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountsRepository) exists(ctx context.Context, db bun.IDB, id uuid.UUID) (bool, error) {
	ok, err := db.NewSelect().
		Model((*Account)(nil)).
		Where("id = ?", id).
		Exists(ctx)
	if err != nil {
		return false, storageError(err, "failed to check account")
	}
	if !ok {
		return false, ErrAccountNotFound
	}
	return true, nil
}

func notFoundOr(err error, notFound *goerrors.Error, msg string) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return storageError(err, msg)
}

// storageError keeps domain errors intact and wraps everything else as
// an internal failure.
func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
