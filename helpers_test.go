package intake_test

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

// smallest valid PNG, a 1x1 transparent pixel
var pngFixture = mustDecode("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

var pdfFixture = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

var textFixture = []byte("just some plain text, not a document")

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// errMessage returns the client facing message of a rich error
func errMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

type testConfig struct {
	signingKey string
	ttl        time.Duration
	issuer     string
	audience   []string
	algorithm  string
	maxFiles   int
	maxSize    int64
	region     string
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey: testSigningKey,
		ttl:        time.Hour,
		issuer:     "intake-test",
		algorithm:  intake.PasswordAlgorithmBcrypt,
		maxFiles:   intake.DefaultMaxUploadFiles,
		maxSize:    intake.DefaultMaxUploadSize,
		region:     "US",
	}
}

func (c *testConfig) GetSigningKey() string             { return c.signingKey }
func (c *testConfig) GetTokenExpiration() time.Duration { return c.ttl }
func (c *testConfig) GetIssuer() string                 { return c.issuer }
func (c *testConfig) GetAudience() []string             { return c.audience }
func (c *testConfig) GetContextKey() string             { return "principal" }
func (c *testConfig) GetAuthScheme() string             { return "Bearer" }
func (c *testConfig) GetPasswordAlgorithm() string      { return c.algorithm }
func (c *testConfig) GetBcryptCost() int                { return 4 }
func (c *testConfig) GetMaxUploadFiles() int            { return c.maxFiles }
func (c *testConfig) GetMaxUploadSize() int64           { return c.maxSize }
func (c *testConfig) GetDefaultPhoneRegion() string     { return c.region }
func (c *testConfig) GetDeterministicIDs() bool         { return false }

// newTestRepo returns a migrated in-memory sqlite database private to t
func newTestRepo(t *testing.T) intake.RepositoryManager {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := intake.OpenDatabase(intake.DriverSQLite, dsn)
	require.NoError(t, err)

	repo := intake.NewRepositoryManager(db, intake.DriverSQLite)
	require.NoError(t, repo.Validate())
	require.NoError(t, repo.Migrate(context.Background()))

	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func newTestStore(t *testing.T) *intake.LocalFileStore {
	t.Helper()
	store, err := intake.NewLocalFileStore(t.TempDir(), intake.DefaultPublicPath)
	require.NoError(t, err)
	return store
}

type fixture struct {
	repo     intake.RepositoryManager
	store    *intake.LocalFileStore
	services *intake.Services
	sink     *capturingSink
}

func newFixture(t *testing.T, opts ...intake.ServicesOption) *fixture {
	t.Helper()

	repo := newTestRepo(t)
	store := newTestStore(t)
	sink := &capturingSink{}

	opts = append([]intake.ServicesOption{
		intake.WithServicesLogger(intake.NopLogger()),
		intake.WithServicesActivitySink(sink),
	}, opts...)

	services, err := intake.NewServices(newTestConfig(), repo, store, opts...)
	require.NoError(t, err)

	return &fixture{repo: repo, store: store, services: services, sink: sink}
}

func (f *fixture) accounts() intake.Accounts {
	return f.repo.Accounts()
}

// register creates an account through the authenticator and returns it
// with its token
func (f *fixture) register(t *testing.T, role intake.Role, email string) (*intake.Account, string) {
	t.Helper()
	res, err := f.services.Auth.Register(context.Background(), intake.RegisterAccountMessage{
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		Password:  "secret123",
		Role:      role,
	})
	require.NoError(t, err)
	return res.User, res.Token
}

// createAccount inserts an account straight into the store
func createAccount(t *testing.T, accounts intake.Accounts, role intake.Role, email string) *intake.Account {
	t.Helper()
	account, err := accounts.Create(context.Background(), &intake.Account{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: "unused",
		Role:         role,
		IsActive:     true,
		Profile:      intake.ProfileEnvelope{Profile: intake.DefaultProfile(role, time.Now())},
	})
	require.NoError(t, err)
	return account
}

type capturingSink struct {
	mu     sync.Mutex
	events []intake.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt intake.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) ofType(t intake.ActivityEventType) []intake.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []intake.ActivityEvent
	for _, e := range c.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// MockAccounts implements intake.Accounts
type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) Create(ctx context.Context, account *intake.Account) (*intake.Account, error) {
	args := m.Called(ctx, account)
	if a, ok := args.Get(0).(*intake.Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) FindByEmail(ctx context.Context, email string) (*intake.Account, error) {
	args := m.Called(ctx, email)
	if a, ok := args.Get(0).(*intake.Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) FindByID(ctx context.Context, id uuid.UUID) (*intake.Account, error) {
	args := m.Called(ctx, id)
	if a, ok := args.Get(0).(*intake.Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*intake.Account, error) {
	args := m.Called(ctx, ids)
	if a, ok := args.Get(0).([]*intake.Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccounts) List(ctx context.Context, filter intake.AccountFilter) ([]*intake.Account, error) {
	args := m.Called(ctx, filter)
	if a, ok := args.Get(0).([]*intake.Account); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) CountByStatus(ctx context.Context, role intake.Role) (map[intake.VerificationStatus]int, error) {
	args := m.Called(ctx, role)
	if c, ok := args.Get(0).(map[intake.VerificationStatus]int); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccounts) UpdateDetails(ctx context.Context, id uuid.UUID, changes intake.AccountChanges) error {
	return m.Called(ctx, id, changes).Error(0)
}

func (m *MockAccounts) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	args := m.Called(ctx, id, active)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, event *intake.VerificationEvent, opts ...intake.StatusUpdateOption) (intake.StatusChange, error) {
	args := m.Called(ctx, id, event, opts)
	return args.Get(0).(intake.StatusChange), args.Error(1)
}

func (m *MockAccounts) AppendNote(ctx context.Context, note *intake.VerificationNote) error {
	return m.Called(ctx, note).Error(0)
}

func (m *MockAccounts) AppendDocuments(ctx context.Context, accountID uuid.UUID, docs []*intake.Document) error {
	return m.Called(ctx, accountID, docs).Error(0)
}

func (m *MockAccounts) SetDocumentVerified(ctx context.Context, accountID, documentID uuid.UUID, verified bool) error {
	return m.Called(ctx, accountID, documentID, verified).Error(0)
}

func (m *MockAccounts) RunInTx(ctx context.Context, fn func(ctx context.Context, accounts intake.Accounts) error) error {
	return fn(ctx, m)
}
