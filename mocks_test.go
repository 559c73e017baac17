package accounts_test

import (
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// memAccounts is an in-memory credential store that mirrors the conditional
// update semantics of the SQL statements: every compare-and-set is keyed on
// the stored digest (or current password hash) under a single lock.
type memAccounts struct {
	repository.Repository[*accounts.Account]

	mu   sync.Mutex
	byID map[string]*accounts.Account

	attemptedLogins  int
	successfulLogins int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byID: map[string]*accounts.Account{},
	}
}

func (m *memAccounts) add(account *accounts.Account) *accounts.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	account.Email = accounts.NormalizeEmail(account.Email)
	m.byID[account.ID.String()] = account
	return account
}

func (m *memAccounts) get(id uuid.UUID) *accounts.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id.String()]
}

func (m *memAccounts) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok || account.DeletedAt != nil {
		return nil, repository.NewRecordNotFound()
	}
	clone := *account
	return &clone, nil
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return m.GetByEmailTx(ctx, bun.Tx{}, email)
}

func (m *memAccounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = accounts.NormalizeEmail(email)
	for _, account := range m.byID {
		if account.Email == email && account.DeletedAt == nil {
			clone := *account
			return &clone, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (m *memAccounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*accounts.Account, error) {
	identifier = strings.TrimSpace(identifier)

	if id, err := uuid.Parse(identifier); err == nil {
		return m.GetByID(ctx, id.String())
	}

	return m.GetByEmail(ctx, identifier)
}

func (m *memAccounts) Register(ctx context.Context, account *accounts.Account) (*accounts.Account, error) {
	return m.RegisterTx(ctx, bun.Tx{}, account)
}

func (m *memAccounts) RegisterTx(ctx context.Context, tx bun.IDB, account *accounts.Account) (*accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account.Email = accounts.NormalizeEmail(account.Email)
	for _, existing := range m.byID {
		if existing.Email == account.Email && existing.DeletedAt == nil {
			return nil, repository.NewRecordNotFound()
		}
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}

	now := time.Now()
	account.CreatedAt = &now
	account.UpdatedAt = &now

	clone := *account
	m.byID[account.ID.String()] = &clone
	return account, nil
}

func (m *memAccounts) SetVerificationCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id.String()]
	if !ok || account.DeletedAt != nil || account.EmailVerified {
		return repository.NewRecordNotFound()
	}

	account.VerificationCodeHash = &codeHash
	account.VerificationCodeExpiresAt = &expiresAt
	return nil
}

func (m *memAccounts) MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id.String()]
	if !ok || account.DeletedAt != nil ||
		account.VerificationCodeHash == nil || *account.VerificationCodeHash != codeHash {
		return repository.NewRecordNotFound()
	}

	account.EmailVerified = true
	account.VerificationCodeHash = nil
	account.VerificationCodeExpiresAt = nil
	return nil
}

func (m *memAccounts) SetForgotPasswordCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id.String()]
	if !ok || account.DeletedAt != nil {
		return repository.NewRecordNotFound()
	}

	account.ForgotPasswordCodeHash = &codeHash
	account.ForgotPasswordCodeExpiresAt = &expiresAt
	return nil
}

func (m *memAccounts) ResetPasswordWithCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id.String()]
	if !ok || account.DeletedAt != nil ||
		account.ForgotPasswordCodeHash == nil || *account.ForgotPasswordCodeHash != codeHash {
		return repository.NewRecordNotFound()
	}

	account.PasswordHash = passwordHash
	account.ForgotPasswordCodeHash = nil
	account.ForgotPasswordCodeExpiresAt = nil
	return nil
}

func (m *memAccounts) ChangePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, currentHash, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id.String()]
	if !ok || account.DeletedAt != nil || account.PasswordHash != currentHash {
		return repository.NewRecordNotFound()
	}

	account.PasswordHash = newHash
	return nil
}

func (m *memAccounts) TrackAttemptedLogin(ctx context.Context, account *accounts.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attemptedLogins++
	if stored, ok := m.byID[account.ID.String()]; ok {
		stored.LoginAttempts++
		now := time.Now()
		stored.LoginAttemptAt = &now
	}
	return nil
}

func (m *memAccounts) TrackSuccessfulLogin(ctx context.Context, account *accounts.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.successfulLogins++
	if stored, ok := m.byID[account.ID.String()]; ok {
		stored.LoginAttempts = 0
		stored.LoginAttemptAt = nil
		now := time.Now()
		stored.LoggedInAt = &now
	}
	return nil
}

var _ accounts.Accounts = (*memAccounts)(nil)

// memRepo wires the in-memory store behind the RepositoryManager surface.
// RunInTx just invokes the callback; the store locks per operation.
type memRepo struct {
	accounts *memAccounts
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: newMemAccounts()}
}

func (m *memRepo) Validate() error { return nil }

func (m *memRepo) MustValidate() {}

func (m *memRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return f(ctx, bun.Tx{})
	}
}

func (m *memRepo) Accounts() accounts.Accounts { return m.accounts }

var _ accounts.RepositoryManager = (*memRepo)(nil)

// captureSink records every activity event it sees.
type captureSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (s *captureSink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) types() []accounts.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounts.ActivityEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}

// captureMailer remembers the last code it was asked to deliver.
type captureMailer struct {
	mu    sync.Mutex
	to    string
	code  string
	sends int
	err   error
}

func (m *captureMailer) Send(ctx context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends++
	if m.err != nil {
		return m.err
	}
	m.to = to
	m.code = code
	return nil
}

// MockAuthenticator implements accounts.Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, identifier, password string) (string, error) {
	args := m.Called(ctx, identifier, password)
	return args.String(0), args.Error(1)
}

func (m *MockAuthenticator) SessionFromToken(token string) (accounts.Session, error) {
	args := m.Called(token)
	return args.Get(0).(accounts.Session), args.Error(1)
}

func (m *MockAuthenticator) IdentityFromSession(ctx context.Context, session accounts.Session) (accounts.Identity, error) {
	args := m.Called(ctx, session)
	return args.Get(0).(accounts.Identity), args.Error(1)
}

// MockContext mocks the router.Context
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryValues(key string) []string {
	args := m.Called(key)
	return args.Get(0).([]string)
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	if out, ok := args.Get(0).(map[string]any); ok {
		return out
	}
	return nil
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	header, _ := args.Get(0).(*multipart.FileHeader)
	return header, args.Error(1)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}
