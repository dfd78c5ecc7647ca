package command

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hstar0124/cpp-boost-chat/internal/session"
	"github.com/hstar0124/cpp-boost-chat/shared/cqrs"
	"github.com/hstar0124/cpp-boost-chat/shared/events"
	"github.com/hstar0124/cpp-boost-chat/shared/models"
	"github.com/hstar0124/cpp-boost-chat/shared/utils"
)

// memoryAccounts is an in-memory identity store with the same semantics as
// the PostgreSQL repositories.
type memoryAccounts struct {
	mu       sync.Mutex
	rows     map[string]*models.Account
	nextID   int64
	hasher   *utils.PasswordHasher
	views    map[string]*models.AccountView
	failNext models.StatusCode
}

func newMemoryAccounts(hasher *utils.PasswordHasher) *memoryAccounts {
	return &memoryAccounts{
		rows:   make(map[string]*models.Account),
		views:  make(map[string]*models.AccountView),
		hasher: hasher,
	}
}

func (m *memoryAccounts) Create(_ context.Context, account *models.Account) models.StatusCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[account.UserID]; exists {
		return models.UserIdAlreadyExists
	}
	m.nextID++
	account.ID = m.nextID
	account.Alive = true
	account.CreatedAt = time.Now()
	stored := *account
	m.rows[account.UserID] = &stored
	return models.Success
}

func (m *memoryAccounts) Update(_ context.Context, account *models.Account) models.StatusCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != models.Success {
		status := m.failNext
		m.failNext = models.Success
		return status
	}
	row, ok := m.rows[account.UserID]
	if !ok || row.ID != account.ID || !row.Alive {
		return models.Failure
	}
	stored := *account
	m.rows[account.UserID] = &stored
	return models.Success
}

func (m *memoryAccounts) ValidateCredentials(_ context.Context, userID, password string) (models.StatusCode, *models.Account) {
	m.mu.Lock()
	row, ok := m.rows[userID]
	m.mu.Unlock()
	if !ok || !row.Alive {
		return models.UserNotExists, nil
	}
	if !m.hasher.Verify(row.PasswordHash, password) {
		return models.DifferentPassword, nil
	}
	copied := *row
	return models.Success, &copied
}

func (m *memoryAccounts) IsAlive(_ context.Context, accountID int64) (bool, models.StatusCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != models.Success {
		status := m.failNext
		m.failNext = models.Success
		return false, status
	}
	for _, row := range m.rows {
		if row.ID == accountID {
			return row.Alive, models.Success
		}
	}
	return false, models.Success
}

func (m *memoryAccounts) CacheAccountView(_ context.Context, view *models.AccountView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[view.UserID] = view
}

func (m *memoryAccounts) InvalidateAccountView(_ context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, userID)
}

func (m *memoryAccounts) row(userID string) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[userID]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, stream, eventType string, data any) error {
	if p.err != nil {
		return p.err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events.Event{Type: eventType, Timestamp: time.Now(), Data: payload})
	return nil
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type serviceFixture struct {
	svc       *AccountCommandService
	accounts  *memoryAccounts
	publisher *recordingPublisher
	mr        *miniredis.Miniredis
	hook      *logtest.Hook
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	hasher := utils.NewPasswordHasher(bcrypt.MinCost)
	accounts := newMemoryAccounts(hasher)
	store := session.NewStore(session.NewRedisBackend(rdb, session.BreakerConfig{}), session.DefaultTTL, logger)
	publisher := &recordingPublisher{}

	svc := NewAccountCommandService(accounts, accounts, hasher, store, publisher,
		ChatServer{IP: "127.0.0.1", Port: "4242"}, logger)
	return &serviceFixture{svc: svc, accounts: accounts, publisher: publisher, mr: mr, hook: hook}
}

func (f *serviceFixture) create(t *testing.T, userID, password string) {
	t.Helper()
	resp := f.svc.CreateUser(context.Background(), cqrs.CreateUserCommand{
		UserID: userID, Password: password, Username: strings.ToUpper(userID), Email: userID + "@example.com",
	})
	require.Equal(t, models.Success, resp.Status, resp.Message)
}

func (f *serviceFixture) login(t *testing.T, userID, password string) (models.Response, string) {
	t.Helper()
	resp := f.svc.Login(context.Background(), cqrs.LoginCommand{UserID: userID, Password: password})
	if resp.Status != models.Success {
		return resp, ""
	}
	result, ok := resp.Content.(*models.LoginResult)
	require.True(t, ok)
	return resp, result.SessionID
}

func TestCreateUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	resp := f.svc.CreateUser(ctx, cqrs.CreateUserCommand{UserID: "alice", Password: "pw1", Username: "Alice", Email: "alice@example.com"})
	require.Equal(t, models.Success, resp.Status)
	assert.Equal(t, "User created successfully", resp.Message)
	assert.Equal(t, &models.AccountView{UserID: "alice", DisplayName: "Alice", Email: "alice@example.com"}, resp.Content)

	row := f.accounts.row("alice")
	assert.NotEqual(t, "pw1", row.PasswordHash)
	assert.Contains(t, f.accounts.views, "alice")
	assert.Equal(t, events.AccountCreated, f.publisher.last().Type)

	dup := f.svc.CreateUser(ctx, cqrs.CreateUserCommand{UserID: "alice", Password: "other"})
	assert.Equal(t, models.UserIdAlreadyExists, dup.Status)
	assert.Nil(t, dup.Content)
}

func TestCreateUser_ConcurrentSameUserID(t *testing.T) {
	f := newServiceFixture(t)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]models.StatusCode, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.CreateUser(context.Background(), cqrs.CreateUserCommand{UserID: "x", Password: "pw"}).Status
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r == models.Success {
			successes++
		} else {
			assert.Equal(t, models.UserIdAlreadyExists, r)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestLogin(t *testing.T) {
	f := newServiceFixture(t)
	f.create(t, "alice", "pw1")

	tests := []struct {
		name     string
		userID   string
		password string
		expected models.StatusCode
	}{
		{name: "unknown user", userID: "bob", password: "pw1", expected: models.UserNotExists},
		{name: "wrong password", userID: "alice", password: "nope", expected: models.DifferentPassword},
		{name: "valid", userID: "alice", password: "pw1", expected: models.Success},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, token := f.login(t, tt.userID, tt.password)
			assert.Equal(t, tt.expected, resp.Status)
			if tt.expected == models.Success {
				result := resp.Content.(*models.LoginResult)
				assert.Equal(t, "127.0.0.1", result.ServerIP)
				assert.Equal(t, "4242", result.ServerPort)
				assert.Len(t, token, 32)
				assert.Equal(t, "User login successfully", resp.Message)
			}
		})
	}
}

func TestLogin_SessionStoreFailureIsFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.create(t, "alice", "pw1")
	f.mr.Close()

	resp, _ := f.login(t, "alice", "pw1")
	assert.Equal(t, models.Failure, resp.Status)
	assert.Nil(t, resp.Content)
}

func TestLogin_TokenGenerationFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.create(t, "alice", "pw1")
	f.svc.newToken = func() (string, error) { return "", errors.New("entropy exhausted") }

	resp, _ := f.login(t, "alice", "pw1")
	assert.Equal(t, models.ServerError, resp.Status)
	assert.Equal(t, models.GenericServerErrorMessage, resp.Message)
}

func TestUpdateUser_Partial(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")
	before := f.accounts.row("alice")

	resp := f.svc.UpdateUser(ctx, cqrs.UpdateUserCommand{UserID: "alice", Password: "pw1", NewEmail: "new@example.com"})
	require.Equal(t, models.Success, resp.Status)

	after := f.accounts.row("alice")
	assert.Equal(t, "new@example.com", after.Email)
	assert.Equal(t, before.DisplayName, after.DisplayName)
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Equal(t, "new@example.com", f.accounts.views["alice"].Email)
	assert.Equal(t, events.AccountUpdated, f.publisher.last().Type)

	loginResp, _ := f.login(t, "alice", "pw1")
	assert.Equal(t, models.Success, loginResp.Status)
}

func TestUpdateUser_NewPassword(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")

	resp := f.svc.UpdateUser(ctx, cqrs.UpdateUserCommand{UserID: "alice", Password: "pw1", NewPassword: "pw2", NewUsername: "Al"})
	require.Equal(t, models.Success, resp.Status)
	assert.Equal(t, "Al", f.accounts.row("alice").DisplayName)

	old, _ := f.login(t, "alice", "pw1")
	assert.Equal(t, models.DifferentPassword, old.Status)
	fresh, _ := f.login(t, "alice", "pw2")
	assert.Equal(t, models.Success, fresh.Status)
}

func TestPasswordOverByteLimitIsFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	long := strings.Repeat("é", utils.MaxPasswordBytes)

	resp := f.svc.CreateUser(ctx, cqrs.CreateUserCommand{UserID: "alice", Password: long})
	assert.Equal(t, models.Failure, resp.Status)
	assert.Contains(t, resp.Message, "72 bytes")

	f.create(t, "bob", "pw1")
	resp = f.svc.UpdateUser(ctx, cqrs.UpdateUserCommand{UserID: "bob", Password: "pw1", NewPassword: long})
	assert.Equal(t, models.Failure, resp.Status)
	ok, _ := f.login(t, "bob", "pw1")
	assert.Equal(t, models.Success, ok.Status, "password left unchanged")
}

func TestUpdateUser_Failures(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")

	resp := f.svc.UpdateUser(ctx, cqrs.UpdateUserCommand{UserID: "alice", Password: "bad", NewEmail: "x@example.com"})
	assert.Equal(t, models.DifferentPassword, resp.Status)
	assert.Equal(t, "alice@example.com", f.accounts.row("alice").Email)

	f.accounts.failNext = models.Failure
	resp = f.svc.UpdateUser(ctx, cqrs.UpdateUserCommand{UserID: "alice", Password: "pw1", NewEmail: "x@example.com"})
	assert.Equal(t, models.Failure, resp.Status)

	f.accounts.failNext = models.ServerError
	resp = f.svc.UpdateUser(ctx, cqrs.UpdateUserCommand{UserID: "alice", Password: "pw1", NewEmail: "x@example.com"})
	assert.Equal(t, models.ServerError, resp.Status)
	assert.Equal(t, models.GenericServerErrorMessage, resp.Message)
}

func TestDeleteUser_Idempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")

	resp := f.svc.DeleteUser(ctx, cqrs.DeleteUserCommand{UserID: "alice", Password: "pw1"})
	require.Equal(t, models.Success, resp.Status)
	assert.False(t, f.accounts.row("alice").Alive)
	assert.NotContains(t, f.accounts.views, "alice")

	published := len(f.publisher.events)
	again := f.svc.DeleteUser(ctx, cqrs.DeleteUserCommand{UserID: "alice", Password: "pw1"})
	assert.Equal(t, models.UserNotExists, again.Status)
	assert.Len(t, f.publisher.events, published, "no second state change")

	reuse := f.svc.CreateUser(ctx, cqrs.CreateUserCommand{UserID: "alice", Password: "pw1"})
	assert.Equal(t, models.UserIdAlreadyExists, reuse.Status, "deleted user ids stay reserved")
}

func TestEndToEnd_LoginRotationAndDeletion(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")

	first, token1 := f.login(t, "alice", "pw1")
	require.Equal(t, models.Success, first.Status)
	second, token2 := f.login(t, "alice", "pw1")
	require.Equal(t, models.Success, second.Status)
	assert.NotEqual(t, token1, token2)

	assert.Equal(t, models.Failure, f.svc.KeepAlive(ctx, cqrs.KeepAliveCommand{Token: token1}).Status)
	assert.Equal(t, models.Failure, f.svc.Logout(ctx, cqrs.LogoutCommand{Token: token1}).Status)
	assert.Equal(t, models.Success, f.svc.KeepAlive(ctx, cqrs.KeepAliveCommand{Token: token2}).Status)

	require.Equal(t, models.Success, f.svc.DeleteUser(ctx, cqrs.DeleteUserCommand{UserID: "alice", Password: "pw1"}).Status)
	deleted := f.publisher.last()
	require.Equal(t, events.AccountDeleted, deleted.Type)
	require.NoError(t, f.svc.HandleAccountEvent(ctx, deleted))

	assert.False(t, f.mr.Exists("Session:"+token2))
	assert.Equal(t, models.Failure, f.svc.KeepAlive(ctx, cqrs.KeepAliveCommand{Token: token2}).Status)

	after, _ := f.login(t, "alice", "pw1")
	assert.Equal(t, models.UserNotExists, after.Status)
}

func TestDeleteUser_LostEventStillBlocksKeepAlive(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")
	_, token := f.login(t, "alice", "pw1")

	f.publisher.err = errors.New("stream unavailable")
	require.Equal(t, models.Success, f.svc.DeleteUser(ctx, cqrs.DeleteUserCommand{UserID: "alice", Password: "pw1"}).Status)
	require.True(t, f.mr.Exists("Session:"+token), "no account.deleted event was delivered")

	f.mr.FastForward(150 * time.Second)
	resp := f.svc.KeepAlive(ctx, cqrs.KeepAliveCommand{Token: token})
	assert.Equal(t, models.UserNotExists, resp.Status)
	assert.False(t, f.mr.Exists("Session:"+token))

	f.mr.FastForward(181 * time.Second)
	assert.Empty(t, f.mr.Keys())
	assert.NotEqual(t, models.Success, f.svc.KeepAlive(ctx, cqrs.KeepAliveCommand{Token: token}).Status)
}

func TestKeepAlive_LivenessCheckFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")
	_, token := f.login(t, "alice", "pw1")

	f.accounts.failNext = models.ServerError
	resp := f.svc.KeepAlive(ctx, cqrs.KeepAliveCommand{Token: token})
	assert.Equal(t, models.ServerError, resp.Status)
	assert.True(t, f.mr.Exists("Session:"+token), "session kept when liveness is unknown")

	assert.Equal(t, models.Success, f.svc.KeepAlive(ctx, cqrs.KeepAliveCommand{Token: token}).Status)
}

func TestLogout(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "pw1")
	_, token := f.login(t, "alice", "pw1")

	resp := f.svc.Logout(ctx, cqrs.LogoutCommand{Token: token})
	assert.Equal(t, models.Success, resp.Status)
	assert.Equal(t, "User logged out successfully", resp.Message)
	assert.Empty(t, f.mr.Keys())
}

func TestHandleAccountEvent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ignored := events.Event{Type: events.AccountCreated, Data: json.RawMessage(`{"accountId":1}`)}
	assert.NoError(t, f.svc.HandleAccountEvent(ctx, ignored))

	noSession := events.Event{Type: events.AccountDeleted, Data: json.RawMessage(`{"accountId":99,"userId":"ghost"}`)}
	assert.NoError(t, f.svc.HandleAccountEvent(ctx, noSession))

	malformed := events.Event{Type: events.AccountDeleted, Data: json.RawMessage(`"nope"`)}
	assert.Error(t, f.svc.HandleAccountEvent(ctx, malformed))

	f.mr.Close()
	assert.Error(t, f.svc.HandleAccountEvent(ctx, noSession), "backend failure must leave the event pending")
}

func TestPublishFailureDoesNotChangeOutcome(t *testing.T) {
	f := newServiceFixture(t)
	f.publisher.err = errors.New("stream unavailable")

	resp := f.svc.CreateUser(context.Background(), cqrs.CreateUserCommand{UserID: "alice", Password: "pw1"})
	assert.Equal(t, models.Success, resp.Status)
}

func TestLogsNeverContainPasswords(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "alice", "secret-pw")
	f.login(t, "alice", "wrong-pw")
	f.login(t, "alice", "secret-pw")
	f.svc.UpdateUser(ctx, cqrs.UpdateUserCommand{UserID: "alice", Password: "secret-pw", NewPassword: "next-pw"})
	hash := f.accounts.row("alice").PasswordHash

	require.NotEmpty(t, f.hook.AllEntries())
	for _, e := range f.hook.AllEntries() {
		line, err := e.String()
		require.NoError(t, err)
		assert.NotContains(t, line, "secret-pw")
		assert.NotContains(t, line, "next-pw")
		assert.NotContains(t, line, hash)
	}
}
