package services_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/auth"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/Nancyzolla/Groupe8-SI3/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRefreshTokenStore implements RefreshTokenStore for testing
type MockRefreshTokenStore struct {
	mu          sync.Mutex
	tokens      map[string]*models.RefreshToken
	consumeErr  error
	consumedOld string
}

func NewMockRefreshTokenStore() *MockRefreshTokenStore {
	return &MockRefreshTokenStore{tokens: make(map[string]*models.RefreshToken)}
}

func (m *MockRefreshTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *token
	m.tokens[token.Token] = &c
	return nil
}

func (m *MockRefreshTokenStore) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[token]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (m *MockRefreshTokenStore) Consume(ctx context.Context, oldToken string, next *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return m.consumeErr
	}
	rec, ok := m.tokens[oldToken]
	if !ok || rec.Used {
		return models.ErrConflict
	}
	rec.Used = true
	c := *next
	m.tokens[next.Token] = &c
	m.consumedOld = oldToken
	return nil
}

func (m *MockRefreshTokenStore) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token]; !ok {
		return models.ErrNotFound
	}
	delete(m.tokens, token)
	return nil
}

func (m *MockRefreshTokenStore) DeleteAllForUser(ctx context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, rec := range m.tokens {
		if rec.Username == username {
			delete(m.tokens, token)
			n++
		}
	}
	return n, nil
}

func (m *MockRefreshTokenStore) CountForUser(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.tokens {
		if rec.Username == username {
			n++
		}
	}
	return n
}

// MockUserStore implements UserFetcher for testing
type MockUserStore struct {
	users map[string]*models.User
}

func NewMockUserStore(users ...*models.User) *MockUserStore {
	m := &MockUserStore{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.Username] = u
	}
	return m
}

func (m *MockUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *u
	return &c, nil
}

func testUser() *models.User {
	return &models.User{
		Username:     "alice",
		PasswordHash: "$2a$10$placeholder",
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
		Role:         "user",
		Active:       true,
	}
}

type tokenFixture struct {
	svc   *services.TokenService
	store *MockRefreshTokenStore
	users *MockUserStore
	now   time.Time
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	manager, err := auth.NewTokenManager("", 15*time.Minute)
	require.NoError(t, err)

	store := NewMockRefreshTokenStore()
	users := NewMockUserStore(testUser())
	svc := services.NewTokenService(store, users, manager, 15*time.Minute, 7*24*time.Hour, logger)

	f := &tokenFixture{svc: svc, store: store, users: users, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.Clock = func() time.Time { return f.now }
	return f
}

func TestTokenService_IssuePair(t *testing.T) {
	f := newTokenFixture(t)

	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, 900, pair.ExpiresIn)

	rec, err := f.store.Get(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.NotEmpty(t, rec.FamilyID)
	assert.False(t, rec.Used)
	assert.Equal(t, f.now.Add(7*24*time.Hour), rec.ExpiresAt)
}

func TestTokenService_RotateHappyPath(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)
	original, err := f.store.Get(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	next, err := f.svc.Rotate(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The old token is spent, the successor shares its family.
	old, err := f.store.Get(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, old.Used)

	succ, err := f.store.Get(context.Background(), next.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, original.FamilyID, succ.FamilyID)
	assert.False(t, succ.Used)
}

func TestTokenService_RotateUnknownToken(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)

	_, err = f.svc.Rotate(context.Background(), "never-issued")
	assert.True(t, errors.Is(err, models.ErrTokenUnknown))

	// Unknown tokens trigger no revocation.
	assert.Equal(t, 1, f.store.CountForUser("alice"))
	_, err = f.store.Get(context.Background(), pair.RefreshToken)
	assert.NoError(t, err)
}

func TestTokenService_RotateExpiredToken(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)

	f.now = f.now.Add(7*24*time.Hour + time.Second)

	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	assert.True(t, errors.Is(err, models.ErrTokenExpired))

	// Expired tokens are removed on sight.
	_, err = f.store.Get(context.Background(), pair.RefreshToken)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTokenService_RotateReusedTokenRevokesEverything(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)

	// Legitimate rotation, then an attacker replays the spent token.
	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	assert.True(t, errors.Is(err, models.ErrTokenCompromised))

	// Every token the user held is gone, the legitimate successor included.
	assert.Equal(t, 0, f.store.CountForUser("alice"))
}

func TestTokenService_RotateConsumeRaceLoserRevokes(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)

	// The atomic flip fails: another request consumed the token between our
	// read and our write.
	f.store.consumeErr = models.ErrConflict

	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	assert.True(t, errors.Is(err, models.ErrTokenCompromised))
}

func TestTokenService_RotateDisabledUser(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)

	f.users.users["alice"].Active = false

	_, err = f.svc.Rotate(context.Background(), pair.RefreshToken)
	assert.True(t, errors.Is(err, models.ErrAccountDisabled))
}

func TestTokenService_VerifyIssuedAccessToken(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.svc.IssuePair(context.Background(), testUser())
	require.NoError(t, err)

	claims, err := f.svc.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "user", claims.Role)
}
