package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/jrsteele09/go-salesforce-proxy/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRedis struct {
	mock.Mock
	stored []byte
}

func (m *mockRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	if err := args.Error(0); err != nil {
		return redis.NewStringResult("", err)
	}
	return redis.NewStringResult(string(m.stored), nil)
}

func (m *mockRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	if b, ok := value.([]byte); ok {
		m.stored = b
	}
	return redis.NewStatusResult("OK", args.Error(0))
}

func (m *mockRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return redis.NewIntResult(1, args.Error(0))
}

func newRedisRepo(t *testing.T, secret string, client sessions.RedisClient) *sessions.RedisRepo {
	t.Helper()
	keys, err := sessions.DeriveKeys(secret)
	require.NoError(t, err)
	sealer, err := sessions.NewSealer(keys.Seal)
	require.NoError(t, err)
	return sessions.NewRedisRepo(client, sealer, "")
}

var (
	argCtx = mock.Anything
	argTTL = mock.MatchedBy(func(d time.Duration) bool { return d > 59*time.Minute && d <= time.Hour })
)

func TestRedisRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip stores only ciphertext", func(t *testing.T) {
		client := &mockRedis{}
		repo := newRedisRepo(t, "secret-one", client)
		s := sessions.New(testBundle(), time.Hour)
		key := sessions.DefaultKeyPrefix + s.ID

		client.On("Set", argCtx, key, mock.AnythingOfType("[]uint8"), argTTL).Return(nil).Once()
		client.On("Get", argCtx, key).Return(nil).Once()

		require.NoError(t, repo.Upsert(ctx, s))
		require.NotContains(t, string(client.stored), "rt-1")

		got, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, s.Tokens, got.Tokens)
		require.Equal(t, s.ID, got.ID)
		require.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
		client.AssertExpectations(t)
	})

	t.Run("missing key", func(t *testing.T) {
		client := &mockRedis{}
		repo := newRedisRepo(t, "secret-one", client)
		client.On("Get", argCtx, sessions.DefaultKeyPrefix+"nope").Return(redis.Nil).Once()

		_, err := repo.Get(ctx, "nope")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		client.AssertExpectations(t)
	})

	t.Run("redis failure is not a missing session", func(t *testing.T) {
		client := &mockRedis{}
		repo := newRedisRepo(t, "secret-one", client)
		client.On("Get", argCtx, sessions.DefaultKeyPrefix+"sid").Return(errors.New("connection refused")).Once()

		_, err := repo.Get(ctx, "sid")
		require.Error(t, err)
		require.NotErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("payload sealed under another secret is discarded", func(t *testing.T) {
		client := &mockRedis{}
		writer := newRedisRepo(t, "secret-one", client)
		reader := newRedisRepo(t, "secret-two", client)
		s := sessions.New(testBundle(), time.Hour)
		key := sessions.DefaultKeyPrefix + s.ID

		client.On("Set", argCtx, key, mock.Anything, argTTL).Return(nil).Once()
		client.On("Get", argCtx, key).Return(nil).Once()
		client.On("Del", argCtx, []string{key}).Return(nil).Once()

		require.NoError(t, writer.Upsert(ctx, s))
		_, err := reader.Get(ctx, s.ID)
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		client.AssertExpectations(t)
	})

	t.Run("expired session is deleted instead of written", func(t *testing.T) {
		client := &mockRedis{}
		repo := newRedisRepo(t, "secret-one", client)
		s := sessions.New(testBundle(), time.Hour)
		s.ExpiresAt = time.Now().Add(-time.Second)
		client.On("Del", argCtx, []string{sessions.DefaultKeyPrefix + s.ID}).Return(nil).Once()

		require.NoError(t, repo.Upsert(ctx, s))
		client.AssertExpectations(t)
		client.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("refuses sessions without tokens", func(t *testing.T) {
		client := &mockRedis{}
		repo := newRedisRepo(t, "secret-one", client)

		err := repo.Upsert(ctx, sessions.New(salesforce.TokenBundle{}, time.Hour))
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
		client.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
