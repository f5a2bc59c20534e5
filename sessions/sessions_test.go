package sessions_test

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/jrsteele09/go-salesforce-proxy/sessions"
	"github.com/stretchr/testify/require"
)

func testBundle() salesforce.TokenBundle {
	return salesforce.TokenBundle{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		InstanceURL:  "https://acme.my.salesforce.com",
		UserID:       "005000000000001AAA",
	}
}

func TestNew(t *testing.T) {
	a := sessions.New(testBundle(), time.Hour)
	b := sessions.New(testBundle(), time.Hour)

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.True(t, a.Authenticated())
	require.WithinDuration(t, a.CreatedAt.Add(time.Hour), a.ExpiresAt, time.Second)
	require.False(t, a.Expired(time.Now()))
	require.True(t, a.Expired(a.ExpiresAt))

	defaulted := sessions.New(testBundle(), 0)
	require.WithinDuration(t, defaulted.CreatedAt.Add(sessions.DefaultTTL), defaulted.ExpiresAt, time.Second)
}

func TestInMemoryRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert, get, delete", func(t *testing.T) {
		repo := sessions.NewInMemoryRepo()
		s := sessions.New(testBundle(), time.Hour)

		require.NoError(t, repo.Upsert(ctx, s))
		got, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, s, got)

		require.NoError(t, repo.Delete(ctx, s.ID))
		_, err = repo.Get(ctx, s.ID)
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

		require.NoError(t, repo.Delete(ctx, s.ID))
	})

	t.Run("unknown and empty ids", func(t *testing.T) {
		repo := sessions.NewInMemoryRepo()

		_, err := repo.Get(ctx, "missing")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
		_, err = repo.Get(ctx, "")
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("refuses sessions without tokens", func(t *testing.T) {
		repo := sessions.NewInMemoryRepo()

		err := repo.Upsert(ctx, sessions.New(salesforce.TokenBundle{AccessToken: "at"}, time.Hour))
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
		require.Equal(t, 0, repo.Len())
	})

	t.Run("expired sessions are invisible and pruned", func(t *testing.T) {
		repo := sessions.NewInMemoryRepo()
		live := sessions.New(testBundle(), time.Hour)
		stale := sessions.New(testBundle(), time.Hour)
		stale.ExpiresAt = time.Now().Add(-time.Minute)
		other := sessions.New(testBundle(), time.Hour)
		other.ExpiresAt = time.Now().Add(-time.Minute)

		require.NoError(t, repo.Upsert(ctx, live))
		require.NoError(t, repo.Upsert(ctx, stale))
		require.NoError(t, repo.Upsert(ctx, other))

		_, err := repo.Get(ctx, stale.ID)
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

		require.Equal(t, 1, repo.PruneExpired())
		require.Equal(t, 1, repo.Len())
	})
}

func TestSealer(t *testing.T) {
	keys, err := sessions.DeriveKeys("a-long-enough-session-secret")
	require.NoError(t, err)
	require.NotEqual(t, keys.Cookie, keys.Seal)

	again, err := sessions.DeriveKeys("a-long-enough-session-secret")
	require.NoError(t, err)
	require.Equal(t, keys, again)

	sealer, err := sessions.NewSealer(keys.Seal)
	require.NoError(t, err)

	sealed, err := sealer.Seal("sid-1", []byte(`{"accessToken":"at-1"}`))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "at-1")

	opened, err := sealer.Open("sid-1", sealed)
	require.NoError(t, err)
	require.Equal(t, `{"accessToken":"at-1"}`, string(opened))

	_, err = sealer.Open("sid-2", sealed)
	require.Error(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = sealer.Open("sid-1", sealed)
	require.Error(t, err)

	_, err = sessions.DeriveKeys("")
	require.ErrorIs(t, err, apperrors.ErrConfiguration)
}
