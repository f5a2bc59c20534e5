package authflowrepo_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-salesforce-proxy/proxy/authflowrepo"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepo(t *testing.T) {
	t.Run("state can be taken once", func(t *testing.T) {
		repo := authflowrepo.NewInMemoryRepo(time.Minute)
		require.NoError(t, repo.Upsert("s1", authflowrepo.AuthFlowState{CreatedAt: time.Now()}))

		_, err := repo.Take("s1")
		require.NoError(t, err)

		_, err = repo.Take("s1")
		require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
	})

	t.Run("unknown and empty states", func(t *testing.T) {
		repo := authflowrepo.NewInMemoryRepo(0)

		_, err := repo.Take("never")
		require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
		_, err = repo.Take("")
		require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
		require.Error(t, repo.Upsert("", authflowrepo.AuthFlowState{}))
	})

	t.Run("states expire", func(t *testing.T) {
		repo := authflowrepo.NewInMemoryRepo(20 * time.Millisecond)
		require.NoError(t, repo.Upsert("s1", authflowrepo.AuthFlowState{CreatedAt: time.Now()}))

		time.Sleep(60 * time.Millisecond)
		_, err := repo.Take("s1")
		require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
	})
}
