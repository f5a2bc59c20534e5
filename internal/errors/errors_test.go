package errors_test

import (
	"fmt"
	"testing"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, apperrors.Wrapf(nil, "context %d", 1))
	})

	t.Run("keeps the chain", func(t *testing.T) {
		err := apperrors.Wrapf(apperrors.ErrQuery, "stage %q", "x")
		require.True(t, apperrors.Is(err, apperrors.ErrQuery))
		require.Equal(t, `stage "x": invalid query`, err.Error())
	})

	t.Run("nested wrap", func(t *testing.T) {
		inner := fmt.Errorf("lookup: %w", apperrors.ErrNotFound)
		err := apperrors.Wrapf(inner, "opportunity")
		require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
		require.False(t, apperrors.Is(err, apperrors.ErrQuery))
	})
}
