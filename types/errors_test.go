package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	t.Run("wrapped errors maintain identity", func(t *testing.T) {
		wrapped := fmt.Errorf("keep-alive failed: %w", ErrLeaseNotFound)
		require.ErrorIs(t, wrapped, ErrLeaseNotFound)

		joined := errors.Join(ErrEngineFault, errors.New("additional context"))
		require.ErrorIs(t, joined, ErrEngineFault)
	})

	t.Run("all errors are distinct", func(t *testing.T) {
		allErrors := []error{
			ErrInvalidConfig,
			ErrAlreadyStarted,
			ErrConnectFailed,
			ErrShutdownTimeout,
			ErrEngineFault,
			ErrUnknownBackend,
			ErrLeaseNotFound,
			ErrWatchClosed,
			ErrConnectivity,
			ErrClientClosed,
		}

		for i, err1 := range allErrors {
			for j, err2 := range allErrors {
				if i == j {
					require.ErrorIs(t, err1, err2)
				} else {
					require.NotErrorIs(t, err1, err2, "errors should be distinct: %v vs %v", err1, err2)
				}
			}
		}
	})
}
