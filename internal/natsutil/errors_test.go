package natsutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/leasing/types"
)

func TestIsConnectivityError(t *testing.T) {
	require.False(t, IsConnectivityError(nil))
	require.False(t, IsConnectivityError(errors.New("key exists")))

	require.True(t, IsConnectivityError(nats.ErrTimeout))
	require.True(t, IsConnectivityError(fmt.Errorf("grant: %w", nats.ErrConnectionClosed)))
	require.True(t, IsConnectivityError(types.ErrConnectivity))
	require.True(t, IsConnectivityError(errors.New("dial tcp 127.0.0.1:4222: connect: connection refused")))
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify("create", nil))

	err := Classify("create", nats.ErrTimeout)
	require.ErrorIs(t, err, types.ErrConnectivity)
	require.ErrorIs(t, err, nats.ErrTimeout)
	require.Contains(t, err.Error(), "create")

	plain := Classify("create", errors.New("boom"))
	require.NotErrorIs(t, plain, types.ErrConnectivity)
}
