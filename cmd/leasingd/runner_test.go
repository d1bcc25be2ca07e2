package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/arloliu/leasing"
)

// parse runs a command carrying configFlags and returns the resulting Config.
func parse(t *testing.T, args ...string) leasing.Config {
	t.Helper()

	var cfg leasing.Config
	cmd := &cli.Command{
		Name:  "test",
		Flags: configFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			var err error
			cfg, err = loadConfig(cmd)

			return err
		},
	}
	require.NoError(t, cmd.Run(t.Context(), append([]string{"test"}, args...)))

	return cfg
}

func TestLoadConfig_FlagsOverrideDefaults(t *testing.T) {
	cfg := parse(t,
		"--backend", "etcd",
		"--endpoint", "127.0.0.1:2379",
		"--key", "/svc/leader",
		"--identity", "pod-1",
		"--ttl", "20s",
		"--retry-delay", "2s",
	)

	require.Equal(t, leasing.BackendEtcd, cfg.Backend)
	require.Equal(t, "127.0.0.1:2379", cfg.Endpoint)
	require.Equal(t, "/svc/leader", cfg.ElectionKey)
	require.Equal(t, "pod-1", cfg.Identity)
	require.Equal(t, 20*time.Second, cfg.LeaseTTL)
	require.Equal(t, 2*time.Second, cfg.RetryDelay)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leasing.yaml")
	content := "backend: nats\nendpoint: nats://10.0.0.1:4222\nelectionKey: /from/file\nidentity: file-pod\nleaseTtl: 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := parse(t, "--config", path, "--key", "/from/flag")

	require.Equal(t, "nats://10.0.0.1:4222", cfg.Endpoint)
	require.Equal(t, "/from/flag", cfg.ElectionKey)
	require.Equal(t, "file-pod", cfg.Identity)
	require.Equal(t, 30*time.Second, cfg.LeaseTTL)
}

func TestLoadConfig_DefaultIdentity(t *testing.T) {
	cfg := parse(t, "--endpoint", "nats://127.0.0.1:4222", "--key", "/svc/leader")

	host, err := os.Hostname()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cfg.Identity, host+"-"), "identity %q", cfg.Identity)

	other := parse(t, "--endpoint", "nats://127.0.0.1:4222", "--key", "/svc/leader")
	require.NotEqual(t, cfg.Identity, other.Identity)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cmd := &cli.Command{
		Name:  "test",
		Flags: configFlags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := loadConfig(cmd)
			return err
		},
	}

	err := cmd.Run(t.Context(), []string{"test", "--config", filepath.Join(t.TempDir(), "missing.toml")})
	require.ErrorIs(t, err, os.ErrNotExist)
}
