package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"filedesk/api/internal/merge"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, ":8787", cfg.Addr)
	require.Equal(t, BackendPostgres, cfg.StoreBackend)
	require.Equal(t, merge.ProposalWins, cfg.Policy())
	require.Equal(t, 3, cfg.MergeMaxAttempts)
	require.Equal(t, 2*time.Second, cfg.FeedPollInterval)
	require.Empty(t, cfg.MigrationsDir)
	require.Equal(t, logrus.InfoLevel, cfg.LogrusLevel())
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("FILEDESK_STORE", "memory")
	t.Setenv("FILEDESK_CONCURRENT_EDIT_POLICY", "editor-wins")
	t.Setenv("FILEDESK_MERGE_MAX_ATTEMPTS", "5")
	t.Setenv("FILEDESK_FEED_POLL_INTERVAL", "500ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, merge.EditorWins, cfg.Policy())
	require.Equal(t, 5, cfg.MergeMaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.FeedPollInterval)
	require.Equal(t, logrus.DebugLevel, cfg.Logger().GetLevel())
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unknown store", env: map[string]string{"FILEDESK_STORE": "sqlite"}, want: "FILEDESK_STORE"},
		{name: "unknown policy", env: map[string]string{"FILEDESK_CONCURRENT_EDIT_POLICY": "last-wins"}, want: "concurrent edit policy"},
		{name: "zero attempts", env: map[string]string{"FILEDESK_MERGE_MAX_ATTEMPTS": "0"}, want: "FILEDESK_MERGE_MAX_ATTEMPTS"},
		{name: "dev secret in production", env: map[string]string{"FILEDESK_ENV": "production"}, want: "FILEDESK_JWT_SECRET"},
		{name: "not a number", env: map[string]string{"FILEDESK_MERGE_MAX_ATTEMPTS": "three"}, want: "parse environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadEnvReadsExistingFilesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FILEDESK_TEST_LOAD_ENV=ok\n"), 0o644))
	t.Setenv("FILEDESK_TEST_LOAD_ENV", "")
	require.NoError(t, os.Unsetenv("FILEDESK_TEST_LOAD_ENV"))

	n, err := LoadEnv([]string{path, filepath.Join(dir, ".env.local")})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("FILEDESK_TEST_LOAD_ENV"))
}
