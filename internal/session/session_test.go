package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBuildsHeadersFromToken(t *testing.T) {
	t.Parallel()

	s, err := New(Config{
		AuthToken:    " abc123 ",
		UserAgent:    "custom-agent",
		ExtraHeaders: map[string]string{"X-App-Za": "OS=Android"},
		Timeout:      3 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	client := s.Client()
	require.Equal(t, "Bearer abc123", client.Headers.Get("Authorization"))
	require.Equal(t, "custom-agent", client.Headers.Get("User-Agent"))
	require.Equal(t, defaultAPIVersion, client.Headers.Get("x-api-version"))
	require.Equal(t, "OS=Android", client.Headers.Get("X-App-Za"))
	require.Equal(t, 3*time.Second, client.Timeout)
	require.NotNil(t, client.Transport)
}

func TestNewReadsTokenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	s, err := New(Config{TokenFile: path}, nil)
	require.NoError(t, err)
	require.Equal(t, "Bearer from-file", s.Client().Headers.Get("Authorization"))
	require.Equal(t, defaultTimeout, s.Client().Timeout)
}

func TestNewMissingTokenFile(t *testing.T) {
	t.Parallel()

	_, err := New(Config{TokenFile: filepath.Join(t.TempDir(), "missing")}, nil)
	require.ErrorContains(t, err, "not found")
}

func TestNewAnonymous(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, s.Client().Headers.Get("Authorization"))
	require.Equal(t, defaultUserAgent, s.Client().Headers.Get("User-Agent"))
}
