package gitsource

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/conorfennell/notes.git", filepath.Join("repos", "github.com", "conorfennell", "notes")},
		{"https://gitlab.com:8443/group/sub/notes", filepath.Join("repos", "gitlab.com", "group", "sub", "notes")},
		{"git@github.com:conorfennell/notes.git", filepath.Join("repos", "github.com", "conorfennell", "notes")},
		{"ssh://git@example.com/team/cards.git", filepath.Join("repos", "example.com", "team", "cards")},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := LocalPath("repos", tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalPathRejects(t *testing.T) {
	for _, u := range []string{
		"not a url",
		"git@github.com",
		"https://github.com/",
		"https://github.com/../../etc",
	} {
		_, err := LocalPath("repos", u)
		assert.Error(t, err, u)
	}
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://github.com/a/b.git"))
	assert.True(t, IsRemote("git@github.com:a/b.git"))
	assert.True(t, IsRemote("ssh://git@example.com/a/b"))
	assert.False(t, IsRemote("/home/me/notes"))
	assert.False(t, IsRemote("notes"))
	assert.False(t, IsRemote("file:///home/me/notes"))
}

func TestSyncFailsOnUnreachableRemote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dest := filepath.Join(t.TempDir(), "checkout")
	err := Sync(ctx, "https://invalid.invalid/none.git", dest, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestSyncFailsOnNonRepository(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o600))
	err := Sync(context.Background(), "https://example.com/a.git", dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
