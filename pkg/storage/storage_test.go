package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStorageFS(t *testing.T) {
	ctx := context.Background()
	log := logs.NewTestingLog(t)
	fs, err := NewStorageFS(log, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, WriteFile(ctx, fs, "a/b.mp4", bytes.NewReader([]byte("hello"))))
	b, err := ReadFile(ctx, fs, "a/b.mp4")
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))

	_, err = fs.WriteFile(ctx, "../escape.mp4")
	require.Error(t, err)
	_, err = fs.ReadFile(ctx, "/etc/passwd")
	require.Error(t, err)

	_, err = fs.URL("a/b.mp4")
	require.ErrorIs(t, err, ErrNoPublicUrl)
	require.Equal(t, filepath.Join(fs.Root, "a/b.mp4"), fs.Location("a/b.mp4"))

	require.NoError(t, fs.DeleteFile(ctx, "a/b.mp4"))
	_, err = fs.ReadFile(ctx, "a/b.mp4")
	require.Error(t, err)
}

func TestPublisher(t *testing.T) {
	ctx := context.Background()
	log := logs.NewTestingLog(t)
	fs, err := NewStorageFS(log, t.TempDir())
	require.NoError(t, err)

	scratch := t.TempDir()
	local := filepath.Join(scratch, "run1.mp4")
	require.NoError(t, os.WriteFile(local, []byte("video"), 0644))

	pub := &Publisher{Log: log, Storage: fs, RemoveLocal: true}
	location, err := pub.Publish(ctx, local)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(fs.Root, "run1.mp4"), location)

	_, err = os.Stat(local)
	require.True(t, os.IsNotExist(err))
	b, err := ReadFile(ctx, fs, "run1.mp4")
	require.NoError(t, err)
	require.Equal(t, "video", string(b))

	_, err = pub.Publish(ctx, filepath.Join(scratch, "missing.mp4"))
	require.Error(t, err)
}
