package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSessionDir(t *testing.T) {
	dataDir := t.TempDir()
	now := time.Date(2020, 5, 4, 15, 30, 45, 0, time.UTC)

	dir, err := NextSessionDir(dataDir, now)
	require.NoError(t, err)
	assert.Equal(t, "sess_04_05_2020__15_30_45", filepath.Base(dir))
	assert.DirExists(t, dir)
}

func TestNextRecordingDirFresh(t *testing.T) {
	dataDir := t.TempDir()

	dir, err := NextRecordingDir(dataDir)
	require.NoError(t, err)
	assert.Equal(t, "1", filepath.Base(dir))
	assert.DirExists(t, dir)
}

func TestNextRecordingDirReusesEmpty(t *testing.T) {
	dataDir := t.TempDir()

	first, err := NextRecordingDir(dataDir)
	require.NoError(t, err)

	// Still empty: handed out again.
	again, err := NextRecordingDir(dataDir)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestNextRecordingDirIncrements(t *testing.T) {
	dataDir := t.TempDir()

	first, err := NextRecordingDir(dataDir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first, "video.h264"), []byte("v"), 0o644))

	second, err := NextRecordingDir(dataDir)
	require.NoError(t, err)
	assert.Equal(t, "2", filepath.Base(second))
}

func TestNextRecordingDirNaturalOrder(t *testing.T) {
	dataDir := t.TempDir()
	recordings := filepath.Join(dataDir, "recordings")

	// Folder "10" must beat "9" despite lexicographic order.
	for _, name := range []string{"1", "9", "10"} {
		require.NoError(t, os.MkdirAll(filepath.Join(recordings, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(recordings, "10", "video.h264"), []byte("v"), 0o644))

	next, err := NextRecordingDir(dataDir)
	require.NoError(t, err)
	assert.Equal(t, "11", filepath.Base(next))

	dirs, err := RecordingDirs(dataDir)
	require.NoError(t, err)
	require.Len(t, dirs, 4)
	assert.Equal(t, "1", filepath.Base(dirs[0]))
	assert.Equal(t, "11", filepath.Base(dirs[3]))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "3/video.h264", ObjectKey("/data/recordings/3/video.h264"))
}

func TestMockUploader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video.h264")
	require.NoError(t, os.WriteFile(path, []byte("h264"), 0o644))

	mock := NewMockUploader()
	require.NoError(t, mock.Upload(context.Background(), "sorterbot-training-videos", path))

	require.Equal(t, 1, mock.Count())
	up := mock.Uploads[0]
	assert.Equal(t, "sorterbot-training-videos", up.Bucket)
	assert.Equal(t, filepath.Base(dir)+"/video.h264", up.Key)
	assert.Equal(t, []byte("h264"), up.Data)
}
