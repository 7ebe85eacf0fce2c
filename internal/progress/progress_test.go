package progress_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/rdm/internal/progress"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := progress.NewFileStore()
	key := filepath.Join(t.TempDir(), "out.bin.id.tmp")

	require.NoError(t, store.Create(key))

	_, err := store.Load(key)
	assert.ErrorIs(t, err, progress.ErrNoProgress, "freshly created key has no progress")

	rec := progress.Record{Offset: 1024, TotalSize: 4096, ETag: `"abc"`, LastModified: "Mon, 02 Jan 2006 15:04:05 GMT"}
	require.NoError(t, store.Save(key, rec))

	got, err := store.Load(key)
	require.NoError(t, err)
	assert.Equal(t, rec.Offset, got.Offset)
	assert.Equal(t, rec.TotalSize, got.TotalSize)
	assert.Equal(t, rec.ETag, got.ETag)
	assert.Equal(t, rec.LastModified, got.LastModified)
	assert.False(t, got.SavedAt.IsZero(), "SavedAt should be stamped")

	rec.Offset = 2048
	require.NoError(t, store.Save(key, rec))
	got, err = store.Load(key)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), got.Offset)

	entries, err := os.ReadDir(filepath.Dir(key))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "atomic writes must not leave temporary files behind")
}

func TestFileStoreLoadErrors(t *testing.T) {
	store := progress.NewFileStore()
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
		wantErr error
	}{
		{name: "missing file", content: nil, wantErr: progress.ErrNoProgress},
		{name: "empty file", content: ptr(""), wantErr: progress.ErrNoProgress},
		{name: "garbage", content: ptr("\x00\x00\x10\x00"), wantErr: progress.ErrCorrupt},
		{name: "negative offset", content: ptr(`{"offset":-5}`), wantErr: progress.ErrCorrupt},
		{name: "offset beyond total", content: ptr(`{"offset":500,"totalSize":100}`), wantErr: progress.ErrCorrupt},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := filepath.Join(dir, "case", string(rune('a'+i)))
			if tt.content != nil {
				require.NoError(t, os.MkdirAll(filepath.Dir(key), 0o755))
				require.NoError(t, os.WriteFile(key, []byte(*tt.content), 0o644))
			}

			_, err := store.Load(key)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestFileStoreDelete(t *testing.T) {
	store := progress.NewFileStore()
	key := filepath.Join(t.TempDir(), "p.tmp")

	require.NoError(t, store.Save(key, progress.Record{Offset: 1}))
	require.NoError(t, store.Delete(key))
	require.NoError(t, store.Delete(key), "deleting a missing key is not an error")

	_, err := os.Stat(key)
	assert.True(t, os.IsNotExist(err))
}

func TestRecordValidate(t *testing.T) {
	assert.NoError(t, progress.Record{}.Validate())
	assert.NoError(t, progress.Record{Offset: 10}.Validate(), "unknown total allows any offset")
	assert.NoError(t, progress.Record{Offset: 10, TotalSize: 10}.Validate())
	assert.ErrorIs(t, progress.Record{Offset: 11, TotalSize: 10}.Validate(), progress.ErrCorrupt)
	assert.ErrorIs(t, progress.Record{TotalSize: -1}.Validate(), progress.ErrCorrupt)
}

func TestEncodeDecode(t *testing.T) {
	saved := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := progress.Encode(progress.Record{Offset: 7, TotalSize: 9, SavedAt: saved})
	require.NoError(t, err)

	rec, err := progress.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Offset)
	assert.True(t, saved.Equal(rec.SavedAt))
}

func ptr(s string) *string {
	return &s
}
