package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/config"
	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/testutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	files  map[string][]byte
	pruned time.Time
	closed int
}

func (m *memStore) Name() string { return "mem" }

func (m *memStore) Upload(name string, r io.Reader) error {
	b, err := io.ReadAll(r)
	m.files[name] = b
	return err
}

func (m *memStore) Prune(cutoff time.Time) (int, error) {
	m.pruned = cutoff
	return 0, nil
}

func (m *memStore) Close() error {
	m.closed++
	return nil
}

func newBackupService(t *testing.T) (*BackupService, string) {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.SeedRouter(t, db, "10.0.0.1", 8728)
	require.NoError(t, db.Model(&models.Setting{}).Where("key = ?", models.SettingCompanyName).Update("value", "Net Desa").Error)
	dir := t.TempDir()
	svc := NewBackupService(db, config.BackupConfig{Dir: dir, RetentionDays: 14})
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC) }
	return svc, dir
}

func TestBackupCreate(t *testing.T) {
	svc, dir := newBackupService(t)

	res, err := svc.Create(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	assert.Empty(t, res.Uploaded)
	assert.Regexp(t, `^hotspotbill_20260310_020000_[0-9a-f]{8}\.json\.gz$`, res.File.Name)
	assert.NotEmpty(t, res.File.SizeHuman)

	f, err := os.Open(filepath.Join(dir, res.File.Name))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var archive struct {
		Version   int                              `json:"version"`
		CreatedAt string                           `json:"created_at"`
		Tables    map[string][]jsoniter.RawMessage `json:"tables"`
	}
	require.NoError(t, jsoniter.NewDecoder(gz).Decode(&archive))
	assert.Equal(t, 1, archive.Version)
	assert.Equal(t, "2026-03-10T02:00:00Z", archive.CreatedAt)
	assert.Len(t, archive.Tables, len(backupTables))
	assert.Len(t, archive.Tables["routers"], 1)
	assert.Len(t, archive.Tables["settings"], 1)
	assert.NotContains(t, archive.Tables, "users")

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBackupUploadAndPrune(t *testing.T) {
	svc, dir := newBackupService(t)
	svc.cfg.FTPHost = "ftp.example.net"
	svc.cfg.SFTPHost = "sftp.example.net"

	store := &memStore{files: map[string][]byte{}}
	svc.dialFTP = func(config.BackupConfig) (remoteStore, error) { return store, nil }
	svc.dialSFTP = func(config.BackupConfig) (remoteStore, error) { return nil, errors.New("refused") }

	old := filepath.Join(dir, backupPrefix+"20260101_020000_deadbeef"+backupSuffix)
	require.NoError(t, os.WriteFile(old, []byte("x"), 0600))
	stale := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(old, stale, stale))
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0600))

	res, err := svc.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mem"}, res.Uploaded)
	assert.Empty(t, res.Error)

	require.Contains(t, store.files, res.File.Name)
	local, err := os.ReadFile(filepath.Join(dir, res.File.Name))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(local, store.files[res.File.Name]))
	assert.Equal(t, time.Date(2026, 2, 24, 2, 0, 0, 0, time.UTC), store.pruned)
	assert.Equal(t, 2, store.closed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, unrelated)
}

func TestBackupListPathDelete(t *testing.T) {
	svc, _ := newBackupService(t)
	ctx := context.Background()

	files, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, files)

	res, err := svc.Create(ctx)
	require.NoError(t, err)
	files, err = svc.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, res.File.Name, files[0].Name)

	_, err = svc.Path("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotAllowed)
	_, err = svc.Path(backupPrefix + "missing" + backupSuffix)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := svc.Path(res.File.Name)
	require.NoError(t, err)
	assert.FileExists(t, p)

	require.NoError(t, svc.Delete(res.File.Name))
	assert.NoFileExists(t, p)
	assert.ErrorIs(t, svc.Delete(res.File.Name), ErrNotFound)

	missing := NewBackupService(svc.db, config.BackupConfig{Dir: filepath.Join(t.TempDir(), "nope")})
	files, err = missing.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}
