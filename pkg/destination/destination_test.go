package destination

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal in-memory store.Store double for destination tests.
type fakeStore struct {
	byPath map[string]*types.Destination
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byPath: make(map[string]*types.Destination)}
}

func (s *fakeStore) NewTask() (string, error) { return "tsk-1", nil }
func (s *fakeStore) FindResourceByGlob(pattern string) ([]*types.Resource, error) {
	return nil, nil
}
func (s *fakeStore) FindResource(name string) (*types.Resource, error) { return nil, nil }
func (s *fakeStore) GetResource(id string) (*types.Resource, error)    { return nil, nil }
func (s *fakeStore) UpsertResource(taskID, resourceID, name string, action types.Action, arguments string, ref *types.Resource) (string, error) {
	return "res-1", nil
}
func (s *fakeStore) DeleteResource(id string) error { return nil }
func (s *fakeStore) UpsertSource(taskID, resourceID, sourceID, name, revision string, size int64, ref *types.Source) (string, error) {
	return "src-1", nil
}
func (s *fakeStore) FindSource(resourceID, name string) (*types.Source, error) { return nil, nil }
func (s *fakeStore) DeleteSource(id string) error                              { return nil }
func (s *fakeStore) SourcesByResource(resourceID string) ([]*types.Source, error) {
	return nil, nil
}

func (s *fakeStore) UpsertDestination(taskID, resourceID, sourceID string, d *types.Destination, ref *types.Destination) (string, error) {
	id := ""
	if ref != nil && ref.ID != "" {
		id = ref.ID
	} else {
		s.nextID++
		id = "dst-" + string(rune('0'+s.nextID))
	}
	cp := *d
	cp.ID = id
	cp.SourceID = sourceID
	s.byPath[d.Path] = &cp
	return id, nil
}
func (s *fakeStore) DeleteDestination(id string) error {
	for path, d := range s.byPath {
		if d.ID == id {
			delete(s.byPath, path)
		}
	}
	return nil
}
func (s *fakeStore) DestinationsByPath(path string) ([]*types.Destination, error) {
	if d, ok := s.byPath[path]; ok {
		return []*types.Destination{d}, nil
	}
	return nil, nil
}
func (s *fakeStore) DestinationsBySource(sourceID string) ([]*types.Destination, error) {
	var out []*types.Destination
	for _, d := range s.byPath {
		if d.SourceID == sourceID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (s *fakeStore) Close() error { return nil }

func TestWriteFileCommitsNewContent(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	path := filepath.Join(dir, "a.txt")

	d, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)

	err = d.WriteFile(strings.NewReader("hello"))
	require.NoError(t, err)

	row, err := d.Commit("tsk-1", "src-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), row.Size)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	d.Clear()
	_, err = os.Lstat(path + ".bak.fetch")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileCancelsWhenUnchanged(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	path := filepath.Join(dir, "a.txt")

	d1, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)
	require.NoError(t, d1.WriteFile(strings.NewReader("same")))
	_, err = d1.Commit("tsk-1", "src-1")
	require.NoError(t, err)
	d1.Clear()

	d2, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)
	err = d2.WriteFile(strings.NewReader("same"))
	assert.True(t, fetcherrors.IsCancel(err))
}

func TestWriteFileDetectsUserModification(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	path := filepath.Join(dir, "a.txt")

	d1, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)
	require.NoError(t, d1.WriteFile(strings.NewReader("original")))
	_, err = d1.Commit("tsk-1", "src-1")
	require.NoError(t, err)
	d1.Clear()

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	_, err = New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	assert.ErrorIs(t, err, fetcherrors.ErrUserModified)
}

func TestWriteFileForceBypassesUserModification(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	path := filepath.Join(dir, "a.txt")

	d1, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)
	require.NoError(t, d1.WriteFile(strings.NewReader("original")))
	_, err = d1.Commit("tsk-1", "src-1")
	require.NoError(t, err)
	d1.Clear()

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	d2, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, true)
	require.NoError(t, err)
	require.NoError(t, d2.WriteFile(strings.NewReader("replacement")))
	_, err = d2.Commit("tsk-1", "src-1")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "replacement", string(data))
}

func TestCancelRestoresBackup(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	path := filepath.Join(dir, "a.txt")

	d1, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)
	require.NoError(t, d1.WriteFile(strings.NewReader("v1")))
	_, err = d1.Commit("tsk-1", "src-1")
	require.NoError(t, err)
	d1.Clear()

	d2, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)
	require.NoError(t, d2.WriteFile(strings.NewReader("v2")))

	// Simulate a failure after staging but before a successful Commit: the
	// caller cancels rather than committing.
	d2.Cancel()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestCommitPreservesModeFromPriorFile(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	path := filepath.Join(dir, "a.txt")

	d1, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, false)
	require.NoError(t, err)
	require.NoError(t, d1.WriteFile(strings.NewReader("v1")))
	_, err = d1.Commit("tsk-1", "src-1")
	require.NoError(t, err)
	d1.Clear()

	require.NoError(t, os.Chmod(path, 0o640))

	d2, err := New(st, path, "res-1", "src-1", types.DestFile, time.Time{}, false, true)
	require.NoError(t, err)
	require.NoError(t, d2.WriteFile(strings.NewReader("v2")))
	_, err = d2.Commit("tsk-1", "src-1")
	require.NoError(t, err)
	d2.Clear()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestWriteDirIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	path := filepath.Join(dir, "sub")

	d, err := New(st, path, "res-1", "src-1", types.DestDir, time.Time{}, false, false)
	require.NoError(t, err)
	require.NoError(t, d.WriteDir())
	_, err = d.Commit("tsk-1", "src-1")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	d2, err := New(st, path, "res-1", "src-1", types.DestDir, time.Time{}, false, false)
	require.NoError(t, err)
	err = d2.WriteDir()
	assert.True(t, fetcherrors.IsCancel(err))
}
