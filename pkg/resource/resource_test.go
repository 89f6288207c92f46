package resource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/platform"
	"github.com/cuemby/fetch/pkg/store"
	"github.com/cuemby/fetch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlatform struct {
	specs []*platform.SourceSpec
	err   error
}

func (p *fakePlatform) Sources(ctx context.Context, resourceName, resourceID string) ([]*platform.SourceSpec, error) {
	return p.specs, p.err
}

// registerTestScheme registers a fresh fakePlatform under a scheme unique
// to the calling test, so parallel tests never clobber each other's
// registration in the shared package-level registry.
func registerTestScheme(t *testing.T, scheme string, p *fakePlatform) {
	t.Helper()
	platform.Register(scheme, p)
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fetch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestApplyDownloadCreatesResourceAndWritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	registerTestScheme(t, "applytest1", &fakePlatform{specs: []*platform.SourceSpec{
		{Name: "file.bin", URL: server.URL, Revision: "rev-1"},
	}})

	st := openTestStore(t)
	destRoot := t.TempDir()

	taskID, err := st.NewTask()
	require.NoError(t, err)

	name := "applytest1://owner/repo"
	err = Apply(context.Background(), st, server.Client(), destRoot, taskID, name, types.ActionDownload, "", false)
	require.NoError(t, err)

	res, err := st.FindResource(name)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, types.ActionDownload, res.Action)

	data, err := os.ReadFile(filepath.Join(destRoot, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestApplyCreateRefusesExistingWithoutForce(t *testing.T) {
	registerTestScheme(t, "applytest2", &fakePlatform{specs: nil})

	st := openTestStore(t)
	destRoot := t.TempDir()
	taskID, err := st.NewTask()
	require.NoError(t, err)

	name := "applytest2://owner/repo"
	require.NoError(t, Apply(context.Background(), st, http.DefaultClient, destRoot, taskID, name, types.ActionDownload, "", false))

	err = Apply(context.Background(), st, http.DefaultClient, destRoot, taskID, name, types.ActionDownload, "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcherrors.ErrAlreadyExists)
}

func TestApplyUpdateRequiresExistingResource(t *testing.T) {
	st := openTestStore(t)
	destRoot := t.TempDir()
	taskID, err := st.NewTask()
	require.NoError(t, err)

	err = Apply(context.Background(), st, http.DefaultClient, destRoot, taskID, "applytest3://owner/repo", types.ActionUpdate, "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcherrors.ErrInvalid)
}

func TestApplyUpdateReappliesStoredAction(t *testing.T) {
	rev := "rev-1"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"`+rev+`"`)
		w.Write([]byte("v" + rev))
	}))
	defer server.Close()

	fp := &fakePlatform{specs: []*platform.SourceSpec{{Name: "file.bin", URL: server.URL}}}
	registerTestScheme(t, "applytest4", fp)

	st := openTestStore(t)
	destRoot := t.TempDir()
	taskID, err := st.NewTask()
	require.NoError(t, err)

	name := "applytest4://owner/repo"
	require.NoError(t, Apply(context.Background(), st, server.Client(), destRoot, taskID, name, types.ActionDownload, "", false))

	rev = "rev-2"
	err = Apply(context.Background(), st, server.Client(), destRoot, taskID, name, types.ActionUpdate, "", false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(destRoot, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, "vrev-2", string(data))
}

func TestApplyRemoveDeletesFilesAndRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	registerTestScheme(t, "applytest5", &fakePlatform{specs: []*platform.SourceSpec{
		{Name: "file.bin", URL: server.URL, Revision: "rev-1"},
	}})

	st := openTestStore(t)
	destRoot := t.TempDir()
	taskID, err := st.NewTask()
	require.NoError(t, err)

	name := "applytest5://owner/repo"
	require.NoError(t, Apply(context.Background(), st, server.Client(), destRoot, taskID, name, types.ActionDownload, "", false))

	destPath := filepath.Join(destRoot, "file.bin")
	_, err = os.Stat(destPath)
	require.NoError(t, err)

	require.NoError(t, Apply(context.Background(), st, server.Client(), destRoot, taskID, name, types.ActionRemove, "", false))

	_, err = os.Stat(destPath)
	assert.True(t, os.IsNotExist(err))

	res, err := st.FindResource(name)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestApplyUnsupportedAction(t *testing.T) {
	st := openTestStore(t)
	destRoot := t.TempDir()
	taskID, err := st.NewTask()
	require.NoError(t, err)

	err = Apply(context.Background(), st, http.DefaultClient, destRoot, taskID, "applytest6://owner/repo", types.Action("bogus"), "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcherrors.ErrUnsupported)
}

func TestApplySourcesAggregatesFailuresIntoTaskError(t *testing.T) {
	registerTestScheme(t, "applytest7", &fakePlatform{specs: []*platform.SourceSpec{
		{Name: "missing.bin", URL: "https://127.0.0.1:0/does-not-exist"},
	}})

	st := openTestStore(t)
	destRoot := t.TempDir()
	taskID, err := st.NewTask()
	require.NoError(t, err)

	err = Apply(context.Background(), st, http.DefaultClient, destRoot, taskID, "applytest7://owner/repo", types.ActionDownload, "", false)
	require.Error(t, err)
	taskErr, ok := fetcherrors.AsTaskError(err)
	require.True(t, ok)
	assert.True(t, taskErr.HasFailures())
}

func TestApplySourcesReconcilesOrphanedSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	fp := &fakePlatform{specs: []*platform.SourceSpec{
		{Name: "a.bin", URL: server.URL},
		{Name: "b.bin", URL: server.URL},
	}}
	registerTestScheme(t, "applytest8", fp)

	st := openTestStore(t)
	destRoot := t.TempDir()
	taskID, err := st.NewTask()
	require.NoError(t, err)

	name := "applytest8://owner/repo"
	require.NoError(t, Apply(context.Background(), st, server.Client(), destRoot, taskID, name, types.ActionDownload, "", false))

	_, err = os.Stat(filepath.Join(destRoot, "b.bin"))
	require.NoError(t, err)

	// b.bin is no longer emitted by the platform; a re-apply with force
	// must remove it as an orphan.
	fp.specs = []*platform.SourceSpec{{Name: "a.bin", URL: server.URL}}
	require.NoError(t, Apply(context.Background(), st, server.Client(), destRoot, taskID, name, types.ActionDownload, "", true))

	_, err = os.Stat(filepath.Join(destRoot, "b.bin"))
	assert.True(t, os.IsNotExist(err))
}
