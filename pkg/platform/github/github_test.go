package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	gogithub "github.com/google/go-github/v29/github"

	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasGlobMeta(t *testing.T) {
	assert.True(t, hasGlobMeta("*.tar.gz"))
	assert.True(t, hasGlobMeta("app-[a-z].bin"))
	assert.False(t, hasGlobMeta("app-linux-amd64"))
}

func TestMatchAssetsExactAndGlob(t *testing.T) {
	assets := []*gogithub.ReleaseAsset{
		{Name: gogithub.String("app-linux-amd64.tar.gz"), BrowserDownloadURL: gogithub.String("https://dl/1")},
		{Name: gogithub.String("app-darwin-amd64.tar.gz"), BrowserDownloadURL: gogithub.String("https://dl/2")},
		{Name: gogithub.String("checksums.txt"), BrowserDownloadURL: gogithub.String("https://dl/3")},
	}

	exact := matchAssets(assets, "checksums.txt", "rev-1")
	require.Len(t, exact, 1)
	assert.Equal(t, "https://dl/3", exact[0].URL)

	glob := matchAssets(assets, "app-*-amd64.tar.gz", "rev-1")
	assert.Len(t, glob, 2)

	none := matchAssets(assets, "app-windows-amd64.zip", "rev-1")
	assert.Empty(t, none)
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	a := New("", nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	a.client.BaseURL = base
	return a
}

func TestSourcesLatestFallsBackToDefaultBranch(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/owner/repo/releases/latest":
			http.Error(w, "not found", http.StatusNotFound)
		case "/repos/owner/repo":
			json.NewEncoder(w).Encode(&gogithub.Repository{DefaultBranch: gogithub.String("main")})
		case "/repos/owner/repo/releases/tags/main":
			http.Error(w, "not found", http.StatusNotFound)
		case "/repos/owner/repo/branches/main":
			json.NewEncoder(w).Encode(&gogithub.Branch{
				Name:   gogithub.String("main"),
				Commit: &gogithub.RepositoryCommit{SHA: gogithub.String("deadbeef")},
			})
		default:
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		}
	})

	specs, err := a.Sources(context.Background(), "github://owner/repo/latest", "res-1")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "repo.tar", specs[0].Name)
	assert.Equal(t, types.SourceTar, specs[0].Kind)
	assert.Equal(t, 1, specs[0].StripComponents)
	assert.Equal(t, "deadbeef", specs[0].Revision)
}

func TestSourcesReleaseAssetSelector(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/owner/repo/releases/tags/v1.0.0" {
			json.NewEncoder(w).Encode(&gogithub.RepositoryRelease{
				Assets: []*gogithub.ReleaseAsset{
					{Name: gogithub.String("app-linux-amd64.tar.gz"), BrowserDownloadURL: gogithub.String("https://dl/1")},
				},
			})
			return
		}
		http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
	})

	specs, err := a.Sources(context.Background(), "github://owner/repo/v1.0.0/app-linux-amd64.tar.gz", "res-1")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "https://dl/1", specs[0].URL)
}

func TestSourcesUnresolvableRefDiagnosesNotFound(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/owner":
			json.NewEncoder(w).Encode(&gogithub.User{Login: gogithub.String("owner")})
		case "/repos/owner/repo":
			json.NewEncoder(w).Encode(&gogithub.Repository{DefaultBranch: gogithub.String("main")})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})

	_, err := a.Sources(context.Background(), "github://owner/repo/nonexistent-ref", "res-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcherrors.ErrNotFound)
}
