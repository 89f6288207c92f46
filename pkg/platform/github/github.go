// Package github implements the GitHub reference Platform adapter of
// spec.md §4.6: resource names of shape
// "github://owner/repo/ref[/selector]" resolve to a list of Sources.
package github

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	gogithub "github.com/google/go-github/v29/github"
	"golang.org/x/oauth2"

	"github.com/cuemby/fetch/pkg/cache"
	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/platform"
	"github.com/cuemby/fetch/pkg/types"
)

const rawContentHost = "https://raw.githubusercontent.com"

// Adapter is the GitHub reference Platform.
type Adapter struct {
	client *gogithub.Client
}

// New constructs a GitHub Adapter. token may be empty for unauthenticated,
// rate-limited access. c backs the adapter's API cache (spec.md §4.6); it
// may be nil to disable caching (tests).
func New(token string, c *cache.Cache) *Adapter {
	hc := &http.Client{}
	client := gogithub.NewClient(hc)

	ct := &cachingTransport{cache: c, next: http.DefaultTransport}
	ct.rateLimited = func(ctx context.Context) (int, error) {
		rl, _, err := client.RateLimits(ctx)
		if err != nil {
			return 0, err
		}
		if rl == nil || rl.Core == nil {
			return 0, nil
		}
		return rl.Core.Remaining, nil
	}
	hc.Transport = ct

	if token != "" {
		hc.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   ct,
		}
	}

	return &Adapter{client: client}
}

// refResult is the outcome of resolving a ref to a concrete revision.
type refResult struct {
	revision string
	tarball  string
	zipball  string
	assets   []*gogithub.ReleaseAsset
}

// Sources implements platform.Platform.
func (a *Adapter) Sources(ctx context.Context, resourceName, resourceID string) ([]*platform.SourceSpec, error) {
	_, rest, err := platform.ParseName(resourceName)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(rest, "/", 4)
	if len(parts) < 3 {
		return nil, fmt.Errorf("resource name %q: expected github://owner/repo/ref[/selector]: %w", resourceName, fetcherrors.ErrInvalid)
	}
	owner, repo, ref := parts[0], parts[1], parts[2]
	selector := "tarball"
	if len(parts) == 4 && parts[3] != "" {
		selector = parts[3]
	}

	rr, err := a.resolveRef(ctx, owner, repo, ref)
	if err != nil {
		return nil, a.diagnoseNotFound(ctx, owner, repo, ref, err)
	}

	switch selector {
	case "tarball":
		return []*platform.SourceSpec{{
			Name:            repo + ".tar",
			URL:             rr.tarball,
			Kind:            types.SourceTar,
			StripComponents: 1,
			Revision:        rr.revision,
		}}, nil
	case "zipball":
		return []*platform.SourceSpec{{
			Name:            repo + ".zip",
			URL:             rr.zipball,
			Kind:            types.SourceZip,
			StripComponents: 1,
			Revision:        rr.revision,
		}}, nil
	default:
		if specs := matchAssets(rr.assets, selector, rr.revision); len(specs) > 0 {
			return specs, nil
		}
		if len(rr.assets) > 0 && hasGlobMeta(selector) {
			// An explicit release was resolved and the selector looked
			// like an asset glob, but nothing matched.
			return nil, fmt.Errorf("no release asset matches %q: %w", selector, fetcherrors.ErrNotFound)
		}
		return []*platform.SourceSpec{{
			Name:     path.Base(selector),
			URL:      fmt.Sprintf("%s/%s/%s/%s/%s", rawContentHost, owner, repo, rr.revision, selector),
			Revision: rr.revision,
		}}, nil
	}
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func matchAssets(assets []*gogithub.ReleaseAsset, selector, revision string) []*platform.SourceSpec {
	var specs []*platform.SourceSpec
	for _, asset := range assets {
		name := asset.GetName()
		matched, err := path.Match(selector, name)
		if err != nil || !matched {
			if name != selector {
				continue
			}
		}
		specs = append(specs, &platform.SourceSpec{
			Name:     name,
			URL:      asset.GetBrowserDownloadURL(),
			Revision: revision,
		})
	}
	return specs
}

// resolveRef implements the resolution order of spec.md §4.6: "ref may be
// latest (falls back to latest release, then default branch)"; otherwise
// try release, then branch, then tag, then commit, short-circuiting on
// the first hit.
func (a *Adapter) resolveRef(ctx context.Context, owner, repo, ref string) (*refResult, error) {
	if ref == "latest" {
		if rel, _, err := a.client.Repositories.GetLatestRelease(ctx, owner, repo); err == nil {
			return releaseResult(rel), nil
		}
		branch, _, err := a.client.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		return a.resolveRef(ctx, owner, repo, branch.GetDefaultBranch())
	}

	if rel, _, err := a.client.Repositories.GetReleaseByTag(ctx, owner, repo, ref); err == nil {
		return releaseResult(rel), nil
	}
	if br, _, err := a.client.Repositories.GetBranch(ctx, owner, repo, ref); err == nil {
		sha := br.GetCommit().GetSHA()
		return &refResult{
			revision: sha,
			tarball:  archiveURL(owner, repo, "tarball", ref),
			zipball:  archiveURL(owner, repo, "zipball", ref),
		}, nil
	}
	if tags, _, err := a.client.Repositories.ListTags(ctx, owner, repo, nil); err == nil {
		for _, t := range tags {
			if t.GetName() == ref {
				sha := t.GetCommit().GetSHA()
				return &refResult{
					revision: sha,
					tarball:  archiveURL(owner, repo, "tarball", ref),
					zipball:  archiveURL(owner, repo, "zipball", ref),
				}, nil
			}
		}
	}
	if commit, _, err := a.client.Repositories.GetCommit(ctx, owner, repo, ref); err == nil {
		sha := commit.GetSHA()
		return &refResult{
			revision: sha,
			tarball:  archiveURL(owner, repo, "tarball", sha),
			zipball:  archiveURL(owner, repo, "zipball", sha),
		}, nil
	}

	return nil, fmt.Errorf("ref %q not found as a release, branch, tag, or commit: %w", ref, fetcherrors.ErrNotFound)
}

func releaseResult(rel *gogithub.RepositoryRelease) *refResult {
	return &refResult{
		revision: rel.GetCreatedAt().Format("2006-01-02T15:04:05Z"),
		tarball:  rel.GetTarballURL(),
		zipball:  rel.GetZipballURL(),
		assets:   rel.Assets,
	}
}

func archiveURL(owner, repo, format, ref string) string {
	return fmt.Sprintf("https://api.github.com/repos/%s/%s/%s/%s", owner, repo, format, ref)
}

// diagnoseNotFound implements spec.md §4.6's not-found diagnosis: probe
// orthogonally (owner exists? repo exists? ref exists?) and fail with the
// most specific message.
func (a *Adapter) diagnoseNotFound(ctx context.Context, owner, repo, ref string, cause error) error {
	if _, _, err := a.client.Users.Get(ctx, owner); err != nil {
		return fmt.Errorf("owner %q does not exist: %w", owner, fetcherrors.ErrNotFound)
	}
	if _, _, err := a.client.Repositories.Get(ctx, owner, repo); err != nil {
		return fmt.Errorf("repository %q/%q does not exist: %w", owner, repo, fetcherrors.ErrNotFound)
	}
	return fmt.Errorf("ref %q does not exist in %s/%s: %w", ref, owner, repo, fetcherrors.ErrNotFound)
}

var _ platform.Platform = (*Adapter)(nil)
