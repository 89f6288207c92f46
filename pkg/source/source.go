// Package source implements the remote fetchable unit of spec.md §4.4: a
// named, typed, revisioned body that dispatches to download, extract, or
// install, writing one or more Destinations and reconciling orphans.
package source

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/fetch/pkg/archive"
	"github.com/cuemby/fetch/pkg/destination"
	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/log"
	"github.com/cuemby/fetch/pkg/metrics"
	"github.com/cuemby/fetch/pkg/store"
	"github.com/cuemby/fetch/pkg/types"
)

var zeroTime time.Time

var tarAliases = map[string]bool{
	".tar": true, ".tgz": true, ".tbz": true, ".tbz2": true,
	".tlz": true, ".txz": true,
	".tar.gz": true, ".tar.bz2": true, ".tar.lz": true, ".tar.xz": true,
}

// Source is one fetchable unit belonging to a Resource.
type Source struct {
	store  store.Store
	client *http.Client

	taskID     string
	resourceID string

	name            string
	url             string
	kind            types.SourceKind
	stripComponents int
	revision        string
	trusted         bool

	existing *types.Source
	id       string
}

// ID returns the store id of this source's src row, valid after New (if a
// row already existed) or after Download/Extract has run.
func (s *Source) ID() string {
	if s.id != "" {
		return s.id
	}
	if s.existing != nil {
		return s.existing.ID
	}
	return ""
}

// New constructs a Source for a given resource, loading any existing src
// row for (resourceID, name) used by the front guard.
func New(st store.Store, client *http.Client, taskID, resourceID, name, rawURL string, kind types.SourceKind, stripComponents int, revision string, trusted bool) (*Source, error) {
	s := &Source{
		store:           st,
		client:          client,
		taskID:          taskID,
		resourceID:      resourceID,
		name:            name,
		url:             rawURL,
		kind:            kind,
		stripComponents: stripComponents,
		revision:        revision,
		trusted:         trusted,
	}
	if s.kind == "" {
		s.kind = inferKind(name)
	}

	existing, err := st.FindSource(resourceID, name)
	if err != nil {
		return nil, fmt.Errorf("load source row for %q: %w", name, err)
	}
	s.existing = existing
	return s, nil
}

// inferKind maps a file name's extension to a SourceKind, per spec.md
// §4.4: ".tar.{gz,bz2,lz,xz}" and the tgz/tbz/tlz/txz aliases all
// collapse to "tar".
func inferKind(name string) types.SourceKind {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".zip") {
		return types.SourceZip
	}
	for ext := range tarAliases {
		if strings.HasSuffix(lower, ext) {
			return types.SourceTar
		}
	}
	return types.SourceRaw
}

// ShouldSkip implements the front guard shared by download/extract/install:
// "if update is true, force is false, a prior src row exists for
// (res_id, name), and the stored revision equals the current revision,
// skip entirely."
func (s *Source) ShouldSkip(update, force bool) bool {
	return update && !force && s.existing != nil && s.revision != "" && s.existing.Revision == s.revision
}

// ProbeRevision derives a revision via HEAD when the Platform adapter did
// not already supply one, per spec.md §4.4: "ETag (skipping weak ETags
// prefixed W/) falling back to Last-Modified."
func (s *Source) ProbeRevision(ctx context.Context) error {
	if s.revision != "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return fmt.Errorf("build HEAD request for %q: %w", s.url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe revision for %q: %w", s.url, err)
	}
	resp.Body.Close()

	etag := resp.Header.Get("ETag")
	if etag != "" && !strings.HasPrefix(etag, "W/") {
		s.revision = strings.Trim(etag, `"`)
		return nil
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		s.revision = lm
		return nil
	}
	if etag != "" {
		// Only a weak ETag was offered; it is better than nothing.
		s.revision = strings.Trim(strings.TrimPrefix(etag, "W/"), `"`)
	}
	return nil
}

// fetch issues the GET for the source body; a status of 400 or above is
// returned as ErrNotFound. The Content-Disposition filename inference
// (spec.md §12) is done by inferredName on the returned response.
func (s *Source) fetch(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET request for %q: %w", s.url, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", s.url, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %q: status %d: %w", s.url, resp.StatusCode, fetcherrors.ErrNotFound)
	}
	return resp, nil
}

func (s *Source) inferredName(resp *http.Response) string {
	if s.name != "" && path.Ext(s.name) != "" {
		return s.name
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				return fn
			}
		}
	}
	if u, err := url.Parse(s.url); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return s.name
}

// Download resolves the destination path, streams the body through one
// Destination, and records src/dst rows on success.
func (s *Source) Download(ctx context.Context, destDir string, force bool) error {
	logger := log.WithSource(s.taskID, s.name)
	fetchTimer := metrics.NewTimer()

	resp, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fetchTimer.ObserveDurationVec(metrics.SourceFetchDuration, string(s.kind))

	name := s.inferredName(resp)
	destPath := path.Join(destDir, name)

	dst, err := destination.New(s.store, destPath, s.resourceID, "", types.DestFile, zeroTime, false, force)
	if err != nil {
		return fmt.Errorf("prepare destination %q: %w", destPath, err)
	}

	writeTimer := metrics.NewTimer()
	writeErr := dst.WriteFile(resp.Body)
	writeTimer.ObserveDurationVec(metrics.DestinationWriteDuration, string(types.DestFile))
	if writeErr != nil && !fetcherrors.IsCancel(writeErr) {
		dst.Cancel()
		return fmt.Errorf("write %q: %w", destPath, writeErr)
	}

	srcID, err := s.store.UpsertSource(s.taskID, s.resourceID, "", s.name, s.revision, resp.ContentLength, s.existingRef())
	if err != nil {
		dst.Cancel()
		return fmt.Errorf("record source %q: %w", s.name, err)
	}
	s.id = srcID

	if fetcherrors.IsCancel(writeErr) {
		logger.Debug().Str("path", destPath).Msg("destination unchanged, skipping commit")
		metrics.DestinationsUnchangedTotal.Inc()
		// Commit on an unchanged destination only returns its existing row,
		// which stays live so reconcile does not unlink the file.
		if row, _ := dst.Commit(s.taskID, srcID); row != nil {
			return s.reconcile(srcID, []string{row.ID})
		}
		return s.reconcile(srcID, nil)
	}

	row, err := dst.Commit(s.taskID, srcID)
	if err != nil {
		dst.Cancel()
		return fmt.Errorf("commit %q: %w", destPath, err)
	}
	dst.Clear()
	metrics.DestinationsWrittenTotal.WithLabelValues(string(types.DestFile)).Inc()
	metrics.BytesWrittenTotal.Add(float64(row.Size))
	logger.Info().Str("path", destPath).Msg("downloaded")

	return s.reconcile(srcID, []string{row.ID})
}

// Extract opens the streamed body as an archive and writes one Destination
// per member, applying strip_components and the untrusted-path guard.
func (s *Source) Extract(ctx context.Context, destDir string, force bool) error {
	logger := log.WithSource(s.taskID, s.name)
	fetchTimer := metrics.NewTimer()

	resp, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fetchTimer.ObserveDurationVec(metrics.SourceFetchDuration, string(s.kind))

	format := "tar"
	if s.kind == types.SourceZip {
		format = "zip"
	}
	it, err := archive.Open(format, resp.Body)
	if err != nil {
		return fmt.Errorf("open archive %q: %w", s.name, err)
	}
	defer it.Close()

	srcID, err := s.store.UpsertSource(s.taskID, s.resourceID, "", s.name, s.revision, resp.ContentLength, s.existingRef())
	if err != nil {
		return fmt.Errorf("record source %q: %w", s.name, err)
	}
	s.id = srcID

	var committed []*destination.Destination
	var committedIDs []string
	rollback := func() {
		for i := len(committed) - 1; i >= 0; i-- {
			committed[i].Cancel()
		}
	}

	for {
		member, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			rollback()
			return fmt.Errorf("read archive %q: %w", s.name, err)
		}

		destPath, err := resolveMemberPath(destDir, member.Path, s.stripComponents, s.trusted)
		if err != nil {
			logger.Warn().Str("member", member.Path).Err(err).Msg("skipping unsafe member")
			continue
		}
		if destPath == "" {
			continue // stripped away entirely
		}

		dst, err := destination.New(s.store, destPath, s.resourceID, "", member.Type, member.MTime, !member.MTime.IsZero(), force)
		if err != nil {
			// The member is left as it is on disk (e.g. UserModified); its
			// existing dst row stays live so reconcile does not unlink it.
			logger.Warn().Str("path", destPath).Err(err).Msg("skipping member")
			if abs, absErr := filepath.Abs(destPath); absErr == nil {
				if rows, _ := s.store.DestinationsByPath(abs); len(rows) > 0 {
					committedIDs = append(committedIDs, rows[0].ID)
				}
			}
			continue
		}

		writeTimer := metrics.NewTimer()
		var writeErr error
		switch member.Type {
		case types.DestDir:
			writeErr = dst.WriteDir()
		case types.DestLink:
			writeErr = dst.WriteLink(member.Target)
		default:
			writeErr = dst.WriteFile(member.Data)
		}
		writeTimer.ObserveDurationVec(metrics.DestinationWriteDuration, string(member.Type))
		if closer, ok := member.Data.(io.Closer); ok {
			closer.Close()
		}

		if writeErr != nil {
			if !fetcherrors.IsCancel(writeErr) {
				// A single member's write failure is skipped, not fatal to
				// the whole extraction (spec.md §4.4).
				logger.Warn().Str("path", destPath).Err(writeErr).Msg("member write skipped")
				dst.Cancel()
			} else {
				metrics.DestinationsUnchangedTotal.Inc()
			}
			// Commit without a staged write only returns the existing row,
			// which stays live so reconcile does not unlink it.
			if row, _ := dst.Commit(s.taskID, srcID); row != nil {
				committedIDs = append(committedIDs, row.ID)
			}
			continue
		}

		row, err := dst.Commit(s.taskID, srcID)
		if err != nil {
			dst.Cancel()
			rollback()
			return fmt.Errorf("commit member %q: %w", destPath, err)
		}
		metrics.DestinationsWrittenTotal.WithLabelValues(string(member.Type)).Inc()
		metrics.BytesWrittenTotal.Add(float64(row.Size))
		committed = append(committed, dst)
		committedIDs = append(committedIDs, row.ID)
	}

	for _, dst := range committed {
		dst.Clear()
	}
	logger.Info().Int("members", len(committed)).Msg("extracted")

	return s.reconcile(srcID, committedIDs)
}

// Install is unsupported by the reference design (spec.md §4.4).
func (s *Source) Install(ctx context.Context, destDir string, force bool) error {
	return fmt.Errorf("install has no type-specific adapter for %q: %w", s.name, fetcherrors.ErrUnsupported)
}

// resolveMemberPath applies strip_components and the untrusted-path guard
// to an archive member's path, returning "" if the member is entirely
// stripped away.
func resolveMemberPath(destDir, memberPath string, strip int, trusted bool) (string, error) {
	clean := path.Clean(memberPath)
	parts := strings.Split(clean, "/")
	if strip > 0 {
		if strip >= len(parts) {
			return "", nil
		}
		parts = parts[strip:]
	}
	rel := path.Join(parts...)

	if !trusted {
		if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return "", fmt.Errorf("member path %q escapes destination: %w", memberPath, fetcherrors.ErrUnsafe)
		}
	}
	return path.Join(destDir, rel), nil
}

// reconcile implements the per-source orphan reconciliation of spec.md
// §4.4: any dst row for this source not in committedIDs is unlinked and
// deleted.
func (s *Source) reconcile(sourceID string, committedIDs []string) error {
	live := make(map[string]bool, len(committedIDs))
	for _, id := range committedIDs {
		live[id] = true
	}

	rows, err := s.store.DestinationsBySource(sourceID)
	if err != nil {
		return fmt.Errorf("list destinations for source %q: %w", sourceID, err)
	}
	for _, row := range rows {
		if live[row.ID] {
			continue
		}
		if err := removePath(row.Path); err != nil {
			return fmt.Errorf("unlink orphan %q: %w", row.Path, err)
		}
		if err := s.store.DeleteDestination(row.ID); err != nil {
			return fmt.Errorf("delete orphan row %q: %w", row.ID, err)
		}
		metrics.OrphansPurgedTotal.WithLabelValues("destination").Inc()
		log.WithSource(s.taskID, s.name).Info().Str("path", row.Path).Msg("orphan destination purged")
	}
	return nil
}

func (s *Source) existingRef() *types.Source { return s.existing }

// Name returns the source's name within its resource.
func (s *Source) Name() string { return s.name }

// Kind returns the source's resolved kind (raw, tar, or zip).
func (s *Source) Kind() types.SourceKind { return s.kind }

// removePath unlinks a destination regardless of whether it is a file,
// symlink, or directory.
func removePath(p string) error {
	err := os.RemoveAll(p)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
