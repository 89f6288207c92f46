// Package destination implements the single-file atomic writer: the
// stage → hash → compare → swap → backup → commit/rollback protocol of
// spec.md §4.3.
package destination

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/fetch/internal/digest"
	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/log"
	"github.com/cuemby/fetch/pkg/store"
	"github.com/cuemby/fetch/pkg/types"
)

const appSuffix = "fetch"

// Destination is a single local filesystem object (file, dir, or link)
// produced by one Source.
type Destination struct {
	store      store.Store
	path       string
	resourceID string
	sourceID   string
	kind       types.DestinationType
	mtime      time.Time
	hasMtime   bool
	force      bool

	existing *types.Destination // the dst row loaded at construction, if any

	stagePath   string
	backupPath  string
	staged      bool
	backedUp    bool
	newDigest    string
	newSize      int64
	updateNeeded bool
}

// New constructs a Destination for path, pre-loading any existing dst row
// and performing the pre-write checks of §4.3.
func New(st store.Store, path, resourceID, sourceID string, kind types.DestinationType, mtime time.Time, hasMtime, force bool) (*Destination, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve destination path %q: %w", path, err)
	}

	d := &Destination{
		store:      st,
		path:       absPath,
		resourceID: resourceID,
		sourceID:   sourceID,
		kind:       kind,
		mtime:      mtime,
		hasMtime:   hasMtime,
		force:      force,
		stagePath:  absPath + ".prt." + appSuffix,
		backupPath: absPath + ".bak." + appSuffix,
	}

	rows, err := st.DestinationsByPath(absPath)
	if err != nil {
		return nil, fmt.Errorf("load destination row for %q: %w", absPath, err)
	}
	if len(rows) > 0 {
		d.existing = rows[0]
		if d.existing.ResourceID != resourceID {
			return nil, fmt.Errorf("%s claimed by another resource: %w", absPath, fetcherrors.ErrConflict)
		}
	}

	if err := d.checkUserModified(); err != nil {
		return nil, err
	}

	return d, nil
}

// Path returns the destination's absolute path.
func (d *Destination) Path() string { return d.path }

// checkUserModified implements: "If the path exists on disk with a
// content-hash different from the stored digest and force is false, fail
// with UserModified."
func (d *Destination) checkUserModified() error {
	if d.existing == nil || d.existing.Digest == "" || d.force {
		return nil
	}
	// A directory's digest is derived from its path, not its content.
	if d.kind == types.DestDir {
		return nil
	}
	// A link's digest is the hash of its target, as WriteLink records it.
	if d.kind == types.DestLink {
		target, err := os.Readlink(d.path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("readlink %q: %w", d.path, err)
		}
		if digest.SumBytes([]byte(target)) != d.existing.Digest {
			return fmt.Errorf("%s was modified outside fetch: %w", d.path, fetcherrors.ErrUserModified)
		}
		return nil
	}
	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %q: %w", d.path, err)
	}
	defer f.Close()

	currentDigest, _, err := digest.Sum(f)
	if err != nil {
		return fmt.Errorf("hash %q: %w", d.path, err)
	}
	if currentDigest != d.existing.Digest {
		return fmt.Errorf("%s was modified outside fetch: %w", d.path, fetcherrors.ErrUserModified)
	}
	return nil
}

// WriteFile streams r into the staging file, hashing inline with the
// write (a single pass, per spec.md §9). Returns fetcherrors.Cancel() if
// the resulting content is identical to what is already committed.
func (d *Destination) WriteFile(r io.Reader) error {
	if d.kind != types.DestFile {
		return fmt.Errorf("WriteFile called on a %s destination: %w", d.kind, fetcherrors.ErrUnsupported)
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %q: %w", d.path, err)
	}

	f, err := os.OpenFile(d.stagePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open staging file %q: %w", d.stagePath, err)
	}
	dr := digest.NewReader(r)
	_, copyErr := io.Copy(f, dr)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(d.stagePath)
		return fmt.Errorf("write staging file %q: %w", d.stagePath, copyErr)
	}
	if closeErr != nil {
		os.Remove(d.stagePath)
		return fmt.Errorf("close staging file %q: %w", d.stagePath, closeErr)
	}
	d.staged = true

	newDigest := dr.Sum()

	// Compare new digest to stored digest. If equal, no-op.
	if d.existing != nil && d.existing.Digest == newDigest {
		os.Remove(d.stagePath)
		d.staged = false
		return fetcherrors.Cancel()
	}

	// No stored digest, path exists on disk with non-matching digest, no force: AlreadyExists.
	if d.existing == nil && !d.force {
		if onDiskDigest, ok := d.onDiskDigest(); ok && onDiskDigest != newDigest {
			os.Remove(d.stagePath)
			d.staged = false
			return fmt.Errorf("%s exists with different content: %w", d.path, fetcherrors.ErrAlreadyExists)
		}
	}

	d.newDigest = newDigest
	d.newSize = dr.Count()
	d.updateNeeded = true
	return nil
}

func (d *Destination) onDiskDigest() (string, bool) {
	f, err := os.Open(d.path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	sum, _, err := digest.Sum(f)
	if err != nil {
		return "", false
	}
	return sum, true
}

// WriteDir creates the directory idempotently; no staging is used.
func (d *Destination) WriteDir() error {
	if d.kind != types.DestDir {
		return fmt.Errorf("WriteDir called on a %s destination: %w", d.kind, fetcherrors.ErrUnsupported)
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", d.path, err)
	}
	d.newDigest = digest.SumBytes([]byte(d.path))
	if d.existing != nil && d.existing.Digest == d.newDigest {
		return fetcherrors.Cancel()
	}
	d.updateNeeded = true
	return nil
}

// WriteLink stages a symlink pointing at target, hashing the target bytes
// as the "content" to compare against.
func (d *Destination) WriteLink(target string) error {
	if d.kind != types.DestLink {
		return fmt.Errorf("WriteLink called on a %s destination: %w", d.kind, fetcherrors.ErrUnsupported)
	}
	os.Remove(d.stagePath)
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %q: %w", d.path, err)
	}
	if err := os.Symlink(target, d.stagePath); err != nil {
		return fmt.Errorf("stage symlink %q: %w", d.stagePath, err)
	}
	d.staged = true

	newDigest := digest.SumBytes([]byte(target))
	if d.existing != nil && d.existing.Digest == newDigest {
		os.Remove(d.stagePath)
		d.staged = false
		return fetcherrors.Cancel()
	}
	if d.existing == nil && !d.force {
		if onDiskTarget, err := os.Readlink(d.path); err == nil {
			if digest.SumBytes([]byte(onDiskTarget)) != newDigest {
				os.Remove(d.stagePath)
				d.staged = false
				return fmt.Errorf("%s exists with different target: %w", d.path, fetcherrors.ErrAlreadyExists)
			}
		}
	}

	d.newDigest = newDigest
	d.newSize = int64(len(target))
	d.updateNeeded = true
	return nil
}

// Commit performs the move: backup the prior committed file (best
// effort), rename staging into place, and record the dst row. No-op
// (besides recording stat) for directories, which were already created in
// place by WriteDir.
func (d *Destination) Commit(taskID, sourceID string) (*types.Destination, error) {
	if !d.updateNeeded {
		return d.existing, nil
	}

	if d.kind != types.DestDir {
		os.Remove(d.backupPath)
		if _, err := os.Lstat(d.path); err == nil {
			if err := os.Rename(d.path, d.backupPath); err != nil {
				return nil, fmt.Errorf("backup prior %q: %w", d.path, err)
			}
			d.backedUp = true
		}
		if err := os.Rename(d.stagePath, d.path); err != nil {
			d.rollbackBackup()
			return nil, fmt.Errorf("commit %q: %w", d.path, err)
		}
		d.staged = false

		if d.backedUp {
			d.copyStatFromBackup()
		}
	}

	st, err := os.Lstat(d.path)
	if err != nil {
		return nil, fmt.Errorf("stat committed %q: %w", d.path, err)
	}
	if d.hasMtime {
		_ = os.Chtimes(d.path, d.mtime, d.mtime)
	}

	row := &types.Destination{
		Path:   d.path,
		Digest: d.newDigest,
		Size:   d.newSize,
	}
	if sysStat, ok := st.Sys().(*syscall.Stat_t); ok {
		row.Mode = uint32(st.Mode())
		row.UID = sysStat.Uid
		row.GID = sysStat.Gid
	} else {
		row.Mode = uint32(st.Mode())
	}
	row.MTime = st.ModTime().UnixNano()
	row.CTime = time.Now().UnixNano()

	id, err := d.store.UpsertDestination(taskID, d.resourceID, sourceID, row, d.existing)
	if err != nil {
		return nil, fmt.Errorf("record destination %q: %w", d.path, err)
	}
	row.ID = id
	row.TaskID = taskID
	row.ResourceID = d.resourceID
	row.SourceID = sourceID
	d.existing = row
	return row, nil
}

// Clear removes the backup file left over from a successful commit.
func (d *Destination) Clear() {
	if d.backedUp {
		os.Remove(d.backupPath)
		d.backedUp = false
	}
}

// Cancel rolls back an in-progress or failed write: removes the staging
// file and restores the backup if one was made.
func (d *Destination) Cancel() {
	if d.staged {
		os.Remove(d.stagePath)
		d.staged = false
	}
	d.rollbackBackup()
}

// copyStatFromBackup restores owner/group/mode from the file the new
// content replaced, matching nun's _dst.py move() calling copystat(path_bak,
// path) right after the rename. Best effort: a failure here shouldn't fail
// the commit, since the content swap already succeeded.
func (d *Destination) copyStatFromBackup() {
	bst, err := os.Lstat(d.backupPath)
	if err != nil {
		return
	}
	sysStat, ok := bst.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	if err := os.Lchown(d.path, int(sysStat.Uid), int(sysStat.Gid)); err != nil {
		log.Logger.Warn().Err(err).Str("path", d.path).Msg("failed to restore ownership from backup")
	}
	if d.kind != types.DestLink {
		if err := os.Chmod(d.path, bst.Mode()); err != nil {
			log.Logger.Warn().Err(err).Str("path", d.path).Msg("failed to restore mode from backup")
		}
	}
}

func (d *Destination) rollbackBackup() {
	if !d.backedUp {
		return
	}
	if err := os.Rename(d.backupPath, d.path); err != nil {
		log.Logger.Error().Err(err).Str("path", d.path).Msg("failed to restore backup during rollback")
		return
	}
	d.backedUp = false
}
