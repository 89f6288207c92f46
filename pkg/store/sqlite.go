package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/fetch/pkg/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using a pure-Go SQLite driver. Every public
// method is its own short transaction, matching spec.md's "each write is
// its own commit point" contract.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens (and, if necessary, creates and migrates) the sqlite database
// at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(2000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers, avoid SQLITE_BUSY storms

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) NewTask() (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO tsk (id, timestamp) VALUES (?, ?)`, id, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("new task: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FindResourceByGlob(pattern string) ([]*types.Resource, error) {
	var rows []*types.Resource
	err := s.db.Select(&rows, `SELECT id, tsk_id, name, action, arguments FROM res WHERE name GLOB ?`, pattern)
	if err != nil {
		return nil, fmt.Errorf("find resources by glob %q: %w", pattern, err)
	}
	return rows, nil
}

func (s *SQLiteStore) FindResource(name string) (*types.Resource, error) {
	var r types.Resource
	err := s.db.Get(&r, `SELECT id, tsk_id, name, action, arguments FROM res WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find resource %q: %w", name, err)
	}
	return &r, nil
}

func (s *SQLiteStore) GetResource(id string) (*types.Resource, error) {
	var r types.Resource
	err := s.db.Get(&r, `SELECT id, tsk_id, name, action, arguments FROM res WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %q: %w", id, err)
	}
	return &r, nil
}

func (s *SQLiteStore) UpsertResource(taskID, resourceID, name string, action types.Action, arguments string, ref *types.Resource) (string, error) {
	if ref == nil {
		if resourceID == "" {
			resourceID = uuid.NewString()
		}
		_, err := s.db.Exec(
			`INSERT INTO res (id, tsk_id, name, action, arguments) VALUES (?, ?, ?, ?, ?)`,
			resourceID, taskID, name, action, arguments,
		)
		if err != nil {
			return "", fmt.Errorf("insert resource %q: %w", name, err)
		}
		return resourceID, nil
	}

	newName, newAction, newArgs := ref.Name, ref.Action, ref.Arguments
	if name != "" && name != ref.Name {
		newName = name
	}
	if action != "" && action != ref.Action {
		newAction = action
	}
	if arguments != "" && arguments != ref.Arguments {
		newArgs = arguments
	}
	_, err := s.db.Exec(
		`UPDATE res SET tsk_id = ?, name = ?, action = ?, arguments = ? WHERE id = ?`,
		taskID, newName, newAction, newArgs, ref.ID,
	)
	if err != nil {
		return "", fmt.Errorf("update resource %q: %w", ref.ID, err)
	}
	return ref.ID, nil
}

func (s *SQLiteStore) DeleteResource(id string) error {
	if _, err := s.db.Exec(`DELETE FROM res WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete resource %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FindSource(resourceID, name string) (*types.Source, error) {
	var r types.Source
	err := s.db.Get(&r, `SELECT id, tsk_id, res_id, name, revision, size FROM src WHERE res_id = ? AND name = ?`, resourceID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find source %q/%q: %w", resourceID, name, err)
	}
	return &r, nil
}

func (s *SQLiteStore) UpsertSource(taskID, resourceID, sourceID, name, revision string, size int64, ref *types.Source) (string, error) {
	if ref == nil {
		if sourceID == "" {
			sourceID = uuid.NewString()
		}
		_, err := s.db.Exec(
			`INSERT INTO src (id, tsk_id, res_id, name, revision, size) VALUES (?, ?, ?, ?, ?, ?)`,
			sourceID, taskID, resourceID, name, revision, size,
		)
		if err != nil {
			return "", fmt.Errorf("insert source %q: %w", name, err)
		}
		return sourceID, nil
	}

	newName, newRev, newSize := ref.Name, ref.Revision, ref.Size
	if name != "" && name != ref.Name {
		newName = name
	}
	if revision != "" && revision != ref.Revision {
		newRev = revision
	}
	if size != 0 && size != ref.Size {
		newSize = size
	}
	_, err := s.db.Exec(
		`UPDATE src SET tsk_id = ?, res_id = ?, name = ?, revision = ?, size = ? WHERE id = ?`,
		taskID, resourceID, newName, newRev, newSize, ref.ID,
	)
	if err != nil {
		return "", fmt.Errorf("update source %q: %w", ref.ID, err)
	}
	return ref.ID, nil
}

func (s *SQLiteStore) DeleteSource(id string) error {
	if _, err := s.db.Exec(`DELETE FROM src WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete source %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SourcesByResource(resourceID string) ([]*types.Source, error) {
	var rows []*types.Source
	err := s.db.Select(&rows, `SELECT id, tsk_id, res_id, name, revision, size FROM src WHERE res_id = ?`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("sources by resource %q: %w", resourceID, err)
	}
	return rows, nil
}

const destColumns = `id, tsk_id, res_id, src_id, path, digest, st_mode, st_uid, st_gid, st_size, st_mtime, st_ctime`

func (s *SQLiteStore) UpsertDestination(taskID, resourceID, sourceID string, d *types.Destination, ref *types.Destination) (string, error) {
	if ref == nil {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := s.db.Exec(
			`INSERT INTO dst (`+destColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, taskID, resourceID, sourceID, d.Path, d.Digest, d.Mode, d.UID, d.GID, d.Size, d.MTime, d.CTime,
		)
		if err != nil {
			return "", fmt.Errorf("insert destination %q: %w", d.Path, err)
		}
		return id, nil
	}

	merged := *ref
	if d.Path != "" {
		merged.Path = d.Path
	}
	if d.Digest != "" {
		merged.Digest = d.Digest
	}
	if d.Mode != 0 {
		merged.Mode = d.Mode
	}
	if d.Size != 0 {
		merged.Size = d.Size
	}
	if d.MTime != 0 {
		merged.MTime = d.MTime
	}
	if d.CTime != 0 {
		merged.CTime = d.CTime
	}
	merged.UID = d.UID
	merged.GID = d.GID

	_, err := s.db.Exec(
		`UPDATE dst SET tsk_id = ?, res_id = ?, src_id = ?, path = ?, digest = ?, st_mode = ?, st_uid = ?, st_gid = ?, st_size = ?, st_mtime = ?, st_ctime = ? WHERE id = ?`,
		taskID, resourceID, sourceID, merged.Path, merged.Digest, merged.Mode, merged.UID, merged.GID, merged.Size, merged.MTime, merged.CTime, ref.ID,
	)
	if err != nil {
		return "", fmt.Errorf("update destination %q: %w", ref.ID, err)
	}
	return ref.ID, nil
}

func (s *SQLiteStore) DeleteDestination(id string) error {
	if _, err := s.db.Exec(`DELETE FROM dst WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete destination %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DestinationsByPath(path string) ([]*types.Destination, error) {
	var rows []*types.Destination
	err := s.db.Select(&rows, `SELECT `+destColumns+` FROM dst WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("destinations by path %q: %w", path, err)
	}
	return rows, nil
}

func (s *SQLiteStore) DestinationsBySource(sourceID string) ([]*types.Destination, error) {
	var rows []*types.Destination
	err := s.db.Select(&rows, `SELECT `+destColumns+` FROM dst WHERE src_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("destinations by source %q: %w", sourceID, err)
	}
	return rows, nil
}
