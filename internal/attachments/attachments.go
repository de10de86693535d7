// Package attachments manages the per-node file area that holds uploaded
// evidence files. Each node owns the directory <root>/<node id>.
//
// Store implements store.AttachmentHook so that destroying a node removes
// its directory in step with the database records.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/snowcrash/internal/store"
)

const (
	// stagingPrefix marks directories holding attachment areas that are
	// waiting for a destroy to commit. They are never valid node ids.
	stagingPrefix = ".staged-"

	// tempFilePrefix is used for in-progress writes inside a node directory.
	tempFilePrefix = ".upload-"
)

// ErrInvalidName is returned for attachment names that are not a single
// plain path element.
var ErrInvalidName = errors.New("invalid attachment name")

// Store is the attachment area rooted at a directory.
type Store struct {
	root   string
	logger *slog.Logger
	rename func(oldpath, newpath string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

var _ store.AttachmentHook = (*Store)(nil)

// New returns a Store rooted at root. The directory is created lazily on
// the first Save.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root, logger: slog.Default(), rename: os.Rename}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory for a node's attachments. It may not exist.
func (s *Store) Dir(nodeID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(nodeID, 10))
}

// Save writes r to the named attachment of a node, replacing any existing
// file of that name. The write goes through a temp file and a rename so a
// reader never sees a partial attachment.
func (s *Store) Save(nodeID int64, name string, r io.Reader) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	dir := s.Dir(nodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // Clean up if we fail before rename

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write attachment %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync attachment %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close attachment %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename attachment %s: %w", name, err)
	}
	return path, nil
}

// List returns the attachment names of a node, sorted. A node without a
// directory has no attachments.
func (s *Store) List(nodeID int64) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(nodeID))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list attachments of node %d: %w", nodeID, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempFilePrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// StageRemoval moves the directories of the given nodes into a fresh
// staging directory under root. Nodes without a directory are skipped. If
// any move fails, the ones already made are undone and the error returned.
func (s *Store) StageRemoval(ctx context.Context, nodeIDs []int64) (store.Removal, error) {
	r := &removal{
		logger:  s.logger,
		rename:  s.rename,
		staging: filepath.Join(s.root, stagingPrefix+uuid.Must(uuid.NewV7()).String()),
	}

	for _, id := range nodeIDs {
		if err := ctx.Err(); err != nil {
			return nil, r.abort(err)
		}

		src := s.Dir(id)
		if _, err := os.Lstat(src); errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, r.abort(fmt.Errorf("stat attachment dir of node %d: %w", id, err))
		}

		if len(r.moved) == 0 {
			if err := os.Mkdir(r.staging, 0o700); err != nil {
				return nil, fmt.Errorf("create staging dir: %w", err)
			}
		}

		dst := filepath.Join(r.staging, filepath.Base(src))
		if err := s.rename(src, dst); err != nil {
			return nil, r.abort(fmt.Errorf("stage attachment dir of node %d: %w", id, err))
		}
		r.moved = append(r.moved, move{from: src, to: dst})
	}

	if len(r.moved) > 0 {
		s.logger.Debug("attachment dirs staged", "count", len(r.moved), "staging", r.staging)
	}
	return r, nil
}

// Orphans returns staging directories left behind by interrupted destroys.
func (s *Store) Orphans() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan attachment root: %w", err)
	}

	var found []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), stagingPrefix) {
			found = append(found, filepath.Join(s.root, e.Name()))
		}
	}
	return found, nil
}

// NodeDirs returns the ids of the nodes that have an attachment directory,
// in ascending order. Entries that are not node directories are ignored.
func (s *Store) NodeDirs() ([]int64, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan attachment root: %w", err)
	}

	ids := []int64{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type move struct {
	from string
	to   string
}

// removal is a set of directories parked in one staging directory.
type removal struct {
	logger  *slog.Logger
	rename  func(oldpath, newpath string) error
	staging string
	moved   []move
}

// Commit deletes the staging directory and everything in it.
func (r *removal) Commit() error {
	if len(r.moved) == 0 {
		return nil
	}
	if err := os.RemoveAll(r.staging); err != nil {
		return fmt.Errorf("purge %s: %w", r.staging, err)
	}
	return nil
}

// Rollback moves every staged directory back to where it came from.
func (r *removal) Rollback() error {
	return r.restore()
}

// abort undoes a partial staging after cause stopped it. Directories that
// cannot be moved back stay under the staging dir; that failure is logged
// and joined to cause.
func (r *removal) abort(cause error) error {
	if err := r.restore(); err != nil {
		r.logger.Error("attachment restore failed", "staging", r.staging, "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

func (r *removal) restore() error {
	var errs []error
	for i := len(r.moved) - 1; i >= 0; i-- {
		m := r.moved[i]
		if err := r.rename(m.to, m.from); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", m.from, err))
		}
	}
	r.moved = nil

	if len(errs) == 0 {
		if err := os.Remove(r.staging); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("staging dir not removed", "path", r.staging, "error", err)
		}
	}
	return errors.Join(errs...)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name ||
		strings.ContainsRune(name, filepath.Separator) || strings.HasPrefix(name, tempFilePrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
