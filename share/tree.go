package share

import (
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// file modes
const (
	dirMode  = 0755
	fileMode = 0644
)

type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
)

func (k EntryKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Entry is a file or directory under the share root.  Path is
// slash-separated and relative to the root.
type Entry struct {
	Path    string
	Kind    EntryKind
	Size    int64
	ModTime time.Time
}

func (e Entry) IsDir() bool {
	return e.Kind == KindDir
}

// ownerMarker is created in the staging dir of roots that lanshare
// created itself, or found empty.
const ownerMarker = ".owned"

// Tree is the on-disk hierarchy of shared files.  Root is absolute with
// symlinks resolved.  Uploads are staged in a hidden directory under
// Root so a file only shows up in Walk once its bytes are on disk.
type Tree struct {
	Root string
	// Owned is false when Root already held files the first time it
	// was opened.  Such a root is never purged at startup.
	Owned   bool
	staging string
}

// OpenTree creates root if needed and returns a Tree for it.
func OpenTree(root string) (tree *Tree, err error) {
	root, err = filepath.Abs(root)
	if err != nil {
		return
	}
	owned, err := claimable(root)
	if err != nil {
		return
	}
	err = os.MkdirAll(root, dirMode)
	if err != nil {
		return nil, fault(err, "create share root %s", root)
	}
	// XXX a symlinked root would otherwise stop WalkDir at the link
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return
	}
	tree = &Tree{Root: root, Owned: owned, staging: filepath.Join(root, StagingDir)}
	err = tree.init()
	if err != nil {
		return nil, err
	}
	return
}

// claimable reports whether root is missing, empty, or marked as ours.
func claimable(root string) (ok bool, err error) {
	ents, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fault(err, "read share root %s", root)
	}
	if len(ents) == 0 {
		return true, nil
	}
	_, err = os.Stat(filepath.Join(root, StagingDir, ownerMarker))
	return err == nil, nil
}

func (tree *Tree) init() (err error) {
	err = os.MkdirAll(tree.staging, dirMode)
	if err != nil {
		return fault(err, "create staging dir %s", tree.staging)
	}
	if !tree.Owned {
		return
	}
	err = os.WriteFile(filepath.Join(tree.staging, ownerMarker), nil, fileMode)
	if err != nil {
		return fault(err, "mark %s", tree.Root)
	}
	return
}

// resolve maps path onto the root.  A symlink in any directory on the
// way could lead out of the root, so one is refused as an invalid
// path.  The last segment is not checked here; callers that read it
// refuse anything but regular files.
func (tree *Tree) resolve(path SafePath) (abs string, err error) {
	abs, err = path.Under(tree.Root)
	if err != nil {
		return
	}
	segs := path.Segments()
	dir := tree.Root
	for _, seg := range segs[:len(segs)-1] {
		dir = filepath.Join(dir, seg)
		info, err := os.Lstat(dir)
		if os.IsNotExist(err) {
			return abs, nil
		}
		if err != nil {
			return "", fault(err, "stat %s", dir)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return "", &PathError{Raw: path.String(), Reason: "leads through a symlink"}
		}
	}
	return abs, nil
}

// EnsureDir creates path and any missing parents.  It is a no-op for
// directories that already exist.
func (tree *Tree) EnsureDir(path SafePath) (err error) {
	abs, err := tree.resolve(path)
	if err != nil {
		return
	}
	err = os.MkdirAll(abs, dirMode)
	if err != nil {
		return fault(err, "mkdir %s", path)
	}
	return
}

// Mkdir creates path as a new, empty directory.  Anything already at
// path, file or directory, is left alone and reported as a conflict.
func (tree *Tree) Mkdir(path SafePath) (err error) {
	abs, err := tree.resolve(path)
	if err != nil {
		return
	}
	if _, err := os.Lstat(abs); err == nil {
		return &ExistsError{Path: path.String()}
	}
	err = os.MkdirAll(filepath.Dir(abs), dirMode)
	if err != nil {
		return fault(err, "mkdir %s", filepath.Dir(path.String()))
	}
	err = os.Mkdir(abs, dirMode)
	if os.IsExist(err) {
		return &ExistsError{Path: path.String()}
	}
	if err != nil {
		return fault(err, "mkdir %s", path)
	}
	return
}

// WriteFile copies rd into a new file at path, replacing any existing
// file.  The bytes go to a temp file in the staging dir which is
// renamed into place only after a successful sync.
func (tree *Tree) WriteFile(path SafePath, rd io.Reader) (n int64, err error) {
	abs, err := tree.resolve(path)
	if err != nil {
		return
	}
	err = os.MkdirAll(filepath.Dir(abs), dirMode)
	if err != nil {
		return 0, fault(err, "mkdir %s", filepath.Dir(path.String()))
	}

	pending, err := renameio.TempFile(tree.staging, abs)
	if err != nil {
		return 0, fault(err, "stage %s", path)
	}
	// no-op once CloseAtomicallyReplace has succeeded
	defer pending.Cleanup()

	n, err = io.Copy(pending, rd)
	if err != nil {
		return n, fault(err, "write %s", path)
	}
	err = pending.Chmod(fileMode)
	if err != nil {
		return n, fault(err, "chmod %s", path)
	}
	err = pending.CloseAtomicallyReplace()
	if err != nil {
		return n, fault(err, "publish %s", path)
	}
	log.Debugf("wrote %s (%d bytes)", abs, n)
	return n, nil
}

// Open returns the regular file at path for reading.  Directories,
// symlinks and missing paths are all ErrNotFound.
func (tree *Tree) Open(path SafePath) (file *os.File, info os.FileInfo, err error) {
	abs, err := tree.resolve(path)
	if err != nil {
		return
	}
	info, err = os.Lstat(abs)
	if os.IsNotExist(err) {
		return nil, nil, errors.Wrapf(ErrNotFound, "%s", path)
	}
	if err != nil {
		return nil, nil, fault(err, "stat %s", path)
	}
	if !info.Mode().IsRegular() {
		return nil, nil, errors.Wrapf(ErrNotFound, "%s is not a file", path)
	}
	file, err = os.Open(abs)
	if os.IsNotExist(err) {
		return nil, nil, errors.Wrapf(ErrNotFound, "%s", path)
	}
	if err != nil {
		return nil, nil, fault(err, "open %s", path)
	}
	return
}

// Remove deletes the file or directory tree at path.
func (tree *Tree) Remove(path SafePath) (err error) {
	abs, err := tree.resolve(path)
	if err != nil {
		return
	}
	if _, err := os.Lstat(abs); os.IsNotExist(err) {
		return errors.Wrapf(ErrNotFound, "%s", path)
	}
	err = os.RemoveAll(abs)
	if err != nil {
		return fault(err, "remove %s", path)
	}
	return
}

// Walk returns a lazy, depth-first sequence of every file and
// directory under the root, in lexical order.  Each call walks the
// live tree again.  Entries that disappear mid-walk are skipped, and
// a missing root walks as empty.  Only regular files and directories
// are reported.
func (tree *Tree) Walk() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		filepath.WalkDir(tree.Root, func(abs string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if !yield(Entry{}, fault(err, "walk %s", abs)) {
					return filepath.SkipAll
				}
				return nil
			}
			if abs == tree.Root {
				return nil
			}
			if abs == tree.staging {
				return filepath.SkipDir
			}
			info, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				if !yield(Entry{}, fault(err, "stat %s", abs)) {
					return filepath.SkipAll
				}
				return nil
			}
			rel, err := filepath.Rel(tree.Root, abs)
			if err != nil {
				return nil
			}
			entry := Entry{Path: filepath.ToSlash(rel), ModTime: info.ModTime()}
			switch {
			case info.IsDir():
				entry.Kind = KindDir
			case info.Mode().IsRegular():
				entry.Kind = KindFile
				entry.Size = info.Size()
			default:
				return nil
			}
			if !yield(entry, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// PurgeAll removes everything under the root and recreates an empty
// root.  A failed removal doesn't stop the purge; all failures come
// back together in a *PurgeError.
func (tree *Tree) PurgeAll() (err error) {
	var failures []PurgeFailure

	entries, err := os.ReadDir(tree.Root)
	if err != nil && !os.IsNotExist(err) {
		failures = append(failures, PurgeFailure{Path: ".", Err: err.Error()})
	}
	for _, ent := range entries {
		abs := filepath.Join(tree.Root, ent.Name())
		rmerr := os.RemoveAll(abs)
		if rmerr != nil {
			log.WithField("path", ent.Name()).Warnf("purge: %v", rmerr)
			failures = append(failures, PurgeFailure{Path: ent.Name(), Err: rmerr.Error()})
		}
	}

	err = os.MkdirAll(tree.Root, dirMode)
	if err == nil {
		err = tree.init()
	}
	if err != nil {
		failures = append(failures, PurgeFailure{Path: ".", Err: err.Error()})
	}

	if len(failures) > 0 {
		return &PurgeError{Failures: failures}
	}
	return nil
}
