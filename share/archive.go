package share

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// CollectiveArchiveName names the archive when the share's top level
// isn't a single folder.
const CollectiveArchiveName = "shared_files.zip"

// ArchiveName picks a file name for the archive of the whole share:
// the folder's name when the top level holds exactly one directory and
// nothing else, CollectiveArchiveName otherwise.
func (svc *Service) ArchiveName() (name string, err error) {
	if !svc.hasFiles() {
		return "", errors.Wrap(ErrNotFound, "share is empty")
	}
	ents, err := os.ReadDir(svc.Tree.Root)
	if err != nil {
		return "", fault(err, "read share root")
	}
	var top []os.DirEntry
	for _, ent := range ents {
		if ent.Name() == StagingDir {
			continue
		}
		top = append(top, ent)
	}
	if len(top) == 1 && top[0].IsDir() {
		return top[0].Name() + ".zip", nil
	}
	return CollectiveArchiveName, nil
}

func (svc *Service) hasFiles() bool {
	for entry, err := range svc.Tree.Walk() {
		if err == nil && !entry.IsDir() {
			return true
		}
	}
	return false
}

// WriteArchive walks the share once and streams a zip of every file
// to w, each under its path relative to the root.  Empty directories
// are kept as directory entries.  The walk stops with ctx's error if
// ctx ends, which is how a disconnected download is noticed.  A share
// with no files is ErrNotFound and writes nothing.
func (svc *Service) WriteArchive(ctx context.Context, w io.Writer) (err error) {
	if !svc.hasFiles() {
		return errors.Wrap(ErrNotFound, "share is empty")
	}

	zw := zip.NewWriter(w)
	var files int
	// a directory is only known to be empty once the walk has moved
	// past it without seeing a child
	var pendingDir string
	flushDir := func(next string) error {
		if pendingDir == "" || strings.HasPrefix(next, pendingDir+"/") {
			pendingDir = ""
			return nil
		}
		dir := pendingDir
		pendingDir = ""
		_, err := zw.CreateHeader(&zip.FileHeader{Name: dir + "/", Method: zip.Store})
		return err
	}

	for entry, werr := range svc.Tree.Walk() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if werr != nil {
			log.Warnf("archive: skipping: %v", werr)
			continue
		}
		err = flushDir(entry.Path)
		if err != nil {
			return fault(err, "archive %s", entry.Path)
		}
		if entry.IsDir() {
			pendingDir = entry.Path
			continue
		}
		err = svc.addFile(zw, entry)
		if err != nil {
			return err
		}
		files++
	}
	err = flushDir("")
	if err != nil {
		return fault(err, "archive")
	}
	err = zw.Close()
	if err != nil {
		return fault(err, "finish archive")
	}
	log.Debugf("archived %d files", files)
	return nil
}

func (svc *Service) addFile(zw *zip.Writer, entry Entry) (err error) {
	abs := filepath.Join(svc.Tree.Root, filepath.FromSlash(entry.Path))
	file, err := os.Open(abs)
	if os.IsNotExist(err) {
		// deleted since the walk saw it
		return nil
	}
	if err != nil {
		return fault(err, "open %s", entry.Path)
	}
	defer file.Close()

	hdr := &zip.FileHeader{
		Name:     entry.Path,
		Method:   zip.Deflate,
		Modified: entry.ModTime,
	}
	wr, err := zw.CreateHeader(hdr)
	if err != nil {
		return fault(err, "archive %s", entry.Path)
	}
	_, err = io.Copy(wr, file)
	if err != nil {
		return fault(err, "archive %s", entry.Path)
	}
	return
}

// StagedArchive is a complete archive in a temp file.  Close removes
// the file; callers must call it on every path.
type StagedArchive struct {
	*os.File
	Name string
	Size int64
}

func (sa *StagedArchive) Close() (err error) {
	err = sa.File.Close()
	rmerr := os.Remove(sa.File.Name())
	if err == nil && rmerr != nil && !os.IsNotExist(rmerr) {
		err = rmerr
	}
	return
}

// StageArchive builds the whole archive into a temp file outside the
// share, for callers that need the size before sending.  The temp file
// is gone by the time StageArchive returns an error.
func (svc *Service) StageArchive(ctx context.Context) (sa *StagedArchive, err error) {
	name, err := svc.ArchiveName()
	if err != nil {
		return
	}
	tmp, err := os.CreateTemp("", "lanshare-*.zip")
	if err != nil {
		return nil, fault(err, "create archive staging file")
	}
	sa = &StagedArchive{File: tmp, Name: name}
	defer func() {
		if err != nil {
			sa.Close()
			sa = nil
		}
	}()

	err = svc.WriteArchive(ctx, tmp)
	if err != nil {
		return
	}
	sa.Size, err = tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return sa, fault(err, "size archive")
	}
	_, err = tmp.Seek(0, io.SeekStart)
	if err != nil {
		return sa, fault(err, "rewind archive")
	}
	return
}
