// Package fuse mounts a share read-only, so local programs can browse
// what peers have uploaded without going through HTTP.
package fuse

import (
	"context"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"github.com/t7a/lanshare/share"
)

// entries are re-read from disk after this long, since uploads and
// deletes happen behind the kernel's back
const cacheTimeout = time.Second

// dirNode is a directory in the share; the zero path is the root.
type dirNode struct {
	fs.Inode
	svc  *share.Service
	path share.SafePath
}

func (n *dirNode) abs() (string, error) {
	if n.path == "" {
		return n.svc.Root(), nil
	}
	return n.path.Under(n.svc.Root())
}

func (n *dirNode) child(name string) (path share.SafePath, err error) {
	if n.path == "" {
		return share.Sanitize(name)
	}
	return share.Sanitize(n.path.String() + "/" + name)
}

var _ = (fs.NodeReaddirer)((*dirNode)(nil))

func (n *dirNode) Readdir(ctx context.Context) (stream fs.DirStream, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	abs, err := n.abs()
	Ck(err)
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	var entries []fuse.DirEntry
	for _, ent := range ents {
		if ent.Name() == share.StagingDir {
			continue
		}
		switch {
		case ent.IsDir():
			entries = append(entries, fuse.DirEntry{Mode: syscall.S_IFDIR, Name: ent.Name()})
		case ent.Type().IsRegular():
			entries = append(entries, fuse.DirEntry{Mode: syscall.S_IFREG, Name: ent.Name()})
		}
	}
	return fs.NewListDirStream(entries), 0
}

var _ = (fs.NodeLookuper)((*dirNode)(nil))

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (child *fs.Inode, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	path, err := n.child(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	abs, err := path.Under(n.svc.Root())
	Ck(err)
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, fs.ToErrno(err)
	}

	fillAttr(&out.Attr, info)
	out.SetEntryTimeout(cacheTimeout)
	out.SetAttrTimeout(cacheTimeout)
	switch {
	case info.IsDir():
		child = n.NewInode(ctx, &dirNode{svc: n.svc, path: path}, fs.StableAttr{Mode: syscall.S_IFDIR})
	case info.Mode().IsRegular():
		child = n.NewInode(ctx, &fileNode{svc: n.svc, path: path}, fs.StableAttr{Mode: syscall.S_IFREG})
	default:
		return nil, syscall.ENOENT
	}
	return child, 0
}

var _ = (fs.NodeGetattrer)((*dirNode)(nil))

func (n *dirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) (errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	abs, err := n.abs()
	Ck(err)
	info, err := os.Stat(abs)
	if err != nil {
		return fs.ToErrno(err)
	}
	fillAttr(&out.Attr, info)
	out.SetTimeout(cacheTimeout)
	return 0
}

// fileNode is a regular file in the share.
type fileNode struct {
	fs.Inode
	svc  *share.Service
	path share.SafePath
}

var _ = (fs.NodeGetattrer)((*fileNode)(nil))

func (n *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) (errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	abs, err := n.path.Under(n.svc.Root())
	Ck(err)
	info, err := os.Lstat(abs)
	if err != nil {
		return fs.ToErrno(err)
	}
	fillAttr(&out.Attr, info)
	out.SetTimeout(cacheTimeout)
	return 0
}

var _ = (fs.NodeOpener)((*fileNode)(nil))

func (n *fileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, outflags uint32, errno syscall.Errno) {
	defer Unpanic(&errno, msglog)

	// disallow writes
	if flags&(syscall.O_RDWR|syscall.O_WRONLY) != 0 {
		return nil, 0, syscall.EROFS
	}
	file, _, err := n.svc.Tree.Open(n.path)
	if err != nil {
		log.Debugf("fuse open %s: %v", n.path, err)
		return nil, 0, syscall.ENOENT
	}
	return &fileHandle{file: file}, 0, fs.OK
}

// fileHandle is one open of a fileNode.  An upload that replaces the
// file renames over it, so an open handle keeps reading the old bytes.
type fileHandle struct {
	file *os.File
}

var _ = (fs.FileReader)((*fileHandle)(nil))

func (fh *fileHandle) Read(ctx context.Context, buf []byte, offset int64) (res fuse.ReadResult, errno syscall.Errno) {
	n, err := fh.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		log.Errorf("read error: %v", err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(buf[:n]), 0
}

var _ = (fs.FileReleaser)((*fileHandle)(nil))

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	return fs.ToErrno(fh.file.Close())
}

func fillAttr(attr *fuse.Attr, info os.FileInfo) {
	mtime := info.ModTime()
	attr.SetTimes(nil, &mtime, nil)
	if info.IsDir() {
		attr.Mode = syscall.S_IFDIR | 0555
		return
	}
	attr.Mode = syscall.S_IFREG | 0444
	attr.Size = uint64(info.Size())
}

// Mount serves svc's tree read-only at mnt until the returned server is
// unmounted.
func Mount(svc *share.Service, mnt string, debug bool) (server *fuse.Server, err error) {
	defer Return(&err)
	opts := &fs.Options{}
	opts.Debug = debug
	opts.Options = []string{"ro"}
	opts.Name = "lanshare"
	opts.FsName = svc.Root()
	// start inode numbers at 2^16
	opts.FirstAutomaticIno = 1 << 16
	server, err = fs.Mount(mnt, &dirNode{svc: svc}, opts)
	Ck(err)
	log.WithFields(log.Fields{"root": svc.Root(), "mnt": mnt}).Info("mounted")
	return
}

func msglog(msg string) {
	log.Errorf("unpanic: %v", msg)
}
