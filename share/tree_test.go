package share

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/hlubek/readercomp"
	"github.com/pkg/errors"
)

func walkPaths(t *testing.T, tree *Tree) (paths []string) {
	t.Helper()
	for entry, err := range tree.Walk() {
		tassert(t, err == nil, "walk: %v", err)
		p := entry.Path
		if entry.IsDir() {
			p += "/"
		}
		paths = append(paths, p)
	}
	return
}

func TestTreeWriteOpen(t *testing.T) {
	svc := setup(t)
	tree := svc.Tree

	buf := mkbuf("hello world")
	n, err := tree.WriteFile("docs/deep/hello.txt", bytes.NewReader(buf))
	tassert(t, err == nil, "%v", err)
	tassert(t, n == int64(len(buf)), "expected %d bytes got %d", len(buf), n)

	file, info, err := tree.Open("docs/deep/hello.txt")
	tassert(t, err == nil, "%v", err)
	defer file.Close()
	tassert(t, info.Size() == int64(len(buf)), "size %d", info.Size())
	ok, err := readercomp.Equal(file, bytes.NewReader(buf), 4096)
	tassert(t, err == nil, "%v", err)
	tassert(t, ok, "content mismatch")

	// overwrite
	buf2 := mkbuf("second")
	_, err = tree.WriteFile("docs/deep/hello.txt", bytes.NewReader(buf2))
	tassert(t, err == nil, "%v", err)
	got, err := os.ReadFile(filepath.Join(tree.Root, "docs", "deep", "hello.txt"))
	tassert(t, err == nil, "%v", err)
	tassert(t, string(got) == "second", "got %q", got)

	_, _, err = tree.Open("docs")
	tassert(t, errors.Is(err, ErrNotFound), "directory open: expected ErrNotFound, got %v", err)
	_, _, err = tree.Open("nope.txt")
	tassert(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
}

type failReader struct{ n int }

func (r *failReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	r.n--
	p[0] = 'x'
	return 1, nil
}

func TestTreeWriteFailure(t *testing.T) {
	svc := setup(t)
	tree := svc.Tree

	_, err := tree.WriteFile("broken.txt", &failReader{n: 3})
	tassert(t, errors.Is(err, ErrIOFault), "expected ErrIOFault, got %v", err)

	// neither the destination nor a staging leftover remains
	_, err = os.Stat(filepath.Join(tree.Root, "broken.txt"))
	tassert(t, os.IsNotExist(err), "partial file published: %v", err)
	ents, err := os.ReadDir(filepath.Join(tree.Root, StagingDir))
	tassert(t, err == nil, "%v", err)
	tassert(t, len(ents) == 0, "staging not cleaned: %v", ents)
}

func TestTreeWalk(t *testing.T) {
	svc := setup(t)
	tree := svc.Tree

	for _, p := range []SafePath{"b.txt", "a/z.txt", "a/c/d.txt"} {
		_, err := tree.WriteFile(p, bytes.NewReader(mkbuf(string(p))))
		tassert(t, err == nil, "%v", err)
	}
	err := tree.EnsureDir("empty")
	tassert(t, err == nil, "%v", err)
	// idempotent
	err = tree.EnsureDir("empty")
	tassert(t, err == nil, "%v", err)

	got := walkPaths(t, tree)
	expect := []string{"a/", "a/c/", "a/c/d.txt", "a/z.txt", "b.txt", "empty/"}
	tassert(t, len(got) == len(expect), "expected %v got %v", expect, got)
	for i := range expect {
		tassert(t, got[i] == expect[i], "expected %v got %v", expect, got)
	}

	// early break
	var count int
	for range tree.Walk() {
		count++
		if count == 2 {
			break
		}
	}
	tassert(t, count == 2, "count %d", count)
}

func TestTreeWalkMissingRoot(t *testing.T) {
	svc := setup(t)
	err := os.RemoveAll(svc.Tree.Root)
	tassert(t, err == nil, "%v", err)
	got := walkPaths(t, svc.Tree)
	tassert(t, len(got) == 0, "expected empty walk, got %v", got)
}

func TestTreeMkdirRemove(t *testing.T) {
	svc := setup(t)
	tree := svc.Tree

	err := tree.Mkdir("x/y")
	tassert(t, err == nil, "%v", err)
	err = tree.Mkdir("x/y")
	tassert(t, errors.Is(err, ErrConflict), "expected ErrConflict, got %v", err)
	var exists *ExistsError
	tassert(t, errors.As(err, &exists) && exists.Path == "x/y", "expected *ExistsError for x/y, got %#v", err)

	_, err = tree.WriteFile("x/y/f.txt", bytes.NewReader(mkbuf("f")))
	tassert(t, err == nil, "%v", err)
	err = tree.Remove("x")
	tassert(t, err == nil, "%v", err)
	err = tree.Remove("x")
	tassert(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	tassert(t, len(walkPaths(t, tree)) == 0, "tree not empty")
}

func TestTreePurgeAll(t *testing.T) {
	svc := setup(t)
	tree := svc.Tree

	_, err := tree.WriteFile("a/b.txt", bytes.NewReader(mkbuf("b")))
	tassert(t, err == nil, "%v", err)
	_, err = tree.WriteFile("c.txt", bytes.NewReader(mkbuf("c")))
	tassert(t, err == nil, "%v", err)

	err = tree.PurgeAll()
	tassert(t, err == nil, "%v", err)
	tassert(t, len(walkPaths(t, tree)) == 0, "tree not empty after purge")

	// root and staging come back
	_, err = os.Stat(filepath.Join(tree.Root, StagingDir))
	tassert(t, err == nil, "staging dir missing: %v", err)
	_, err = tree.WriteFile("again.txt", bytes.NewReader(mkbuf("again")))
	tassert(t, err == nil, "write after purge: %v", err)
}

func TestTreeWalkVanishing(t *testing.T) {
	svc := setup(t)
	tree := svc.Tree

	for _, p := range []SafePath{"a.txt", "b.txt", "c/x.txt"} {
		_, err := tree.WriteFile(p, bytes.NewReader(mkbuf(string(p))))
		tassert(t, err == nil, "%v", err)
	}

	var got []string
	for entry, err := range tree.Walk() {
		tassert(t, err == nil, "walk yielded %v", err)
		got = append(got, entry.Path)
		if entry.Path == "a.txt" {
			err = os.Remove(filepath.Join(tree.Root, "b.txt"))
			tassert(t, err == nil, "%v", err)
			err = os.RemoveAll(filepath.Join(tree.Root, "c"))
			tassert(t, err == nil, "%v", err)
		}
	}
	tassert(t, len(got) == 1 && got[0] == "a.txt", "walk saw %v", got)
}

func TestTreePurgeAllPartial(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs permission bits that stop removal")
	}
	svc := setup(t)
	tree := svc.Tree

	for _, p := range []SafePath{"a.txt", "b/c.txt", "locked/d.txt"} {
		_, err := tree.WriteFile(p, bytes.NewReader(mkbuf("x")))
		tassert(t, err == nil, "%v", err)
	}
	locked := filepath.Join(tree.Root, "locked")
	err := os.Chmod(locked, 0500)
	tassert(t, err == nil, "%v", err)
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	err = tree.PurgeAll()
	var perr *PurgeError
	tassert(t, errors.As(err, &perr), "expected *PurgeError got %v", err)
	tassert(t, errors.Is(err, ErrIOFault), "expected ErrIOFault got %v", err)
	tassert(t, len(perr.Failures) == 1 && perr.Failures[0].Path == "locked", "failures %#v", perr.Failures)

	// the siblings went anyway
	got := walkPaths(t, tree)
	expect := []string{"locked/", "locked/d.txt"}
	tassert(t, len(got) == len(expect), "expected %v got %v", expect, got)
	for i := range expect {
		tassert(t, got[i] == expect[i], "expected %v got %v", expect, got)
	}
	_, err = os.Stat(filepath.Join(tree.Root, StagingDir))
	tassert(t, err == nil, "staging dir missing: %v", err)
}

func TestTreeSymlinkEscape(t *testing.T) {
	svc := setup(t)
	tree := svc.Tree

	outside := t.TempDir()
	err := os.WriteFile(filepath.Join(outside, "secret.txt"), mkbuf("secret"), 0644)
	tassert(t, err == nil, "%v", err)
	err = os.Symlink(outside, filepath.Join(tree.Root, "link"))
	if err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err = tree.WriteFile("link/evil.txt", bytes.NewReader(mkbuf("evil")))
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath got %v", err)
	err = tree.EnsureDir("link/sub")
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath got %v", err)
	err = tree.Mkdir("link/new")
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath got %v", err)
	_, _, err = tree.Open("link/secret.txt")
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath got %v", err)
	err = tree.Remove("link/secret.txt")
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath got %v", err)

	ents, err := os.ReadDir(outside)
	tassert(t, err == nil, "%v", err)
	tassert(t, len(ents) == 1 && ents[0].Name() == "secret.txt", "outside dir changed: %v", ents)

	// the link itself is neither listed nor served
	tassert(t, len(walkPaths(t, tree)) == 0, "walk followed the link")
	_, _, err = tree.Open("link")
	tassert(t, errors.Is(err, ErrNotFound), "expected ErrNotFound got %v", err)
}

func TestTreeOwned(t *testing.T) {
	dir := t.TempDir()

	fresh := filepath.Join(dir, "fresh")
	tree, err := OpenTree(fresh)
	tassert(t, err == nil, "%v", err)
	tassert(t, tree.Owned, "new root not owned")
	_, err = tree.WriteFile("f.txt", bytes.NewReader(mkbuf("f")))
	tassert(t, err == nil, "%v", err)
	tree, err = OpenTree(fresh)
	tassert(t, err == nil && tree.Owned, "reopened root not owned: %v", err)
	// a purge keeps the mark
	err = tree.PurgeAll()
	tassert(t, err == nil, "%v", err)
	_, err = tree.WriteFile("g.txt", bytes.NewReader(mkbuf("g")))
	tassert(t, err == nil, "%v", err)
	tree, err = OpenTree(fresh)
	tassert(t, err == nil && tree.Owned, "root not owned after purge: %v", err)

	home := filepath.Join(dir, "home")
	err = os.MkdirAll(home, 0755)
	tassert(t, err == nil, "%v", err)
	err = os.WriteFile(filepath.Join(home, "thesis.tex"), mkbuf("work"), 0644)
	tassert(t, err == nil, "%v", err)
	for i := 0; i < 2; i++ {
		tree, err = OpenTree(home)
		tassert(t, err == nil, "%v", err)
		tassert(t, !tree.Owned, "open %d: claimed a directory with files in it", i)
	}
}
