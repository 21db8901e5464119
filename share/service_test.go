package share

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestMkdirConflict(t *testing.T) {
	svc := setup(t)

	_, err := svc.Ingest(context.Background(), []UploadItem{item("keep.txt", "photos/keep.txt", mkbuf("keep"))})
	tassert(t, err == nil, "%v", err)

	path, err := svc.Mkdir("photos")
	tassert(t, errors.Is(err, ErrConflict), "expected ErrConflict got %v", err)
	tassert(t, Kind(err) == "conflict", "kind %q", Kind(err))
	tassert(t, path == "photos", "path %q", path)

	got, err := os.ReadFile(filepath.Join(svc.Root(), "photos", "keep.txt"))
	tassert(t, err == nil && string(got) == "keep", "contents changed: %q %v", got, err)

	// a file in the way is a conflict too
	_, err = svc.Mkdir("photos/keep.txt")
	tassert(t, errors.Is(err, ErrConflict), "expected ErrConflict got %v", err)

	_, err = svc.Mkdir("../up")
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath got %v", err)

	path, err = svc.Mkdir("new/nested")
	tassert(t, err == nil && path == "new/nested", "%q %v", path, err)
}

func TestPurge(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "qr.png")
	err := os.WriteFile(artifact, []byte("png"), 0644)
	tassert(t, err == nil, "%v", err)

	svc, err := Open(Options{Root: filepath.Join(dir, "share"), Workers: 2, Artifacts: []string{artifact}})
	tassert(t, err == nil, "%v", err)
	defer svc.Close()
	tassert(t, svc.Workers == 2, "workers %d", svc.Workers)

	_, err = svc.Ingest(context.Background(), []UploadItem{
		item("b.txt", "a/b.txt", mkbuf("b")),
		item("c.txt", "", mkbuf("c")),
	})
	tassert(t, err == nil, "%v", err)

	err = svc.Purge()
	tassert(t, err == nil, "%v", err)
	listing, err := svc.List()
	tassert(t, err == nil, "%v", err)
	tassert(t, len(listing.Entries) == 0, "listing not empty: %#v", listing.Entries)
	_, err = os.Stat(artifact)
	tassert(t, os.IsNotExist(err), "artifact survived purge: %v", err)

	// purging an empty share with a missing artifact is fine
	err = svc.Purge()
	tassert(t, err == nil, "%v", err)
}

func TestPurgeError(t *testing.T) {
	perr := &PurgeError{Failures: []PurgeFailure{{Path: "x", Err: "busy"}}}
	var err error = perr
	tassert(t, errors.Is(err, ErrIOFault), "PurgeError should be an io fault")
	tassert(t, Kind(errors.Wrap(err, "cleanup")) == "io_fault", "kind %q", Kind(err))
}

func TestDeleteAndOpen(t *testing.T) {
	svc := setup(t)

	_, err := svc.Ingest(context.Background(), []UploadItem{item("f.txt", "d/f.txt", mkbuf("f"))})
	tassert(t, err == nil, "%v", err)

	file, info, path, err := svc.OpenFile("/d//f.txt")
	tassert(t, err == nil, "%v", err)
	file.Close()
	tassert(t, path == "d/f.txt" && info.Size() == 1, "%q %d", path, info.Size())

	err = svc.Delete("d/f.txt")
	tassert(t, err == nil, "%v", err)
	_, _, _, err = svc.OpenFile("d/f.txt")
	tassert(t, Kind(err) == "not_found", "kind %q (%v)", Kind(err), err)
	err = svc.Delete("d/../..")
	tassert(t, Kind(err) == "invalid_path", "kind %q (%v)", Kind(err), err)
}

func TestPurgeOnStart(t *testing.T) {
	dir := t.TempDir()

	svc, err := Open(Options{Root: filepath.Join(dir, "share")})
	tassert(t, err == nil, "%v", err)
	_, err = svc.Ingest(context.Background(), []UploadItem{item("a.txt", "", mkbuf("a"))})
	tassert(t, err == nil, "%v", err)
	purged, err := svc.PurgeOnStart()
	tassert(t, err == nil && purged, "purged %v: %v", purged, err)
	tassert(t, len(walkPaths(t, svc.Tree)) == 0, "tree not empty")
	svc.Close()

	// someone's existing directory is left as it was
	home := filepath.Join(dir, "home")
	err = os.MkdirAll(home, 0755)
	tassert(t, err == nil, "%v", err)
	err = os.WriteFile(filepath.Join(home, "thesis.tex"), mkbuf("work"), 0644)
	tassert(t, err == nil, "%v", err)
	svc, err = Open(Options{Root: home})
	tassert(t, err == nil, "%v", err)
	defer svc.Close()
	purged, err = svc.PurgeOnStart()
	tassert(t, err == nil && !purged, "purged %v: %v", purged, err)
	got, err := os.ReadFile(filepath.Join(home, "thesis.tex"))
	tassert(t, err == nil && string(got) == "work", "existing file touched: %q %v", got, err)
}
