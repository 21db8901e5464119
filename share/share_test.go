package share

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	. "github.com/stevegt/goadapt"
)

const testDirPrefix = "lanshare-test-"

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func setup(t *testing.T) *Service {
	t.Helper()
	var err error
	var dir string
	if os.Getenv("DEBUG") == "1" {
		dir, err = os.MkdirTemp("", testDirPrefix)
		Ck(err)
		fmt.Println(dir)
		// no cleanup
	} else {
		dir = t.TempDir()
	}
	svc, err := Open(Options{Root: dir})
	Ck(err)
	t.Cleanup(svc.Close)
	return svc
}

// item returns an upload item whose content is data.
func item(name, relpath string, data []byte) UploadItem {
	return UploadItem{
		Name:    name,
		RelPath: relpath,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func mkbuf(s string) []byte {
	return []byte(s)
}
