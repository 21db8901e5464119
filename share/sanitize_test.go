package share

import (
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		raw    string
		expect string // "" means rejected
	}{
		{"a.txt", "a.txt"},
		{"docs/readme.txt", "docs/readme.txt"},
		{"/docs//./readme.txt/", "docs/readme.txt"},
		{`photos\2021\img.jpg`, "photos/2021/img.jpg"},
		{"a/../b", ""},
		{"../../etc/passwd", ""},
		{"..", ""},
		{"", ""},
		{"///", ""},
		{"  spaced name .txt ", "spaced name .txt"},
		{"inv:al*id?.txt", "invalid.txt"},
		{"nul\x00byte", "nulbyte"},
		{"a/<>|/b", ""},
		{"a/.:./b", ""},
		{StagingDir + "/x", ""},
		{strings.Repeat("x", 256), ""},
		{strings.Repeat("x", 255), strings.Repeat("x", 255)},
		{"ünïcødé/日本.txt", "ünïcødé/日本.txt"},
	}
	for _, c := range cases {
		got, err := Sanitize(c.raw)
		if c.expect == "" {
			tassert(t, err != nil, "%q: expected rejection, got %q", c.raw, got)
			tassert(t, errors.Is(err, ErrInvalidPath), "%q: expected ErrInvalidPath, got %v", c.raw, err)
			var perr *PathError
			tassert(t, errors.As(err, &perr), "%q: expected *PathError, got %T", c.raw, err)
			continue
		}
		tassert(t, err == nil, "%q: %v", c.raw, err)
		tassert(t, got.String() == c.expect, "%q: expected %q got %q", c.raw, c.expect, got)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		raw    string
		expect string
	}{
		{"report.pdf", "report.pdf"},
		{`C:\Users\bob\report.pdf`, "report.pdf"},
		{"/home/bob/report.pdf", "report.pdf"},
		{"dir/", "dir"},
		{"..", ""},
		{"a/..", ""},
		{"", ""},
		{"???", ""},
	}
	for _, c := range cases {
		got, err := SanitizeName(c.raw)
		if c.expect == "" {
			tassert(t, errors.Is(err, ErrInvalidPath), "%q: expected ErrInvalidPath, got %q, %v", c.raw, got, err)
			continue
		}
		tassert(t, err == nil, "%q: %v", c.raw, err)
		tassert(t, got.String() == c.expect, "%q: expected %q got %q", c.raw, c.expect, got)
		tassert(t, len(got.Segments()) == 1, "%q: expected one segment, got %v", c.raw, got.Segments())
	}
}

// Whatever a client sends, an accepted path resolves inside the root.
func TestSanitizeContained(t *testing.T) {
	root := t.TempDir()
	alphabet := []string{"a", "b", ".", "..", "/", `\`, ":", " ", "\x00", "~", "é", StagingDir}
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		var b strings.Builder
		n := rnd.Intn(12)
		for j := 0; j < n; j++ {
			b.WriteString(alphabet[rnd.Intn(len(alphabet))])
		}
		raw := b.String()
		for _, fn := range []func(string) (SafePath, error){Sanitize, SanitizeName} {
			sp, err := fn(raw)
			if err != nil {
				tassert(t, errors.Is(err, ErrInvalidPath), "%q: unexpected error kind %v", raw, err)
				continue
			}
			for _, seg := range sp.Segments() {
				tassert(t, seg != "" && seg != "." && seg != ".." && seg != StagingDir, "%q: bad segment %q in %q", raw, seg, sp)
			}
			abs, err := sp.Under(root)
			tassert(t, err == nil, "%q: %v", raw, err)
			rel, err := filepath.Rel(root, abs)
			tassert(t, err == nil && rel != "." && !strings.HasPrefix(rel, ".."), "%q escaped root: %s", raw, abs)
		}
	}
}

func TestUnderRejectsEscape(t *testing.T) {
	root := t.TempDir()
	// SafePath values are only built by the sanitizers; this one is forged
	_, err := SafePath("../x").Under(root)
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath, got %v", err)
	_, err = SafePath("").Under(root)
	tassert(t, errors.Is(err, ErrInvalidPath), "expected ErrInvalidPath, got %v", err)
}
