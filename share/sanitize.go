package share

import (
	"path/filepath"
	"strings"
	"unicode"
)

// StagingDir is the hidden directory under the share root where
// uploads are written before they are renamed into place.  It is
// never a valid client path segment.
const StagingDir = ".lanshare-partial"

// maxSegment is the longest segment most filesystems accept (NAME_MAX).
const maxSegment = 255

// reserved holds the characters Windows, macOS and most network
// filesystems refuse in a file name.
const reserved = `\:*?"<>|`

// SafePath is a slash-separated path relative to the share root whose
// segments have all passed sanitization.  The zero value is not valid;
// get one from Sanitize or SanitizeName.
type SafePath string

func (p SafePath) String() string {
	return string(p)
}

// Segments returns the path's components.
func (p SafePath) Segments() []string {
	return strings.Split(string(p), "/")
}

// Name returns the last segment.
func (p SafePath) Name() string {
	segs := p.Segments()
	return segs[len(segs)-1]
}

// Under joins p onto root and confirms the result is still a
// descendant of root.
func (p SafePath) Under(root string) (abs string, err error) {
	if p == "" {
		return "", &PathError{Raw: "", Reason: "empty path"}
	}
	root = filepath.Clean(root)
	abs = filepath.Join(root, filepath.FromSlash(string(p)))
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Raw: string(p), Reason: "escapes share root"}
	}
	return abs, nil
}

// Sanitize turns a client-supplied relative path, such as the
// webkitRelativePath of a folder upload, into a SafePath.  Empty and
// "." segments are dropped; ".." anywhere rejects the whole path.
func Sanitize(raw string) (SafePath, error) {
	parts := strings.Split(strings.ReplaceAll(raw, `\`, "/"), "/")
	var segs []string
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			return "", &PathError{Raw: raw, Reason: "parent directory reference"}
		}
		seg, reason := cleanSegment(part)
		if reason != "" {
			return "", &PathError{Raw: raw, Reason: reason}
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return "", &PathError{Raw: raw, Reason: "no usable path segments"}
	}
	return SafePath(strings.Join(segs, "/")), nil
}

// SanitizeName reduces a bare upload filename to a single safe
// segment.  Some clients send the full client-side path as the
// filename, so only the last non-empty segment is kept.
func SanitizeName(raw string) (SafePath, error) {
	parts := strings.Split(strings.ReplaceAll(raw, `\`, "/"), "/")
	var last string
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			last = parts[i]
			break
		}
	}
	if last == "" || last == "." || last == ".." {
		return "", &PathError{Raw: raw, Reason: "no usable file name"}
	}
	seg, reason := cleanSegment(last)
	if reason != "" {
		return "", &PathError{Raw: raw, Reason: reason}
	}
	return SafePath(seg), nil
}

// cleanSegment strips illegal characters from one segment and returns
// a non-empty reason if what remains cannot be used.
func cleanSegment(seg string) (clean string, reason string) {
	var b strings.Builder
	for _, r := range seg {
		if legalRune(r) {
			b.WriteRune(r)
		}
	}
	clean = strings.TrimSpace(b.String())
	switch {
	case clean == "":
		return "", "segment empty after removing illegal characters"
	case clean == "." || clean == "..":
		return "", "segment reduces to a directory reference"
	case clean == StagingDir:
		return "", "reserved name"
	case len(clean) > maxSegment:
		return "", "segment too long"
	}
	return clean, ""
}

func legalRune(r rune) bool {
	if r == ' ' {
		return true
	}
	if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
		return false
	}
	return !strings.ContainsRune(reserved, r) && r != '/'
}
