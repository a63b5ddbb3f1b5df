package safety

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marks an archive path that could escape the directory it is
// extracted into.
var ErrUnsafePath = errors.New("unsafe archive path")

// CheckArchivePath validates a slash-separated path stored in an archive
// header. It must be relative, already in clean form and free of ".."
// segments.
func CheckArchivePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty", ErrUnsafePath)
	case strings.HasPrefix(p, "/") || filepath.IsAbs(p):
		return fmt.Errorf("%w: %q is absolute", ErrUnsafePath, p)
	case path.Clean(p) != p:
		return fmt.Errorf("%w: %q is not in clean form", ErrUnsafePath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q climbs out of the root", ErrUnsafePath, p)
		}
	}
	return nil
}

// WithinPrefix reports whether p equals prefix or lies inside it.
// A plain string prefix is not enough: "/a/cache-old" is not within "/a/cache".
func WithinPrefix(prefix, p string) bool {
	prefix = strings.TrimRight(filepath.ToSlash(prefix), "/")
	p = filepath.ToSlash(p)
	if prefix == "" {
		return false
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// RelativeUnder returns p relative to root using forward slashes.
// ok is false when p does not resolve under root.
func RelativeUnder(root, p string) (rel string, ok bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// RelativeAfterAnchor locates the directory name anchor as a whole path
// segment in p and returns everything after it. It is the fallback used when
// mount points or symlinks make a direct prefix strip impossible.
func RelativeAfterAnchor(anchor, p string) (string, bool) {
	p = filepath.ToSlash(p)
	token := "/" + strings.Trim(anchor, "/") + "/"
	idx := strings.LastIndex(p, token)
	if idx < 0 {
		return "", false
	}
	rest := p[idx+len(token):]
	if rest == "" {
		return "", false
	}
	return rest, true
}
