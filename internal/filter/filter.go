// Package filter decides which files of the content tree are left out of an
// export: backup directories of other migration tools, caches, and the
// exporter's own working files.
package filter

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/BadgerOps/siteexport/internal/safety"
)

// DefaultPrefixDirs are directories under the content root that hold other
// tools' backups or regenerable caches.
var DefaultPrefixDirs = []string{
	"ai1wm-backups",
	"updraft",
	"backups-dup-lite",
	"backups-dup-pro",
	"wpvividbackups",
	"backup-guard",
	"cache",
	"et-cache",
	"upgrade",
}

// DefaultBackupExtensions are file extensions of backup leftovers.
// .sql is deliberately absent: SQL files in the tree are content.
var DefaultBackupExtensions = []string{
	".wpress",
	".bak",
	".backup",
	".old",
	".orig",
	".swp",
	".tmp",
}

// DefaultCacheSuffixes match compiled asset caches such as styles.less.cache.
var DefaultCacheSuffixes = []string{
	".cache",
}

// DefaultCacheDBExtensions are journal files of embedded cache databases.
var DefaultCacheDBExtensions = []string{
	".db-journal",
	".db-wal",
	".db-shm",
	".sqlite-journal",
}

// Rules is the data the filter evaluates. All lists are unions: extra rules
// never replace defaults.
type Rules struct {
	Prefixes   []string // absolute directories
	Extensions []string // lower-case, with leading dot
	Suffixes   []string // matched against the lower-case file name
}

// DefaultRules returns the built-in rules anchored at contentDir.
func DefaultRules(contentDir string) Rules {
	r := Rules{}
	for _, d := range DefaultPrefixDirs {
		r.Prefixes = append(r.Prefixes, filepath.Join(contentDir, d))
	}
	r.Extensions = append(r.Extensions, DefaultBackupExtensions...)
	r.Extensions = append(r.Extensions, DefaultCacheDBExtensions...)
	r.Suffixes = append(r.Suffixes, DefaultCacheSuffixes...)
	return r
}

// Filter answers IsExcluded for absolute paths. It is safe for concurrent use.
type Filter struct {
	mu         sync.RWMutex
	prefixes   []string
	extensions map[string]struct{}
	suffixes   []string
}

// New builds a Filter from rules.
func New(rules Rules) *Filter {
	f := &Filter{extensions: make(map[string]struct{})}
	for _, p := range rules.Prefixes {
		f.AddPrefix(p)
	}
	for _, e := range rules.Extensions {
		f.AddExtension(e)
	}
	for _, s := range rules.Suffixes {
		f.AddSuffix(s)
	}
	return f
}

// AddPrefix excludes dir and everything below it.
func (f *Filter) AddPrefix(dir string) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return
	}
	clean := filepath.Clean(dir)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.prefixes {
		if p == clean {
			return
		}
	}
	f.prefixes = append(f.prefixes, clean)
}

// AddExtension excludes files with the given extension.
func (f *Filter) AddExtension(ext string) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	f.mu.Lock()
	f.extensions[ext] = struct{}{}
	f.mu.Unlock()
}

// AddSuffix excludes files whose name ends with suffix.
func (f *Filter) AddSuffix(suffix string) {
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	if suffix == "" {
		return
	}
	f.mu.Lock()
	f.suffixes = append(f.suffixes, suffix)
	f.mu.Unlock()
}

// Prefixes returns a copy of the configured prefix directories.
func (f *Filter) Prefixes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.prefixes))
	copy(out, f.prefixes)
	return out
}

// IsExcluded reports whether absPath must be left out of the export.
func (f *Filter) IsExcluded(absPath string) bool {
	return f.IsExcludedDir(absPath) || f.excludedByName(filepath.Base(absPath))
}

// IsExcludedDir applies only the prefix rules, for pruning directories
// during traversal.
func (f *Filter) IsExcludedDir(absPath string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.prefixes {
		if safety.WithinPrefix(p, absPath) {
			return true
		}
	}
	return false
}

func (f *Filter) excludedByName(name string) bool {
	lower := strings.ToLower(name)

	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, ok := f.extensions[filepath.Ext(lower)]; ok {
		return true
	}
	for _, s := range f.suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
