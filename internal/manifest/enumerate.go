package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/BadgerOps/siteexport/internal/filter"
	"github.com/BadgerOps/siteexport/internal/safety"
)

// ErrSourceUnavailable means the content directory itself cannot be walked.
var ErrSourceUnavailable = errors.New("source directory unavailable")

// Summary describes one enumeration pass.
type Summary struct {
	FilesFound int64     `json:"files_found"`
	Excluded   int64     `json:"excluded"`
	TotalSize  int64     `json:"total_size"`
	Errors     int64     `json:"errors"`
	CreatedAt  time.Time `json:"created_at"`
	Cached     bool      `json:"-"`
}

// EnumerateOptions configures Enumerate.
type EnumerateOptions struct {
	SourceDir    string
	RootName     string // logical prefix of every relative path; defaults to the base name of SourceDir
	ManifestPath string
	Filter       *filter.Filter
	Logger       *slog.Logger
}

// SummaryPath returns where the summary for a manifest is kept.
func SummaryPath(manifestPath string) string {
	return manifestPath + ".summary.json"
}

// Enumerate walks SourceDir once and writes every included file to the
// manifest. When a committed manifest and its summary already exist they are
// reused and nothing is walked.
func Enumerate(ctx context.Context, opts EnumerateOptions) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	flt := opts.Filter
	if flt == nil {
		flt = filter.New(filter.Rules{})
	}

	if cached, ok := loadCached(opts.ManifestPath); ok {
		logger.Info("reusing existing manifest", "path", opts.ManifestPath, "files", cached.FilesFound)
		return cached, nil
	}

	root, err := filepath.EvalSymlinks(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	stat, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceUnavailable, root)
	}

	rootName := opts.RootName
	if rootName == "" {
		rootName = filepath.Base(filepath.Clean(opts.SourceDir))
	}

	w, err := NewWriter(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == root {
				return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
			}
			logger.Warn("skipping unreadable entry", "path", p, "error", err)
			sum.Errors++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if p != root && flt.IsExcludedDir(p) {
				n := countFiles(p)
				logger.Debug("excluded directory", "path", p, "files", n)
				sum.Excluded += n
				return filepath.SkipDir
			}
			return nil
		}

		// WalkDir does not follow directory symlinks, so p is already the
		// canonical path for regular files. Only links need resolving.
		realPath := p
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			realPath, err = filepath.EvalSymlinks(p)
			if err != nil {
				logger.Warn("skipping broken symlink", "path", p, "error", err)
				sum.Errors++
				return nil
			}
		case !d.Type().IsRegular():
			return nil
		}

		info, err := os.Stat(realPath)
		if err != nil {
			logger.Warn("skipping unreadable file", "path", p, "error", err)
			sum.Errors++
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		if flt.IsExcluded(realPath) || flt.IsExcluded(p) {
			logger.Debug("excluded file", "path", p)
			sum.Excluded++
			return nil
		}

		rel, ok := relativePath(root, rootName, realPath, p)
		if !ok {
			logger.Warn("cannot place file under content root", "path", p, "real_path", realPath)
			sum.Errors++
			return nil
		}

		if err := w.Write(Entry{
			AbsPath: realPath,
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		}); err != nil {
			return err
		}
		sum.TotalSize += info.Size()
		return nil
	})
	if walkErr != nil {
		w.Abort()
		return nil, walkErr
	}

	sum.FilesFound = w.Count()
	sum.CreatedAt = time.Now().UTC()
	if err := safety.WriteJSONAtomic(SummaryPath(opts.ManifestPath), sum); err != nil {
		w.Abort()
		return nil, fmt.Errorf("writing manifest summary: %w", err)
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}

	logger.Info("enumeration complete",
		"files", sum.FilesFound,
		"excluded", sum.Excluded,
		"total_size", sum.TotalSize,
		"errors", sum.Errors,
	)
	return sum, nil
}

// countFiles returns the number of regular files and file symlinks under
// a pruned directory. Unreadable entries are not counted.
func countFiles(dir string) int64 {
	var n int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if t := d.Type(); t.IsRegular() || t&fs.ModeSymlink != 0 {
			n++
		}
		return nil
	})
	return n
}

// relativePath strips the content root from the real path. When a mount
// point or symlink hides the root prefix, the root name is used as an anchor,
// and finally the walk location itself.
func relativePath(root, rootName, realPath, walked string) (string, bool) {
	if rel, ok := safety.RelativeUnder(root, realPath); ok {
		return path.Join(rootName, rel), true
	}
	if rel, ok := safety.RelativeAfterAnchor(rootName, realPath); ok {
		return path.Join(rootName, rel), true
	}
	if rel, ok := safety.RelativeUnder(root, walked); ok {
		return path.Join(rootName, rel), true
	}
	return "", false
}

func loadCached(manifestPath string) (*Summary, bool) {
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, false
	}
	var sum Summary
	found, err := safety.ReadJSON(SummaryPath(manifestPath), &sum)
	if err != nil || !found {
		return nil, false
	}
	sum.Cached = true
	return &sum, true
}

// Remove deletes the manifest, its summary and any partial file.
func Remove(manifestPath string) error {
	for _, p := range []string{manifestPath, manifestPath + ".partial", SummaryPath(manifestPath)} {
		if err := safety.RemoveIfExists(p); err != nil {
			return fmt.Errorf("removing %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}
