package filter

import (
	"testing"
)

func TestDefaultRules(t *testing.T) {
	f := New(DefaultRules("/content"))

	tests := []struct {
		path string
		want bool
	}{
		{"/content/cache", true},
		{"/content/cache/x", true},
		{"/content/cache/deep/page.html", true},
		{"/content/cache-other/x", false},
		{"/content/cache-legit/x", false},
		{"/content/themes/site/styles.less.cache", true},
		{"/content/uploads/report.sql", false},
		{"/content/uploads/site.wpress", true},
		{"/content/uploads/wp-config.php.BAK", true},
		{"/content/uploads/photo.jpg", false},
		{"/content/object-cache.db-wal", true},
		{"/content/updraft/backup_2024.zip", true},
		{"/content/updraft-notes/readme.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := f.IsExcluded(tt.path); got != tt.want {
				t.Errorf("IsExcluded(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestAddPrefixIsUnion(t *testing.T) {
	f := New(DefaultRules("/content"))
	f.AddPrefix("/content/uploads/private/")
	f.AddPrefix("/content/uploads/private")

	if !f.IsExcluded("/content/uploads/private/a.pdf") {
		t.Error("appended prefix not applied")
	}
	if !f.IsExcluded("/content/cache/x") {
		t.Error("default prefix lost after append")
	}
	if f.IsExcluded("/content/uploads/private-not/a.pdf") {
		t.Error("appended prefix matched a sibling")
	}

	count := 0
	for _, p := range f.Prefixes() {
		if p == "/content/uploads/private" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate prefix stored %d times", count)
	}
}

func TestAddExtension(t *testing.T) {
	f := New(Rules{})
	f.AddExtension("LOG")
	if !f.IsExcluded("/x/debug.log") {
		t.Error("extension without dot not applied")
	}
	if f.IsExcluded("/x/debug.txt") {
		t.Error("unexpected exclusion")
	}
}

func TestIsExcludedDirIgnoresNameRules(t *testing.T) {
	f := New(DefaultRules("/content"))
	if f.IsExcludedDir("/content/themes/theme.old") {
		t.Error("directory pruning must only use prefix rules")
	}
	if !f.IsExcludedDir("/content/et-cache") {
		t.Error("expected et-cache to be pruned")
	}
}
