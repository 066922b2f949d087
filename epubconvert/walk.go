package epubconvert

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IrregularFileRule is reported for package entries that aren't regular files
const IrregularFileRule = "irregular file"

// PackageFile is one file found inside a package directory
type PackageFile struct {
	RelPath string // slash separated, relative to the package root
	AbsPath string
}

// Excluder decides which files of a package never make it into the archive.
// Markers are case-sensitive substrings of the file name, so a content file
// that merely contains ".plist" or "bookmarks" is skipped too. Globs are
// doublestar patterns matched against the slash separated relative path.
type Excluder struct {
	Markers []string
	Globs   []string
}

// NewExcluder builds the exclusion rules from a config
func NewExcluder(config *Config) *Excluder {
	return &Excluder{
		Markers: config.ExcludeMarkers,
		Globs:   config.ExcludeGlobs,
	}
}

// Match returns the rule that excludes relPath, or "" if the file is kept
func (e *Excluder) Match(relPath string) string {
	if e == nil {
		return ""
	}

	name := relPath
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		name = relPath[i+1:]
	}

	for _, marker := range e.Markers {
		if marker != "" && strings.Contains(name, marker) {
			return marker
		}
	}

	for _, pattern := range e.Globs {
		// invalid patterns are rejected by Config.Validate
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return pattern
		}
	}

	return ""
}

// WalkPackage lists every regular file under root that isn't excluded, in
// lexical walk order. skipped is called for every excluded file and may be nil.
func WalkPackage(root string, excluder *Excluder, skipped func(relPath, rule string)) ([]PackageFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, newArchiveError(SourceUnreadable, root, err)
	}
	if !info.IsDir() {
		return nil, newArchiveError(SourceUnreadable, root, fmt.Errorf("not a directory"))
	}

	var files []PackageFile

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		mode := d.Type()
		if mode&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			mode = info.Mode()
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		// fifos, sockets and devices would block or never end once opened
		if !mode.IsRegular() {
			if skipped != nil {
				skipped(rel, IrregularFileRule)
			}
			return nil
		}

		if rule := excluder.Match(rel); rule != "" {
			if skipped != nil {
				skipped(rel, rule)
			}
			return nil
		}

		files = append(files, PackageFile{RelPath: rel, AbsPath: path})
		return nil
	})

	if err != nil {
		return nil, newArchiveError(SourceUnreadable, root, err)
	}

	return files, nil
}
