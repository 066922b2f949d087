package epubconvert

import (
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	errors "github.com/go-errors/errors"
)

// PackageSuffix marks a directory as an unpacked epub
const PackageSuffix = ".epub"

// DiscoverPackages finds every directory under inputDir whose name ends in
// .epub. Found packages aren't descended into. Names are relative to inputDir
// and sorted.
func DiscoverPackages(inputDir string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() || path == inputDir {
			return nil
		}

		if !strings.HasSuffix(d.Name(), PackageSuffix) {
			return nil
		}

		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		names = append(names, rel)
		return filepath.SkipDir
	})
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	sort.Strings(names)
	return names, nil
}

// SelectPackages limits names to at most max randomly picked packages. With
// max == 0 every package is kept, in order. names is not modified.
func SelectPackages(names []string, max int, rng *rand.Rand) []string {
	selected := append([]string(nil), names...)
	if max <= 0 {
		return selected
	}

	rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	if len(selected) > max {
		selected = selected[:max]
	}
	return selected
}

// EnsureDirectories checks the input directory exists and creates the output
// directory if it's missing. Nothing is created in dry run mode.
func EnsureDirectories(config *Config) error {
	info, err := os.Stat(config.InputDir)
	if err != nil {
		return errors.Wrap(fmt.Errorf("source directory does not exist: %w", err), 0)
	}
	if !info.IsDir() {
		return errors.New(fmt.Sprintf("source path is not a directory: %s", config.InputDir))
	}

	info, err = os.Stat(config.OutputDir)
	if err == nil {
		if !info.IsDir() {
			return errors.New(fmt.Sprintf("output path is not a directory: %s", config.OutputDir))
		}
		return nil
	}

	if !os.IsNotExist(err) {
		return errors.Wrap(err, 0)
	}

	if config.DryRun {
		return nil
	}

	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}
