package epubconvert

import (
	"context"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const (
	// MimetypeName is the entry every epub archive must start with
	MimetypeName = "mimetype"
	// MimetypeContent is written verbatim, whatever the package's own mimetype file says
	MimetypeContent = "application/epub+zip"
)

// Archiver packs an unpacked epub directory into a single epub file
type Archiver struct {
	*Config
	Logger  *log.Logger
	Metrics *MetricsCounter
}

// NewArchiver creates a new archiver from the given config. logger and
// metrics may be nil.
func NewArchiver(config *Config, logger *log.Logger, metrics *MetricsCounter) *Archiver {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = &MetricsCounter{}
	}
	return &Archiver{Config: config, Logger: logger, Metrics: metrics}
}

// Archive converts sourceDir with the default settings, see Archiver.Archive
func Archive(sourceDir, targetArchive string) (int, error) {
	return NewArchiver(DefaultConfig(), nil, nil).Archive(context.Background(), sourceDir, targetArchive)
}

// Archive writes the package in sourceDir to targetArchive, replacing any
// existing file, and returns the number of content entries written (the
// mimetype entry isn't counted).
//
// The archive is assembled in a temporary file next to targetArchive and only
// renamed into place once complete, so a failed run never leaves a truncated
// epub behind.
func (a *Archiver) Archive(ctx context.Context, sourceDir, targetArchive string) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(targetArchive), "."+filepath.Base(targetArchive)+".*.tmp")
	if err != nil {
		return 0, newArchiveError(TargetUnwritable, targetArchive, err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	level := a.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	if err := writeMimetype(zw); err != nil {
		return 0, newArchiveError(TargetUnwritable, targetArchive, err)
	}

	// the target may live inside the package, neither it nor the file being
	// written may end up as an entry
	tmpInfo, err := tmp.Stat()
	if err != nil {
		return 0, newArchiveError(TargetUnwritable, targetArchive, err)
	}
	targetInfo, _ := os.Stat(targetArchive)

	files, err := WalkPackage(sourceDir, NewExcluder(a.Config), func(relPath, rule string) {
		a.Logger.Debug("Skipped object", "file", relPath, "rule", rule)
		a.Metrics.TotalEntriesSkipped.Add(1)
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range files {
		if isSameFile(file.AbsPath, tmpInfo, targetInfo) {
			a.Logger.Debug("Skipped object", "file", file.RelPath, "rule", "archive output")
			a.Metrics.TotalEntriesSkipped.Add(1)
			continue
		}

		if err := ctx.Err(); err != nil {
			return count, newArchiveError(EntryWriteFailure, file.RelPath, err)
		}

		if err := a.writeEntry(zw, file); err != nil {
			return count, err
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return count, newArchiveError(TargetUnwritable, targetArchive, err)
	}

	if err := tmp.Chmod(0o644); err != nil {
		return count, newArchiveError(TargetUnwritable, targetArchive, err)
	}

	if err := tmp.Close(); err != nil {
		return count, newArchiveError(TargetUnwritable, targetArchive, err)
	}

	if err := os.Rename(tmpName, targetArchive); err != nil {
		return count, newArchiveError(TargetUnwritable, targetArchive, err)
	}
	committed = true

	a.Metrics.TotalEntriesWritten.Add(int64(count))
	return count, nil
}

func isSameFile(fname string, others ...os.FileInfo) bool {
	info, err := os.Stat(fname)
	if err != nil {
		return false
	}

	for _, other := range others {
		if other != nil && os.SameFile(info, other) {
			return true
		}
	}
	return false
}

// writeMimetype adds the stored mimetype entry. Sizes and checksum go into the
// local header up front (no data descriptor) so readers can identify the
// format at a fixed offset.
func writeMimetype(zw *zip.Writer) error {
	content := []byte(MimetypeContent)

	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               MimetypeName,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(content),
		CompressedSize64:   uint64(len(content)),
		UncompressedSize64: uint64(len(content)),
	})
	if err != nil {
		return err
	}

	_, err = w.Write(content)
	return err
}

func (a *Archiver) writeEntry(zw *zip.Writer, file PackageFile) error {
	f, err := os.Open(file.AbsPath)
	if err != nil {
		return newArchiveError(SourceUnreadable, file.AbsPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return newArchiveError(SourceUnreadable, file.AbsPath, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return newArchiveError(EntryWriteFailure, file.RelPath, err)
	}
	header.Name = file.RelPath
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return newArchiveError(EntryWriteFailure, file.RelPath, err)
	}

	var readErr error
	var bytesRead uint64
	reader := limitedReader(
		sourceReader(metricsReader(f, &a.Metrics.TotalBytesRead), &readErr),
		a.MaxEntrySize, &bytesRead)

	if _, err := io.Copy(w, reader); err != nil {
		if readErr != nil {
			return newArchiveError(SourceUnreadable, file.AbsPath, readErr)
		}
		return newArchiveError(EntryWriteFailure, file.RelPath, err)
	}

	a.Logger.Debug("Added object", "file", file.RelPath, "size", formatBytes(float64(bytesRead)))
	return nil
}
