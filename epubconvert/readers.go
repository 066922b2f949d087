package epubconvert

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

type readerClosure func(p []byte) (int, error)

func (fn readerClosure) Read(p []byte) (int, error) {
	return fn(p)
}

// wraps a source reader so that read failures can be told apart from write
// failures once io.Copy returns. The first non-EOF read error is stored in readErr.
func sourceReader(reader io.Reader, readErr *error) readerClosure {
	return func(p []byte) (int, error) {
		bytesRead, err := reader.Read(p)
		if err != nil && err != io.EOF && *readErr == nil {
			*readErr = err
		}
		return bytesRead, err
	}
}

// wraps a reader to fail if it reads more than max of maxBytes, also tracks
// the total amount of bytes read. A maxBytes of 0 disables the limit.
func limitedReader(reader io.Reader, maxBytes uint64, totalBytes *uint64) readerClosure {
	return func(p []byte) (int, error) {
		bytesRead, err := reader.Read(p)
		*totalBytes += uint64(bytesRead)

		if maxBytes > 0 && *totalBytes > maxBytes {
			return bytesRead, fmt.Errorf("File too large (max %d bytes)", maxBytes)
		}

		return bytesRead, err
	}
}

// wrap a reader to count bytes read into the counter
func metricsReader(reader io.Reader, counter *atomic.Int64) readerClosure {
	return func(p []byte) (int, error) {
		bytesRead, err := reader.Read(p)
		counter.Add(int64(bytesRead))
		return bytesRead, err
	}
}

type measuredReader struct {
	reader    io.Reader     // The underlying reader
	BytesRead int64         // Total bytes read
	StartTime time.Time     // Time when reading started
	Duration  time.Duration // Duration of the read operation
}

func newMeasuredReader(r io.Reader) *measuredReader {
	return &measuredReader{
		reader:    r,
		StartTime: time.Now(),
	}
}

// Read reads data from the underlying io.Reader, tracking the bytes read and duration
func (mr *measuredReader) Read(p []byte) (int, error) {
	n, err := mr.reader.Read(p)
	mr.BytesRead += int64(n)
	mr.Duration = time.Since(mr.StartTime)

	return n, err
}

// TransferSpeed returns the average transfer speed in bytes per second
func (mr *measuredReader) TransferSpeed() float64 {
	if mr.Duration.Seconds() == 0 {
		return 0
	}
	return float64(mr.BytesRead) / mr.Duration.Seconds()
}

func formatBytes(b float64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%.2f B", b)
	}
	div, exp := float64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", b/div, "kMGTPE"[exp])
}
