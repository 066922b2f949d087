package epubconvert

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"

	errors "github.com/go-errors/errors"
)

// ArchiveEntry describes one entry of a finished archive
type ArchiveEntry struct {
	Name             string
	Method           uint16
	CompressedSize   uint64
	UncompressedSize uint64
}

// Stored reports whether the entry was written without compression
func (e ArchiveEntry) Stored() bool {
	return e.Method == zip.Store
}

// ListArchive returns the entries of the archive at fname in central directory order
func ListArchive(fname string) ([]ArchiveEntry, error) {
	zipFile, err := zip.OpenReader(fname)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	defer zipFile.Close()

	entries := make([]ArchiveEntry, 0, len(zipFile.File))
	for _, file := range zipFile.File {
		entries = append(entries, ArchiveEntry{
			Name:             file.Name,
			Method:           file.Method,
			CompressedSize:   file.CompressedSize64,
			UncompressedSize: file.UncompressedSize64,
		})
	}

	return entries, nil
}

const localHeaderLen = 30

// VerifyArchive checks that the physically first entry of the archive is a
// stored mimetype entry holding the canonical content, and that every entry
// decompresses with a matching checksum.
func VerifyArchive(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer f.Close()

	if err := checkLeadingMimetype(f); err != nil {
		return err
	}

	zipFile, err := zip.OpenReader(fname)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	defer zipFile.Close()

	for _, file := range zipFile.File {
		if err := drainEntry(file); err != nil {
			return errors.Wrap(fmt.Errorf("%s: %w", file.Name, err), 0)
		}
	}

	return nil
}

// checkLeadingMimetype reads the first local file header straight from the
// byte stream, the way sequential epub readers do
func checkLeadingMimetype(r io.Reader) error {
	want := len(MimetypeName) + len(MimetypeContent)
	buf := make([]byte, localHeaderLen+want)
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.New(fmt.Sprintf("archive too short for a mimetype entry: %s", err))
	}

	if binary.LittleEndian.Uint32(buf[0:4]) != 0x04034b50 {
		return errors.New("archive does not start with a local file header")
	}

	if method := binary.LittleEndian.Uint16(buf[8:10]); method != zip.Store {
		return errors.New(fmt.Sprintf("mimetype entry is compressed (method %d)", method))
	}

	nameLen := int(binary.LittleEndian.Uint16(buf[26:28]))
	extraLen := int(binary.LittleEndian.Uint16(buf[28:30]))
	if nameLen != len(MimetypeName) || extraLen != 0 {
		return errors.New("first entry is not a plain mimetype entry")
	}

	if name := string(buf[localHeaderLen : localHeaderLen+nameLen]); name != MimetypeName {
		return errors.New(fmt.Sprintf("first entry is %q, not %q", name, MimetypeName))
	}

	if !bytes.Equal(buf[localHeaderLen+nameLen:], []byte(MimetypeContent)) {
		return errors.New("mimetype entry does not contain " + MimetypeContent)
	}

	return nil
}

func drainEntry(file *zip.File) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	// the zip reader checks the CRC once the entry is fully read
	_, err = io.Copy(io.Discard, rc)
	return err
}
