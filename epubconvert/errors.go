package epubconvert

import (
	stderrors "errors"
	"fmt"

	errors "github.com/go-errors/errors"
)

// ErrorKind classifies why a package could not be converted
type ErrorKind int

const (
	// SourceUnreadable: package directory missing, not permitted, or vanished mid-walk
	SourceUnreadable ErrorKind = iota + 1
	// TargetUnwritable: archive file could not be created, finalized or moved into place
	TargetUnwritable
	// EntryWriteFailure: streaming an individual file into the archive failed
	EntryWriteFailure
	// PublishFailure: the finished archive could not be uploaded
	PublishFailure
	// TargetBusy: another item is already writing the same archive
	TargetBusy
)

var errorKindNames = map[ErrorKind]string{
	SourceUnreadable:  "source unreadable",
	TargetUnwritable:  "target unwritable",
	EntryWriteFailure: "entry write failure",
	PublishFailure:    "publish failure",
	TargetBusy:        "target busy",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ArchiveError is returned for every failed conversion. Err carries a stack
// trace from where the failure was first seen.
type ArchiveError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// ErrorStack returns the stack of the underlying cause, if it has one
func (e *ArchiveError) ErrorStack() string {
	var se *errors.Error
	if stderrors.As(e.Err, &se) {
		return e.Error() + "\n" + string(se.Stack())
	}
	return e.Error()
}

func newArchiveError(kind ErrorKind, path string, err error) *ArchiveError {
	return &ArchiveError{Kind: kind, Path: path, Err: errors.Wrap(err, 1)}
}

// IsKind reports whether err is an ArchiveError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var ae *ArchiveError
	if stderrors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// KindOf returns the kind of an ArchiveError, or 0 for anything else
func KindOf(err error) ErrorKind {
	var ae *ArchiveError
	if stderrors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}
