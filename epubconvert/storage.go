package epubconvert

import (
	"context"
	"io"
)

// EpubContentType is the content type finished archives are published with
const EpubContentType = "application/epub+zip"

// ACL represents storage access control level
type ACL string

const (
	ACLPublicRead ACL = "public-read"
	ACLPrivate    ACL = "private"
)

// PutOptions contains configuration for uploading a file
type PutOptions struct {
	ContentType        string
	ContentDisposition string
	ACL                ACL
}

// PutResult contains the result of a PutFile operation
type PutResult struct {
	MD5 string // hex-encoded MD5 checksum of uploaded bytes
}

// Storage is a place finished archives can be published to
type Storage interface {
	PutFile(ctx context.Context, bucket, key string, contents io.Reader, opts PutOptions) (PutResult, error)
}
