package epubconvert

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// MemStorage implements Storage in memory, storing objects in a map. It keeps
// everything forever, so it's only good for tests and dry runs.
type MemStorage struct {
	mutex        sync.Mutex
	objects      map[string]memObject
	failingPaths map[string]struct{}
}

type memObject struct {
	data    []byte
	headers http.Header
}

// interface guard
var _ Storage = (*MemStorage)(nil)

// NewMemStorage creates a new MemStorage instance
func NewMemStorage() *MemStorage {
	return &MemStorage{
		objects:      make(map[string]memObject),
		failingPaths: make(map[string]struct{}),
	}
}

func (fs *MemStorage) objectPath(bucket, key string) string {
	return fmt.Sprintf("%s/%s", bucket, key)
}

// GetFile returns the stored object along with the headers it was put with
func (fs *MemStorage) GetFile(bucket, key string) (io.ReadCloser, http.Header, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	objectPath := fs.objectPath(bucket, key)

	if obj, ok := fs.objects[objectPath]; ok {
		return io.NopCloser(bytes.NewReader(obj.data)), obj.headers, nil
	}

	return nil, nil, fmt.Errorf("%s: object not found", objectPath)
}

func (fs *MemStorage) PutFile(ctx context.Context, bucket, key string, contents io.Reader, opts PutOptions) (PutResult, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	objectPath := fs.objectPath(bucket, key)
	if _, ok := fs.failingPaths[objectPath]; ok {
		return PutResult{}, errors.New("intentional failure")
	}

	data, err := io.ReadAll(contents)
	if err != nil {
		return PutResult{}, err
	}

	headers := http.Header{}
	if opts.ContentType != "" {
		headers.Set("Content-Type", opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		headers.Set("Content-Disposition", opts.ContentDisposition)
	}
	if opts.ACL != "" {
		headers.Set("x-acl", string(opts.ACL))
	}

	fs.objects[objectPath] = memObject{data, headers}

	return PutResult{
		MD5: fmt.Sprintf("%x", md5.Sum(data)),
	}, nil
}

func (fs *MemStorage) planForFailure(bucket, key string) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	fs.failingPaths[fs.objectPath(bucket, key)] = struct{}{}
}
