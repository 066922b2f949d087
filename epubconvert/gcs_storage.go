package epubconvert

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

var (
	gcsBaseURL = "https://storage.googleapis.com/"
	gcsScope   = "https://www.googleapis.com/auth/devstorage.read_write"
)

// GcsStorage publishes to Google Cloud Storage through its XML API, authenticated
// with a service account key
type GcsStorage struct {
	jwtConfig *jwt.Config
	baseURL   string
}

// interface guard
var _ Storage = (*GcsStorage)(nil)

// NewGcsStorage returns a new GCS-backed storage
func NewGcsStorage(config *StorageConfig) (*GcsStorage, error) {
	pemBytes, err := os.ReadFile(config.GCSPrivateKeyPath)
	if err != nil {
		return nil, err
	}

	jwtConfig := &jwt.Config{
		Email:      config.GCSClientEmail,
		PrivateKey: pemBytes,
		TokenURL:   google.JWTTokenURL,
		Scopes:     []string{gcsScope},
	}

	return &GcsStorage{
		jwtConfig: jwtConfig,
		baseURL:   gcsBaseURL,
	}, nil
}

func (c *GcsStorage) httpClient(ctx context.Context) *http.Client {
	return c.jwtConfig.Client(ctx)
}

func (c *GcsStorage) url(bucket, key string) string {
	return c.baseURL + bucket + "/" + key
}

// PutFile uploads a file to GCS
func (c *GcsStorage) PutFile(ctx context.Context, bucket, key string, contents io.Reader, opts PutOptions) (PutResult, error) {
	hash := md5.New()
	body := io.TeeReader(contents, hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(bucket, key), body)
	if err != nil {
		return PutResult{}, err
	}

	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		req.Header.Set("Content-Disposition", opts.ContentDisposition)
	}
	if opts.ACL != "" {
		req.Header.Set("x-goog-acl", string(opts.ACL))
	}

	res, err := c.httpClient(ctx).Do(req)
	if err != nil {
		return PutResult{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return PutResult{}, err
		}
		return PutResult{}, fmt.Errorf("%s: %s", res.Status, body)
	}

	return PutResult{
		MD5: fmt.Sprintf("%x", hash.Sum(nil)),
	}, nil
}
