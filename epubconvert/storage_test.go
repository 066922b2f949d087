package epubconvert

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorage(t *testing.T) {
	storage := NewMemStorage()
	ctx := context.Background()

	result, err := storage.PutFile(ctx, "books", "a.epub", strings.NewReader("hello epub"), PutOptions{
		ContentType: EpubContentType,
		ACL:         ACLPublicRead,
	})
	require.NoError(t, err)
	assert.EqualValues(t, fmt.Sprintf("%x", md5.Sum([]byte("hello epub"))), result.MD5)

	reader, headers, err := storage.GetFile("books", "a.epub")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.EqualValues(t, "hello epub", string(data))
	assert.EqualValues(t, EpubContentType, headers.Get("Content-Type"))
	assert.EqualValues(t, "public-read", headers.Get("x-acl"))
	assert.EqualValues(t, "", headers.Get("Content-Disposition"))

	_, _, err = storage.GetFile("books", "missing.epub")
	assert.Error(t, err)

	storage.planForFailure("books", "b.epub")
	_, err = storage.PutFile(ctx, "books", "b.epub", strings.NewReader("x"), PutOptions{})
	assert.Error(t, err)
}

func writeTestKey(t *testing.T) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	fname := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(fname, pemBytes, 0o600))
	return fname
}

func TestGcsStoragePutFile(t *testing.T) {
	type upload struct {
		path    string
		auth    string
		headers http.Header
		body    string
	}

	var mutex sync.Mutex
	var uploads []upload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`)
			return
		}

		body, _ := io.ReadAll(r.Body)
		mutex.Lock()
		uploads = append(uploads, upload{r.URL.Path, r.Header.Get("Authorization"), r.Header, string(body)})
		mutex.Unlock()

		if strings.Contains(r.URL.Path, "denied") {
			http.Error(w, "AccessDenied", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage, err := NewGcsStorage(&StorageConfig{
		Name:              "gcs",
		Type:              GCS,
		GCSPrivateKeyPath: writeTestKey(t),
		GCSClientEmail:    "books@example.org",
		Bucket:            "library",
	})
	require.NoError(t, err)
	storage.jwtConfig.TokenURL = server.URL + "/token"
	storage.baseURL = server.URL + "/"

	result, err := storage.PutFile(context.Background(), "library", "epubs/a.epub", strings.NewReader("epub bytes"), PutOptions{
		ContentType:        EpubContentType,
		ContentDisposition: `attachment; filename="a.epub"`,
		ACL:                ACLPrivate,
	})
	require.NoError(t, err)
	assert.EqualValues(t, fmt.Sprintf("%x", md5.Sum([]byte("epub bytes"))), result.MD5)

	require.Len(t, uploads, 1)
	assert.EqualValues(t, "/library/epubs/a.epub", uploads[0].path)
	assert.EqualValues(t, "Bearer test-token", uploads[0].auth)
	assert.EqualValues(t, "epub bytes", uploads[0].body)
	assert.EqualValues(t, EpubContentType, uploads[0].headers.Get("Content-Type"))
	assert.EqualValues(t, "private", uploads[0].headers.Get("x-goog-acl"))
	assert.EqualValues(t, `attachment; filename="a.epub"`, uploads[0].headers.Get("Content-Disposition"))

	_, err = storage.PutFile(context.Background(), "library", "denied.epub", strings.NewReader("x"), PutOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestS3StoragePutFile(t *testing.T) {
	type upload struct {
		method  string
		path    string
		headers http.Header
		body    string
	}

	var mutex sync.Mutex
	var uploads []upload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mutex.Lock()
		uploads = append(uploads, upload{r.Method, r.URL.Path, r.Header, string(body)})
		mutex.Unlock()

		if strings.Contains(r.URL.Path, "denied") {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
			return
		}

		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage, err := NewS3Storage(&StorageConfig{
		Name:          "s3",
		Type:          S3,
		S3AccessKeyID: "id",
		S3SecretKey:   "secret",
		S3Endpoint:    server.URL,
		S3Region:      "us-east-1",
		S3PathStyle:   true,
		Bucket:        "library",
	})
	require.NoError(t, err)

	result, err := storage.PutFile(context.Background(), "library", "epubs/a.epub", strings.NewReader("epub bytes"), PutOptions{
		ContentType:        EpubContentType,
		ContentDisposition: `attachment; filename="a.epub"`,
		ACL:                ACLPublicRead,
	})
	require.NoError(t, err)
	assert.EqualValues(t, fmt.Sprintf("%x", md5.Sum([]byte("epub bytes"))), result.MD5)

	require.Len(t, uploads, 1)
	assert.EqualValues(t, http.MethodPut, uploads[0].method)
	assert.EqualValues(t, "/library/epubs/a.epub", uploads[0].path)
	assert.EqualValues(t, "epub bytes", uploads[0].body)
	assert.EqualValues(t, EpubContentType, uploads[0].headers.Get("Content-Type"))
	assert.EqualValues(t, "public-read", uploads[0].headers.Get("x-amz-acl"))
	assert.EqualValues(t, `attachment; filename="a.epub"`, uploads[0].headers.Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(uploads[0].headers.Get("Authorization"), "AWS4-HMAC-SHA256"))

	_, err = storage.PutFile(context.Background(), "library", "denied.epub", strings.NewReader("x"), PutOptions{})
	assert.Error(t, err)
}

func TestNewGcsStorageMissingKey(t *testing.T) {
	_, err := NewGcsStorage(&StorageConfig{
		Name:              "gcs",
		Type:              GCS,
		GCSPrivateKeyPath: filepath.Join(t.TempDir(), "missing.pem"),
		GCSClientEmail:    "books@example.org",
		Bucket:            "library",
	})
	assert.Error(t, err)
}

func TestStorageConfigNewStorage(t *testing.T) {
	s3Storage, err := (&StorageConfig{
		Name:          "s3",
		Type:          S3,
		S3AccessKeyID: "id",
		S3SecretKey:   "secret",
		S3Endpoint:    "https://s3.example.org",
		S3Region:      "us-east-1",
		Bucket:        "library",
	}).NewStorage()
	require.NoError(t, err)
	assert.IsType(t, &S3Storage{}, s3Storage)

	gcsStorage, err := (&StorageConfig{
		Name:              "gcs",
		Type:              GCS,
		GCSPrivateKeyPath: writeTestKey(t),
		GCSClientEmail:    "books@example.org",
		Bucket:            "library",
	}).NewStorage()
	require.NoError(t, err)
	assert.IsType(t, &GcsStorage{}, gcsStorage)

	_, err = (&StorageConfig{Name: "ftp", Type: StorageType(7)}).NewStorage()
	assert.Error(t, err)
}
