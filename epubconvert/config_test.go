package epubconvert

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Config(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "epubconvert.json")

	writeConfigBytes := func(bytes []byte) {
		require.NoError(t, os.WriteFile(fname, bytes, 0o644))
	}

	writeConfig := func(c map[string]interface{}) {
		bytes, err := json.Marshal(c)
		require.NoError(t, err)
		writeConfigBytes(bytes)
	}

	assertConfigError := func() {
		_, err := LoadConfig(fname)
		assert.Error(t, err)
	}

	writeConfigBytes([]byte("{"))
	assertConfigError()

	writeConfig(map[string]interface{}{"InputDir": ""})
	assertConfigError()

	writeConfig(map[string]interface{}{"MaxExportFiles": -1})
	assertConfigError()

	writeConfig(map[string]interface{}{"CompressionLevel": 10})
	assertConfigError()

	writeConfig(map[string]interface{}{"ExcludeGlobs": []string{"[unclosed"}})
	assertConfigError()

	writeConfig(map[string]interface{}{
		"Publish": map[string]interface{}{"Name": "books", "Type": "S3", "Bucket": "b"},
	})
	assertConfigError()

	writeConfig(map[string]interface{}{
		"Publish": map[string]interface{}{"Name": "books", "Type": "FTP"},
	})
	assertConfigError()

	writeConfig(map[string]interface{}{
		"InputDir":       "/books/in",
		"OutputDir":      "/books/out",
		"MaxExportFiles": 0,
		"ExcludeGlobs":   []string{"**/.DS_Store"},
		"JobTimeout":     "90s",
		"Publish": map[string]interface{}{
			"Name":       "books",
			"Type":       "S3",
			"S3Endpoint": "https://s3.example.org",
			"S3Region":   "us-east-1",
			"Bucket":     "library",
			"Prefix":     "epubs",
		},
	})

	c, err := LoadConfig(fname)
	require.NoError(t, err)

	assert.EqualValues(t, "/books/in", c.InputDir)
	assert.EqualValues(t, "/books/out", c.OutputDir)
	assert.EqualValues(t, 0, c.MaxExportFiles)
	assert.EqualValues(t, Duration(90*time.Second), c.JobTimeout)
	assert.EqualValues(t, S3, c.Publish.Type)
	assert.EqualValues(t, "epubs", c.Publish.Prefix)

	// untouched fields keep their defaults
	assert.EqualValues(t, 4, c.Workers)
	assert.EqualValues(t, 9, c.CompressionLevel)
	assert.EqualValues(t, DefaultExcludeMarkers, c.ExcludeMarkers)

	assert.True(t, c.String() != "")
}

func Test_ConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func Test_DefaultConfig(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.EqualValues(t, 5, c.MaxExportFiles)
	assert.False(t, c.DryRun)
	assert.Contains(t, c.InputDir, "iCloud~com~apple~iBooks")
	assert.EqualValues(t, "Books", filepath.Base(c.OutputDir))
	assert.EqualValues(t, []string{"mimetype", ".plist", "bookmarks"}, c.ExcludeMarkers)
	assert.Nil(t, c.Publish)
}

func Test_ConfigRoundTrip(t *testing.T) {
	c := DefaultConfig()
	c.Publish = &StorageConfig{
		Name:              "gcs",
		Type:              GCS,
		GCSPrivateKeyPath: "/keys/key.pem",
		GCSClientEmail:    "books@example.org",
		Bucket:            "library",
	}

	var decoded Config
	require.NoError(t, json.Unmarshal([]byte(c.String()), &decoded))
	assert.EqualValues(t, c.JobTimeout, decoded.JobTimeout)
	assert.EqualValues(t, GCS, decoded.Publish.Type)
	require.NoError(t, decoded.Validate())
}

func Test_StorageConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config StorageConfig
		valid  bool
	}{
		{"missing name", StorageConfig{Type: S3, S3Endpoint: "e", S3Region: "r", Bucket: "b"}, false},
		{"s3 missing endpoint", StorageConfig{Name: "s3", Type: S3, S3Region: "r", Bucket: "b"}, false},
		{"s3 missing region", StorageConfig{Name: "s3", Type: S3, S3Endpoint: "e", Bucket: "b"}, false},
		{"s3 missing bucket", StorageConfig{Name: "s3", Type: S3, S3Endpoint: "e", S3Region: "r"}, false},
		{"s3 ok", StorageConfig{Name: "s3", Type: S3, S3Endpoint: "e", S3Region: "r", Bucket: "b"}, true},
		{"gcs missing key", StorageConfig{Name: "gcs", Type: GCS, GCSClientEmail: "a@b", Bucket: "b"}, false},
		{"gcs missing email", StorageConfig{Name: "gcs", Type: GCS, GCSPrivateKeyPath: "k", Bucket: "b"}, false},
		{"gcs ok", StorageConfig{Name: "gcs", Type: GCS, GCSPrivateKeyPath: "k", GCSClientEmail: "a@b", Bucket: "b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
