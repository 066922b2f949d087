package epubconvert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/flate"

	errors "github.com/go-errors/errors"
)

// DefaultConfigFname is the default name for epubconvert's config file
var DefaultConfigFname = "epubconvert.json"

// Where Apple Books keeps unpacked packages, relative to the home directory
const booksLibraryDir = "Library/Mobile Documents/iCloud~com~apple~iBooks/Documents"

type StorageType int

const (
	GCS StorageType = iota // Google Cloud Storage
	S3                     // Amazon S3 Storage
)

var storageTypeString = map[string]StorageType{
	"GCS": GCS,
	"S3":  S3,
}

var storageTypeInt = map[StorageType]string{
	GCS: "GCS",
	S3:  "S3",
}

func (s StorageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(storageTypeInt[s])
}

func (s *StorageType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, ok := storageTypeString[str]
	if !ok {
		return errors.New("Invalid StorageType value")
	}
	*s = val
	return nil
}

// StorageConfig describes where finished archives get published to, either GCS or S3
type StorageConfig struct {
	Name string

	Type StorageType

	GCSPrivateKeyPath string `json:",omitempty"`
	GCSClientEmail    string `json:",omitempty"`

	S3AccessKeyID string `json:",omitempty"`
	S3SecretKey   string `json:",omitempty"`
	S3Endpoint    string `json:",omitempty"`
	S3Region      string `json:",omitempty"`
	// S3PathStyle puts the bucket in the URL path instead of the host name,
	// for S3 compatible servers without virtual host support
	S3PathStyle bool `json:",omitempty"`

	Bucket string `json:",omitempty"`
	Prefix string `json:",omitempty"`
	ACL    ACL    `json:",omitempty"`
}

// NewStorage returns the storage client for the configured type
func (sc *StorageConfig) NewStorage() (Storage, error) {
	switch sc.Type {
	case S3:
		return NewS3Storage(sc)
	case GCS:
		return NewGcsStorage(sc)
	default:
		return nil, fmt.Errorf("unsupported storage type")
	}
}

func (s *StorageConfig) Validate() error {
	if s.Name == "" {
		return errors.New("Config error: Name field missing")
	}

	missingFieldError := func(field string) error {
		return errors.New(fmt.Sprintf("Config error: [Storage %s] %s field missing", s.Name, field))
	}

	if s.Type == GCS {
		if s.GCSPrivateKeyPath == "" {
			return missingFieldError("GCSPrivateKeyPath")
		}

		if s.GCSClientEmail == "" {
			return missingFieldError("GCSClientEmail")
		}
	} else if s.Type == S3 {
		// access key and secret key are optional for S3, since they can be loaded from env
		if s.S3Endpoint == "" {
			return missingFieldError("S3Endpoint")
		}

		if s.S3Region == "" {
			return missingFieldError("S3Region")
		}
	}

	if s.Bucket == "" {
		return missingFieldError("Bucket")
	}

	return nil
}

// Config holds everything a conversion run needs. It is built once at startup
// and handed to the converter, nothing reads it from package state.
type Config struct {
	InputDir  string
	OutputDir string

	MaxExportFiles int  // 0 converts every discovered package
	DryRun         bool `json:",omitempty"`
	Workers        int

	CompressionLevel int
	ExcludeMarkers   []string
	ExcludeGlobs     []string `json:",omitempty"`
	MaxEntrySize     uint64   `json:",omitempty"` // 0 = unlimited

	JobTimeout     Duration `json:",omitempty"` // Time to convert a single package
	PublishTimeout Duration `json:",omitempty"` // Time to upload a single archive

	Publish *StorageConfig `json:",omitempty"`

	MetricsHost string `json:",omitempty"`
	LogFile     string `json:",omitempty"`
}

// DefaultExcludeMarkers are matched as substrings of every file name found
// while walking a package. The root mimetype is written separately.
var DefaultExcludeMarkers = []string{"mimetype", ".plist", "bookmarks"}

// DefaultConfig returns the configuration used when no config file is given
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		InputDir:       filepath.Join(home, booksLibraryDir),
		OutputDir:      filepath.Join(home, "Books"),
		MaxExportFiles: 5,
		Workers:        4,

		CompressionLevel: flate.BestCompression,
		ExcludeMarkers:   append([]string(nil), DefaultExcludeMarkers...),

		JobTimeout:     Duration(5 * time.Minute),
		PublishTimeout: Duration(1 * time.Minute),
	}
}

// Duration adds JSON (de)serialization to time.Duration.
// https://github.com/golang/go/issues/10275
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// LoadConfig reads a config file over the defaults. An empty fname returns
// the defaults untouched.
func LoadConfig(fname string) (*Config, error) {
	config := DefaultConfig()
	if fname == "" {
		return config, nil
	}

	jsonBlob, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	err = json.Unmarshal(jsonBlob, config)
	if err != nil {
		return nil, fmt.Errorf("Failed parsing config file %s: %s", fname, err.Error())
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the config for values the converter can't work with
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return errors.New("Config error: InputDir field missing")
	}

	if c.OutputDir == "" {
		return errors.New("Config error: OutputDir field missing")
	}

	if c.MaxExportFiles < 0 {
		return errors.New("Config error: MaxExportFiles must not be negative")
	}

	if c.Workers < 0 {
		return errors.New("Config error: Workers must not be negative")
	}

	if c.CompressionLevel < flate.HuffmanOnly || c.CompressionLevel > flate.BestCompression {
		return errors.New(fmt.Sprintf("Config error: CompressionLevel %d out of range", c.CompressionLevel))
	}

	for _, pattern := range c.ExcludeGlobs {
		if !doublestar.ValidatePattern(pattern) {
			return errors.New(fmt.Sprintf("Config error: invalid exclude glob %q", pattern))
		}
	}

	if c.Publish != nil {
		if err := c.Publish.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) String() string {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error: could not stringify config: %s", err.Error())
	}

	return string(bytes)
}

func (c *Config) workerCount() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}
