package epubconvert

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type S3Storage struct {
	Session *session.Session
	config  *StorageConfig
}

func NewS3Storage(config *StorageConfig) (*S3Storage, error) {
	var creds *credentials.Credentials

	if config.S3AccessKeyID == "" || config.S3SecretKey == "" {
		creds = credentials.NewEnvCredentials()
	} else {
		creds = credentials.NewStaticCredentials(config.S3AccessKeyID, config.S3SecretKey, "")
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials:      creds,
		Endpoint:         aws.String(config.S3Endpoint),
		Region:           aws.String(config.S3Region),
		S3ForcePathStyle: aws.Bool(config.S3PathStyle),
	})

	if err != nil {
		return nil, err
	}

	return &S3Storage{
		config:  config,
		Session: sess,
	}, nil
}

// Compile-time check that S3Storage implements Storage interface
var _ Storage = (*S3Storage)(nil)

// PutFile implements Storage interface - uploads a file with the given options
func (c *S3Storage) PutFile(ctx context.Context, bucket, key string, contents io.Reader, opts PutOptions) (PutResult, error) {
	uploader := s3manager.NewUploaderWithClient(s3.New(c.Session), func(u *s3manager.Uploader) {
		u.PartSize = 1024 * 1024 * 50 // 50Mb per part to avoid excess API calls
	})

	hash := md5.New()

	// duplicate reads into the md5 hasher
	multi := io.TeeReader(contents, hash)

	uploadInput := &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   multi,
	}

	if opts.ContentType != "" {
		uploadInput.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		uploadInput.ContentDisposition = aws.String(opts.ContentDisposition)
	}
	if opts.ACL != "" {
		uploadInput.ACL = aws.String(string(opts.ACL))
	}

	_, err := uploader.UploadWithContext(ctx, uploadInput)
	if err != nil {
		return PutResult{}, err
	}

	return PutResult{
		MD5: fmt.Sprintf("%x", hash.Sum(nil)),
	}, nil
}
