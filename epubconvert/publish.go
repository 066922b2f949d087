package epubconvert

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"
)

// publishKey is the storage key a finished archive is uploaded under
func (c *Converter) publishKey(archivePath string) string {
	return path.Join(c.Publish.Prefix, filepath.Base(archivePath))
}

// publish uploads a finished archive to the configured storage target. The
// local archive is left in place whether or not the upload worked.
func (c *Converter) publish(ctx context.Context, archivePath string) error {
	if c.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.PublishTimeout))
		defer cancel()
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return newArchiveError(PublishFailure, archivePath, err)
	}
	defer f.Close()

	key := c.publishKey(archivePath)
	acl := c.Publish.ACL
	if acl == "" {
		acl = ACLPrivate
	}

	mReader := newMeasuredReader(metricsReader(f, &c.Metrics.TotalBytesUploaded))

	res, err := c.Storage.PutFile(ctx, c.Publish.Bucket, key, mReader, PutOptions{
		ContentType:        EpubContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", filepath.Base(archivePath)),
		ACL:                acl,
	})
	if err != nil {
		return newArchiveError(PublishFailure, key, err)
	}

	c.Logger.Info("Published archive",
		"storage", c.Publish.Name,
		"key", key,
		"size", formatBytes(float64(mReader.BytesRead)),
		"speed", formatBytes(mReader.TransferSpeed())+"/s",
		"md5", res.MD5)

	return nil
}
