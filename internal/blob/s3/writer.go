package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

const (
	// S3 rejects multipart parts below 5 MiB.
	minPartSize int64 = 5 * 1024 * 1024
	// Archives above this go through the transfer manager.
	multipartThreshold = 8 * 1024 * 1024
)

// Writer uploads archive objects. Small days are a single PutObject; large
// days are split into parts by the SDK transfer manager.
type Writer struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.s3,
		bucket: c.bucket,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = minPartSize
		}),
	}
}

// Put stores data at key with the given user metadata.
func (w *Writer) Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      meta,
	}
	if len(data) > multipartThreshold {
		in.ContentLength = nil
		if _, err := w.uploader.Upload(ctx, in); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s (%d bytes): %w", key, len(data), err)
		}
		return nil
	}
	if _, err := w.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
