package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// Reader reads session archives back from the bucket.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader for c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.s3, bucket: c.bucket}
}

// Get returns the object body; the caller closes it.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", key, notFound(err))
	}
	return out.Body, nil
}

// Stat returns size, type and the metadata written with the archive.
func (r *Reader) Stat(ctx context.Context, key string) (domain.BlobInfo, error) {
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.BlobInfo{}, fmt.Errorf("s3blob: stat %s: %w", key, notFound(err))
	}
	info := domain.BlobInfo{
		Path:        key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

// List returns every object under prefix.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := domain.BlobInfo{
				Path: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// ArchivedDay is one day's export as found in the bucket.
type ArchivedDay struct {
	TradingDate  string
	Path         string
	Size         int64
	LastModified time.Time
}

// Days lists the archived trading dates under prefix, oldest first. Objects
// that are not {date}.jsonl are skipped.
func (r *Reader) Days(ctx context.Context, prefix string) ([]ArchivedDay, error) {
	infos, err := r.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	days := make([]ArchivedDay, 0, len(infos))
	for _, info := range infos {
		date, ok := strings.CutSuffix(path.Base(info.Path), ".jsonl")
		if !ok {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, date); err != nil {
			continue
		}
		days = append(days, ArchivedDay{
			TradingDate:  date,
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].TradingDate < days[j].TradingDate })
	return days, nil
}

// notFound maps the SDK's missing-object answers to domain.ErrNotFound.
// GetObject returns NoSuchKey, HeadObject a bare NotFound, and some
// S3-compatible providers only the status code.
func notFound(err error) error {
	var (
		nsk  *types.NoSuchKey
		nf   *types.NotFound
		resp interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return domain.ErrNotFound
	case errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound:
		return domain.ErrNotFound
	}
	return err
}

var _ domain.BlobReader = (*Reader)(nil)
