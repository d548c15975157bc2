package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// minPartSize is the S3 floor for multipart part sizes (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

var _ domain.ObjectStore = (*Bucket)(nil)

// Bucket stores JSONL archive objects in the configured bucket.
type Bucket struct {
	client   *s3.Client
	name     string
	uploader *manager.Uploader
}

// NewBucket uses the client's bucket.
func NewBucket(c *Client) *Bucket {
	return &Bucket{
		client: c.S3(),
		name:   c.Bucket(),
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = minPartSize
		}),
	}
}

// Put uploads body as one PutObject call, or through the multipart upload
// manager when multipart is set.
func (b *Bucket) Put(ctx context.Context, key string, body []byte, multipart bool) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentTypeJSONL),
	}
	if multipart {
		if _, err := b.uploader.Upload(ctx, in); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s (%d bytes): %w", key, len(body), err)
		}
		return nil
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}

// Open returns the object body; the caller closes it. A missing key yields
// domain.ErrNotFound.
func (b *Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("s3blob: open %s: %w", key, domain.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("s3blob: open %s: %w", key, err)
	}
	return out.Body, nil
}

// Latest pages through prefix and keeps the greatest key. Snapshot keys are
// zero-padded timestamps, so that is the newest object.
func (b *Bucket) Latest(ctx context.Context, prefix string) (string, error) {
	var latest string
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); key > latest {
				latest = key
			}
		}
	}
	if latest == "" {
		return "", fmt.Errorf("s3blob: no objects under %s: %w", prefix, domain.ErrNotFound)
	}
	return latest, nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404 responses from
// S3-compatible stores.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}
