package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// partSize is the multipart threshold and part size (the S3 minimum).
const partSize int64 = 5 * 1024 * 1024

// Writer uploads archive objects to the client's bucket. Bodies up to
// partSize go out as one PutObject; larger ones are split by the upload
// manager.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer on c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = 2
		}),
		bucket: c.bucket,
	}
}

// PutObject stores body under key, replacing any existing object.
func (w *Writer) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}
