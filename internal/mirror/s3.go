// Package mirror copies finished downloads to an S3 bucket. Uploads are
// fire-and-forget from the queue's point of view; a failed upload never
// fails the download.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/gcottom/go-zaplog"
	"go.uber.org/zap"
)

type S3Mirror struct {
	Client *s3.S3
	Bucket string
}

// NewS3Mirror returns nil when no bucket is configured; callers treat a nil
// mirror as "mirroring disabled".
func NewS3Mirror(bucket, region string) (*S3Mirror, error) {
	if bucket == "" {
		return nil, nil
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &S3Mirror{Client: s3.New(sess), Bucket: bucket}, nil
}

// Upload stores the file under its base name.
func (m *S3Mirror) Upload(ctx context.Context, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file for mirroring: %w", err)
	}
	defer file.Close()

	key := filepath.Base(localPath)
	_, err = m.Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}
	zaplog.InfoC(ctx, "mirrored file to s3", zap.String("bucket", m.Bucket), zap.String("key", key))
	return nil
}
