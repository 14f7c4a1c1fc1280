package media

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3 хранит файлы в бакете Amazon S3.
// Учетные данные берутся из окружения AWS.
type S3 struct {
	uploader *s3manager.Uploader
	client   *s3.S3
	bucket   string
	now      func() time.Time
}

// NewS3 возвращает [*S3].
func NewS3(bucket, region string) (*S3, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("media: create AWS session: %w", err)
	}
	return &S3{
		uploader: s3manager.NewUploader(sess),
		client:   s3.New(sess),
		bucket:   bucket,
		now:      time.Now,
	}, nil
}

func (s *S3) Save(ctx context.Context, f File) (Object, error) {
	name := ObjectName(f, s.now())
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(f.Data),
		ContentType: aws.String(f.ContentType),
	})
	if err != nil {
		return Object{}, fmt.Errorf("media: upload %s to S3: %w", name, err)
	}
	return Object{URL: out.Location, Key: name}, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("media: delete %s from S3: %w", key, err)
	}
	return nil
}
