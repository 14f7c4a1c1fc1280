package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS хранит файлы в бакете Google Cloud Storage.
type GCS struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// NewGCS возвращает [*GCS]. Если credentials пусто,
// используются учетные данные по умолчанию.
func NewGCS(ctx context.Context, bucket, credentials string) (*GCS, error) {
	var opts []option.ClientOption
	if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: create GCS client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, now: time.Now}, nil
}

func (g *GCS) Save(ctx context.Context, f File) (Object, error) {
	name := ObjectName(f, g.now())
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = f.ContentType
	w.CacheControl = "public, max-age=31536000"

	if _, err := io.Copy(w, bytes.NewReader(f.Data)); err != nil {
		_ = w.Close()
		return Object{}, fmt.Errorf("media: upload %s to GCS: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("media: close GCS writer for %s: %w", name, err)
	}
	return Object{
		URL: fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, name),
		Key: name,
	}, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("media: delete %s from GCS: %w", key, err)
	}
	return nil
}

// Close закрывает клиента.
func (g *GCS) Close() error {
	return g.client.Close()
}
