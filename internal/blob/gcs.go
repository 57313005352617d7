package blob

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore stores objects in a single Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a client with application default credentials unless
// opts say otherwise.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("blob: gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blob: gcs upload %s: %w", name, err)
	}
	return gcsObjectURL(s.bucket, name), nil
}

func (s *GCSStore) Remove(ctx context.Context, names []string) error {
	bucket := s.client.Bucket(s.bucket)
	for _, name := range names {
		err := bucket.Object(name).Delete(ctx)
		if err != nil && err != storage.ErrObjectNotExist {
			return fmt.Errorf("blob: gcs delete %s: %w", name, err)
		}
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	names := []string{}
	items := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		item, err := items.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("blob: gcs list: %w", err)
		}
		names = append(names, item.Name)
	}
	return names, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func gcsObjectURL(bucket, name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, name)
}
