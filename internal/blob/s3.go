package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// S3 caps DeleteObjects at 1000 keys per request.
const s3DeleteBatch = 1000

// S3Store stores objects in a single S3 bucket.
type S3Store struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	bucket   string
	baseURL  string
}

// NewS3Store builds an S3Store using the ambient AWS credential chain.
// A non-empty endpoint selects an S3-compatible service with path-style URLs.
func NewS3Store(bucket, region, endpoint string) (*S3Store, error) {
	awsCfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		awsCfg.Endpoint = aws.String(endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("blob: aws session: %w", err)
	}
	return NewS3StoreWithClient(s3.New(sess), s3manager.NewUploader(sess), bucket, s3BaseURL(bucket, region, endpoint)), nil
}

// NewS3StoreWithClient wires explicit clients, mainly for tests.
func NewS3StoreWithClient(client s3iface.S3API, uploader s3manageriface.UploaderAPI, bucket, baseURL string) *S3Store {
	return &S3Store{client: client, uploader: uploader, bucket: bucket, baseURL: baseURL}
}

func s3BaseURL(bucket, region, endpoint string) string {
	if endpoint != "" {
		return strings.TrimRight(endpoint, "/") + "/" + bucket + "/"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", bucket, region)
}

func (s *S3Store) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	in := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, in); err != nil {
		return "", fmt.Errorf("blob: s3 upload %s: %w", name, err)
	}
	return s.baseURL + name, nil
}

func (s *S3Store) Remove(ctx context.Context, names []string) error {
	for start := 0; start < len(names); start += s3DeleteBatch {
		end := start + s3DeleteBatch
		if end > len(names) {
			end = len(names)
		}
		objs := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, n := range names[start:end] {
			objs = append(objs, &s3.ObjectIdentifier{Key: aws.String(n)})
		}
		out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("blob: s3 delete: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("blob: s3 delete %s: %s", aws.StringValue(e.Key), aws.StringValue(e.Message))
		}
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	names := []string{}
	err := s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		},
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				names = append(names, aws.StringValue(obj.Key))
			}
			return true
		},
	)
	if err != nil {
		return nil, fmt.Errorf("blob: s3 list: %w", err)
	}
	return names, nil
}
