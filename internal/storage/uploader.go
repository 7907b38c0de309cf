package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader ships local files to an object store bucket.
type Uploader interface {
	// Upload stores the file at path under {parentFolder}/{filename} in the
	// bucket, mirroring how the labeling tooling expects to find videos.
	Upload(ctx context.Context, bucket, path string) error
}

// S3Uploader uploads files with the AWS SDK. The client is built lazily
// from the default credential chain on first use, so the agent starts fine
// on a bench without AWS credentials as long as nothing is uploaded.
type S3Uploader struct {
	Region string

	clientOnce    sync.Once
	client        *s3.Client
	clientInitErr error
}

// NewS3Uploader returns an uploader for the given region. An empty region
// defers to the AWS config chain.
func NewS3Uploader(region string) *S3Uploader {
	return &S3Uploader{Region: region}
}

func (u *S3Uploader) getClient(ctx context.Context) (*s3.Client, error) {
	u.clientOnce.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if u.Region != "" {
			opts = append(opts, awsconfig.WithRegion(u.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			u.clientInitErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		u.client = s3.NewFromConfig(cfg)
	})
	return u.client, u.clientInitErr
}

// Upload stores the file under {parentFolder}/{filename} in the bucket.
func (u *S3Uploader) Upload(ctx context.Context, bucket, path string) error {
	client, err := u.getClient(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for upload: %w", path, err)
	}
	defer file.Close()

	key := ObjectKey(path)
	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", path, bucket, key, err)
	}
	return nil
}

// ObjectKey derives the bucket key for a local file: its parent folder name
// joined with the filename.
func ObjectKey(path string) string {
	return filepath.Base(filepath.Dir(path)) + "/" + filepath.Base(path)
}

// MockUploader records uploads in memory for tests.
type MockUploader struct {
	mu      sync.Mutex
	Uploads []MockUpload

	// Err, when set, is returned from every call.
	Err error
}

// MockUpload is a single recorded upload.
type MockUpload struct {
	Bucket string
	Key    string
	Data   []byte
}

// NewMockUploader returns an empty mock.
func NewMockUploader() *MockUploader {
	return &MockUploader{}
}

func (m *MockUploader) Upload(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.Uploads = append(m.Uploads, MockUpload{Bucket: bucket, Key: ObjectKey(path), Data: data})
	return nil
}

// Count returns the number of recorded uploads.
func (m *MockUploader) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Uploads)
}
