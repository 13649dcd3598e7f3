package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive stores generated report CSVs in S3-compatible object storage so
// exports remain retrievable after download.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to the object store and ensures the bucket exists.
func NewArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Archive{client: client, bucket: bucket}, nil
}

// Store uploads a CSV and returns its object key. Keys are date-prefixed
// so retention policies can prune by prefix.
func (a *Archive) Store(ctx context.Context, name, csvData string) (string, error) {
	key := fmt.Sprintf("%s/%s-%s.csv", time.Now().UTC().Format("2006-01-02"), name, time.Now().UTC().Format("150405"))
	reader := strings.NewReader(csvData)
	_, err := a.client.PutObject(ctx, a.bucket, key, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return "", fmt.Errorf("archive report %s: %w", name, err)
	}
	return key, nil
}

// PresignGet generates a temporary download URL for an archived report.
func (a *Archive) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := a.client.PresignedGetObject(ctx, a.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign report %s: %w", key, err)
	}
	return url.String(), nil
}
