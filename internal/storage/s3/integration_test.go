//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/duckmesh/sqlchat/internal/storage"
)

func TestStoreListsLakeAgainstMinIO(t *testing.T) {
	endpoint := envOr("SQLCHAT_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("SQLCHAT_TEST_S3_ENDPOINT is not set")
	}

	cfg := Config{
		Endpoint:        endpoint,
		Region:          envOr("SQLCHAT_TEST_S3_REGION", "us-east-1"),
		Bucket:          envOr("SQLCHAT_TEST_S3_BUCKET", "sqlchat-it"),
		AccessKeyID:     envOr("SQLCHAT_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey: envOr("SQLCHAT_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:          "integration-tests",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	seed, err := minio.New(endpoint, &minio.Options{Creds: credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")})
	if err != nil {
		t.Fatalf("minio.New() error = %v", err)
	}
	exists, err := seed.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		t.Fatalf("BucketExists() error = %v", err)
	}
	if !exists {
		if err := seed.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			t.Fatalf("MakeBucket() error = %v", err)
		}
	}

	payload := []byte("sqlchat-integration")
	fullKey := "integration-tests/orders/part-1.parquet"
	if _, err := seed.PutObject(ctx, cfg.Bucket, fullKey, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{}); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	t.Cleanup(func() {
		_ = seed.RemoveObject(context.Background(), cfg.Bucket, fullKey, minio.RemoveObjectOptions{})
	})

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	objects, err := store.List(ctx, "orders")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 1 || objects[0].Key != "orders/part-1.parquet" {
		t.Fatalf("List() = %#v", objects)
	}

	reader, err := store.Get(ctx, objects[0].Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	readPayload, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("reader.Close() error = %v", err)
	}
	if !bytes.Equal(readPayload, payload) {
		t.Fatalf("Get() payload = %q, want %q", string(readPayload), string(payload))
	}

	if _, err := store.Stat(ctx, "orders/missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
