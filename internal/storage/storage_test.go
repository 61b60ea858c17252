package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentKeyStripsDirectories(t *testing.T) {
	assert.Equal(t, "tenants/t1/purchase-receipts/pr-1/nota.pdf", AttachmentKey("t1", "pr-1", "../../etc/nota.pdf"))
	assert.Equal(t, "tenants/t1/purchase-receipts/pr-1/nota.pdf", AttachmentKey("t1", "pr-1", `C:\docs\nota.pdf`))
	assert.Equal(t, "tenants/t1/purchase-receipts/pr-1/attachment", AttachmentKey("t1", "pr-1", "  "))
}

func TestNoopStorageReturnsEmptyReference(t *testing.T) {
	ref, err := NoopStorage{}.Upload(context.Background(), "k", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Empty(t, ref)
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Options{}, nil)
	assert.Error(t, err)
}

func TestNewS3StorageWithStaticCredentials(t *testing.T) {
	s, err := NewS3Storage(context.Background(), S3Options{
		Bucket:          "recibos",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio-secret",
		UsePathStyle:    true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "recibos", s.bucket)
}
