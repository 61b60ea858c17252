// Package storage keeps purchase receipt attachments outside the database.
package storage

import (
	"context"
	"path"
	"strings"
)

// ObjectStorage stores a blob under key and returns a reference that can be
// saved alongside the owning record.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// NoopStorage accepts nothing. Receipts are stored without an attachment.
type NoopStorage struct{}

func (NoopStorage) Upload(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	return "", nil
}

// AttachmentKey builds the object key for a receipt attachment.
func AttachmentKey(tenantID, receiptID, fileName string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = "attachment"
	}
	return path.Join("tenants", tenantID, "purchase-receipts", receiptID, name)
}
