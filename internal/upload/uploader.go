// Package upload moves document bytes to the blob store the model reads
// from, and memoizes the resulting references so a document is uploaded at
// most once per extraction run no matter how many phases reference it.
package upload

import (
	"context"
	"time"
)

// Uploaded is the remote reference for one stored document.
type Uploaded struct {
	DocumentID string    `json:"document_id"`
	RemoteURI  string    `json:"remote_uri"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Uploader stores bytes and returns a URI the generate service can fetch.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}
