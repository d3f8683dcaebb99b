package replicator

import (
	"context"

	"s3reproxy/remote"
	"s3reproxy/tokens"
)

// UploadStore - учет multipart upload'ов. Реализуется tokens.Store,
// в тестах подменяется моком.
type UploadStore interface {
	CreateUpload(ctx context.Context, bucket, key string, remotes map[string]tokens.RemoteUpload) (string, error)
	GetUpload(ctx context.Context, uploadID string) (*tokens.UploadRecord, error)
	MarkCancelled(ctx context.Context, uploadID, remote string) error
	DeleteUpload(ctx context.Context, uploadID string) error
}

// result - результат операции на одном remote, с его именем для логов
type result[T any] struct {
	remote  string
	outcome *remote.Outcome[T]
}
