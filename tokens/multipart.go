package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Статусы multipart upload'а на конкретном бэкенде
const (
	UploadStatusOpen      = "open"
	UploadStatusCancelled = "cancelled"
)

// RemoteUpload описывает состояние multipart upload'а на одном бэкенде.
type RemoteUpload struct {
	UploadID string `bson:"upload_id"`
	Status   string `bson:"status"`
}

// UploadRecord - документ коллекции multipart_upload_ids. Сопоставляет
// идентификатор upload'а, выданный клиенту, с идентификаторами на каждом
// бэкенде.
type UploadRecord struct {
	ID        primitive.ObjectID      `bson:"_id,omitempty"`
	Bucket    string                  `bson:"bucket"`
	Key       string                  `bson:"key"`
	Remotes   map[string]RemoteUpload `bson:"remotes"`
	CreatedAt time.Time               `bson:"created_at"`
}

// CreateUpload сохраняет сопоставление нового multipart upload'а и
// возвращает идентификатор для клиента.
func (s *Store) CreateUpload(ctx context.Context, bucket, key string, remotes map[string]RemoteUpload) (string, error) {
	rec := UploadRecord{
		Bucket:    bucket,
		Key:       key,
		Remotes:   remotes,
		CreatedAt: time.Now().UTC(),
	}

	res, err := s.uploads.InsertOne(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to store multipart upload record: %w", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id.Hex(), nil
}

// GetUpload возвращает запись multipart upload'а по идентификатору клиента.
func (s *Store) GetUpload(ctx context.Context, uploadID string) (*UploadRecord, error) {
	id, err := primitive.ObjectIDFromHex(uploadID)
	if err != nil {
		return nil, ErrNoSuchUpload
	}

	var rec UploadRecord
	if err := s.uploads.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoSuchUpload
		}
		return nil, fmt.Errorf("failed to look up multipart upload: %w", err)
	}
	return &rec, nil
}

// MarkCancelled помечает upload отмененным на одном бэкенде. Дальнейшие
// части на этот бэкенд не отправляются.
func (s *Store) MarkCancelled(ctx context.Context, uploadID, remote string) error {
	id, err := primitive.ObjectIDFromHex(uploadID)
	if err != nil {
		return ErrNoSuchUpload
	}

	field := fmt.Sprintf("remotes.%s.status", remote)
	_, err = s.uploads.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{field: UploadStatusCancelled}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload cancelled: %w", err)
	}
	return nil
}

// DeleteUpload удаляет запись после завершения или отмены upload'а.
func (s *Store) DeleteUpload(ctx context.Context, uploadID string) error {
	id, err := primitive.ObjectIDFromHex(uploadID)
	if err != nil {
		return ErrNoSuchUpload
	}

	if _, err := s.uploads.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete multipart upload record: %w", err)
	}
	return nil
}
