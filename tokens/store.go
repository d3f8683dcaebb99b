package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"s3reproxy/logger"
)

// Время жизни записей в хранилище. Невостребованный токен листинга живет
// сутки, использованный удаляется через 10 минут.
const (
	tokenTTLSeconds    = 86400
	consumedTTLSeconds = 600
)

var (
	// ErrInvalidToken - токен не является валидным или неизвестен хранилищу.
	ErrInvalidToken = errors.New("invalid continuation token")
	// ErrNoSuchUpload - multipart upload с таким идентификатором не найден.
	ErrNoSuchUpload = errors.New("no such multipart upload")
)

// Store инкапсулирует работу с MongoDB: трансляция continuation-токенов
// листинга и учет multipart upload'ов по бэкендам.
type Store struct {
	client  *mongo.Client
	tokens  *mongo.Collection
	uploads *mongo.Collection
}

// listObjectToken - документ коллекции list_object_tokens.
// Токен хранит позицию листинга (start_after) между запросами клиента.
type listObjectToken struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	StartAfter string             `bson:"start_after"`
	CreatedAt  time.Time          `bson:"created_at"`
	ConsumedAt *time.Time         `bson:"consumed_at,omitempty"`
}

// Connect устанавливает соединение с MongoDB и создает TTL индексы.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:  client,
		tokens:  db.Collection("list_object_tokens"),
		uploads: db.Collection("multipart_upload_ids"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	logger.Info("Connected to MongoDB, database '%s'", dbName)
	return s, nil
}

// ensureIndexes создает TTL индексы. Повторное создание с теми же
// параметрами безопасно.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(tokenTTLSeconds),
		},
		{
			Keys:    bson.D{{Key: "consumed_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(consumedTTLSeconds),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create token indexes: %w", err)
	}
	return nil
}

// Consume обменивает токен, выданный клиенту, на сохраненную позицию
// листинга. Токен помечается использованным, но остается доступным на
// случай повтора запроса клиентом.
func (s *Store) Consume(ctx context.Context, token string) (string, error) {
	id, err := primitive.ObjectIDFromHex(token)
	if err != nil {
		return "", ErrInvalidToken
	}

	now := time.Now().UTC()
	res := s.tokens.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"consumed_at": now}},
	)

	var doc listObjectToken
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("failed to look up continuation token: %w", err)
	}

	return doc.StartAfter, nil
}

// Issue сохраняет позицию листинга и возвращает новый токен для клиента.
func (s *Store) Issue(ctx context.Context, startAfter string) (string, error) {
	doc := listObjectToken{
		StartAfter: startAfter,
		CreatedAt:  time.Now().UTC(),
	}

	res, err := s.tokens.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to store continuation token: %w", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id.Hex(), nil
}

// Disconnect закрывает соединение с MongoDB
func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
