package routing

import (
	"errors"
	"fmt"
	"net/http"

	"s3reproxy/apigw"
	"s3reproxy/auth"
	"s3reproxy/logger"
)

// Engine - реализация Policy & Routing Engine. Проверяет подлинность
// запроса, валидирует имя бакета и направляет операцию в репликатор
// (запись) или фетчер (чтение).
type Engine struct {
	auth          auth.Authenticator
	replicator    ReplicationExecutor
	fetcher       FetchingExecutor
	virtualBucket string
}

// NewEngine создает новый экземпляр Engine
func NewEngine(
	authenticator auth.Authenticator,
	replicator ReplicationExecutor,
	fetcher FetchingExecutor,
	virtualBucket string,
) *Engine {
	return &Engine{
		auth:          authenticator,
		replicator:    replicator,
		fetcher:       fetcher,
		virtualBucket: virtualBucket,
	}
}

// Handle - реализация интерфейса RequestHandler, точка входа в модуль
func (e *Engine) Handle(req *apigw.S3Request) *apigw.S3Response {
	logger.Debug("Routing: operation=%s, bucket=%s, key=%s",
		req.Operation, req.Bucket, req.Key)

	// Шаг 1: Аутентификация
	identity, err := e.auth.Authenticate(req)
	if err != nil {
		logger.Debug("Authentication failed: %v", err)
		return e.createAuthErrorResponse(err)
	}
	logger.Debug("Authenticated user: %s", identity.AccessKey)

	// Шаг 2: Валидация бакета. Прокси обслуживает ровно один бакет;
	// запрос к любому другому имени получает NoSuchBucket, не достигая
	// бэкендов.
	if req.Bucket != "" && req.Bucket != e.virtualBucket {
		logger.Debug("Unknown bucket requested: %s", req.Bucket)
		s3err := &apigw.S3Error{
			Code:       "NoSuchBucket",
			Message:    "The specified bucket does not exist",
			Resource:   "/" + req.Bucket,
			HTTPStatus: http.StatusNotFound,
		}
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	// Шаг 3: Маршрутизация по типу операции
	switch req.Operation {
	// Операции записи - в Replicator
	case apigw.PutObject:
		return e.replicator.PutObject(req)
	case apigw.DeleteObject:
		return e.replicator.DeleteObject(req)
	case apigw.DeleteObjects:
		return e.replicator.DeleteObjects(req)
	case apigw.CreateMultipartUpload:
		return e.replicator.CreateMultipartUpload(req)
	case apigw.UploadPart:
		return e.replicator.UploadPart(req)
	case apigw.CompleteMultipartUpload:
		return e.replicator.CompleteMultipartUpload(req)
	case apigw.AbortMultipartUpload:
		return e.replicator.AbortMultipartUpload(req)

	// Операции чтения - в Fetcher
	case apigw.GetObject:
		return e.fetcher.GetObject(req)
	case apigw.HeadObject:
		return e.fetcher.HeadObject(req)
	case apigw.HeadBucket:
		return e.fetcher.HeadBucket(req)
	case apigw.GetBucketLocation:
		return e.fetcher.GetBucketLocation(req)
	case apigw.ListObjectsV2:
		return e.fetcher.ListObjectsV2(req)
	case apigw.ListBuckets:
		return e.fetcher.ListBuckets(req)

	default:
		logger.Warn("Unsupported operation: %s", req.Operation)
		s3err := apigw.NewS3Error("NotImplemented",
			fmt.Sprintf("the operation %s is not implemented", req.Operation),
			http.StatusNotImplemented)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}
}

// createAuthErrorResponse преобразует ошибку аутентификации в S3Response
func (e *Engine) createAuthErrorResponse(err error) *apigw.S3Response {
	var code string
	var message string
	var statusCode int

	switch {
	case errors.Is(err, auth.ErrMissingAuthHeader):
		code = "MissingSecurityHeader"
		message = "Your request was missing a required header."
		statusCode = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidAccessKeyID):
		code = "InvalidAccessKeyId"
		message = "The Access Key Id you provided does not exist in our records."
		statusCode = http.StatusForbidden
	case errors.Is(err, auth.ErrSignatureMismatch):
		code = "SignatureDoesNotMatch"
		message = "The request signature we calculated does not match the signature you provided."
		statusCode = http.StatusForbidden
	case errors.Is(err, auth.ErrRequestExpired):
		code = "RequestTimeTooSkewed"
		message = "The difference between the request time and the current time is too large."
		statusCode = http.StatusForbidden
	default:
		// Неизвестные ошибки аутентификации - это отказ в доступе, не 500
		code = "AccessDenied"
		message = "Access Denied"
		statusCode = http.StatusForbidden
	}

	s3err := apigw.NewS3Error(code, message, statusCode)
	return &apigw.S3Response{StatusCode: statusCode, Error: s3err}
}
