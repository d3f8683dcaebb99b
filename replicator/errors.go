package replicator

import (
	"errors"
	"net/http"

	"github.com/aws/smithy-go"

	"s3reproxy/apigw"
)

// knownErrorStatus - стандартные S3 коды ошибок и их HTTP статусы. Набор
// задает и допустимые для клиента коды, и статус, когда ответ бэкенда
// HTTP статуса не содержит.
var knownErrorStatus = map[string]int{
	"NoSuchKey":          http.StatusNotFound,
	"NoSuchBucket":       http.StatusNotFound,
	"NoSuchUpload":       http.StatusNotFound,
	"AccessDenied":       http.StatusForbidden,
	"InvalidArgument":    http.StatusBadRequest,
	"InvalidRequest":     http.StatusBadRequest,
	"InvalidPart":        http.StatusBadRequest,
	"InvalidPartOrder":   http.StatusBadRequest,
	"EntityTooSmall":     http.StatusBadRequest,
	"EntityTooLarge":     http.StatusBadRequest,
	"MalformedXML":       http.StatusBadRequest,
	"RequestTimeout":     http.StatusBadRequest,
	"BucketNotEmpty":     http.StatusConflict,
	"OperationAborted":   http.StatusConflict,
	"InternalError":      http.StatusInternalServerError,
	"SlowDown":           http.StatusServiceUnavailable,
	"ServiceUnavailable": http.StatusServiceUnavailable,
	"NotImplemented":     http.StatusNotImplemented,
}

// convertSDKError транслирует ошибку SDK в S3Error для клиента, сохраняя
// сообщение и идентификатор запроса бэкенда. Наверх уходят только
// стандартные S3 коды; незнакомый код бэкенда маскируется в InternalError.
func convertSDKError(err error) *apigw.S3Error {
	code := "InternalError"
	message := err.Error()
	requestID := ""
	status := 0

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := knownErrorStatus[apiErr.ErrorCode()]; ok {
			code = apiErr.ErrorCode()
		}
		if apiErr.ErrorMessage() != "" {
			message = apiErr.ErrorMessage()
		}
	}

	var reqIDErr interface{ ServiceRequestID() string }
	if errors.As(err, &reqIDErr) {
		requestID = reqIDErr.ServiceRequestID()
	}

	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		status = httpErr.HTTPStatusCode()
	}

	if status == 0 {
		if s, ok := knownErrorStatus[code]; ok {
			status = s
		} else {
			status = http.StatusInternalServerError
		}
	}

	return &apigw.S3Error{
		Code:       code,
		Message:    message,
		RequestID:  requestID,
		HTTPStatus: status,
	}
}

// errNoRemotes - ни один remote не дал достоверного ответа
func errNoRemotes() *apigw.S3Error {
	return apigw.NewS3Error("InternalError", "no remotes available", http.StatusInternalServerError)
}
