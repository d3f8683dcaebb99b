package apigw

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"s3reproxy/logger"
)

// S3Error представляет ошибку протокола S3 с точным кодом и HTTP статусом.
// Нижележащие модули формируют ее сами, когда знают код ошибки
// (например, при трансляции ошибки SDK от бэкенда).
type S3Error struct {
	Code       string
	Message    string
	Resource   string
	RequestID  string
	HTTPStatus int
}

// Error реализует интерфейс error
func (e *S3Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewS3Error создает S3Error с заданным кодом и статусом
func NewS3Error(code, message string, httpStatus int) *S3Error {
	return &S3Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// ResponseWriter отвечает за формирование HTTP ответов из S3Response
type ResponseWriter struct{}

// NewResponseWriter создает новый экземпляр writer'а ответов
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{}
}

// WriteResponse записывает S3Response в http.ResponseWriter
func (rw *ResponseWriter) WriteResponse(w http.ResponseWriter, s3resp *S3Response) error {
	logger.Debug("Writing response: status=%d, hasBody=%t, hasError=%t",
		s3resp.StatusCode, s3resp.Body != nil, s3resp.Error != nil)

	// Если есть ошибка, формируем XML ответ об ошибке
	if s3resp.Error != nil {
		logger.Debug("Writing error response: %v", s3resp.Error)
		return rw.writeErrorResponse(w, s3resp.Error)
	}

	// Копируем заголовки
	if s3resp.Headers != nil {
		for key, values := range s3resp.Headers {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
	}

	// Устанавливаем код ответа
	w.WriteHeader(s3resp.StatusCode)

	// Записываем тело ответа, если оно есть
	if s3resp.Body != nil {
		defer s3resp.Body.Close()
		_, err := io.Copy(w, s3resp.Body)
		if err != nil {
			logger.Debug("Error writing response body: %v", err)
		}
		return err
	}

	return nil
}

// writeErrorResponse записывает стандартный S3 XML ответ об ошибке
func (rw *ResponseWriter) writeErrorResponse(w http.ResponseWriter, err error) error {
	var code, message, resource, requestID string
	var httpStatus int

	// Если нижележащий модуль уже определил точный код ошибки, используем его.
	// Иначе подбираем код эвристикой по тексту.
	var s3err *S3Error
	if errors.As(err, &s3err) {
		code = s3err.Code
		message = s3err.Message
		resource = s3err.Resource
		requestID = s3err.RequestID
		httpStatus = s3err.HTTPStatus
	} else {
		code, httpStatus = rw.mapErrorToS3Error(err)
		message = err.Error()
	}

	// Создаем XML структуру ошибки
	errorXML := errorResponse{
		Code:      code,
		Message:   message,
		Resource:  resource,
		RequestID: requestID,
	}

	// Маршалим в XML
	xmlData, xmlErr := xml.Marshal(errorXML)
	if xmlErr != nil {
		// Если не можем создать XML, отправляем простой текстовый ответ
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return xmlErr
	}

	// Устанавливаем заголовки
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(xmlData)))

	// Устанавливаем код ответа
	w.WriteHeader(httpStatus)

	// Записываем XML
	_, writeErr := w.Write(xmlData)
	return writeErr
}

// mapErrorToS3Error сопоставляет обычные Go ошибки с S3 кодами ошибок
func (rw *ResponseWriter) mapErrorToS3Error(err error) (string, int) {
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "bucket") && strings.Contains(errMsg, "not found"):
		return "NoSuchBucket", http.StatusNotFound
	case strings.Contains(errMsg, "not found"):
		return "NoSuchKey", http.StatusNotFound
	case strings.Contains(errMsg, "access denied"):
		return "AccessDenied", http.StatusForbidden
	case strings.Contains(errMsg, "invalid"):
		return "InvalidRequest", http.StatusBadRequest
	case strings.Contains(errMsg, "unsupported"):
		return "NotImplemented", http.StatusNotImplemented
	default:
		return "InternalError", http.StatusInternalServerError
	}
}

// errorResponse представляет структуру XML ошибки S3
type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId,omitempty"`
}
