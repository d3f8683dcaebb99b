package apigw

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"s3reproxy/logger"
)

// Gateway представляет модуль API Gateway
type Gateway struct {
	config         Config
	handler        RequestHandler
	parser         *RequestParser
	responseWriter *ResponseWriter
	server         *http.Server
	metrics        *Metrics
}

// New создает новый экземпляр API Gateway
func New(config Config, handler RequestHandler) *Gateway {
	return &Gateway{
		config:         config,
		handler:        handler,
		parser:         NewRequestParser(),
		responseWriter: NewResponseWriter(),
		metrics:        NewMetrics(),
	}
}

// ServeHTTP реализует интерфейс http.Handler
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	logger.Info("Incoming request: %s %s", r.Method, r.URL.Path)
	logger.Debug("Request headers: %+v", r.Header)

	// Парсим запрос
	s3req, err := gw.parser.Parse(r)
	if err != nil {
		logger.Error("Failed to parse request: %v", err)
		s3resp := &S3Response{
			StatusCode: http.StatusBadRequest,
			Error:      fmt.Errorf("invalid request: %v", err),
		}
		gw.responseWriter.WriteResponse(w, s3resp)
		gw.observe("UNSUPPORTED_OPERATION", http.StatusBadRequest, start)
		return
	}

	// Передаем управление обработчику
	s3resp := gw.handler.Handle(s3req)

	// Отправляем ответ клиенту
	if err := gw.responseWriter.WriteResponse(w, s3resp); err != nil {
		logger.Error("Failed to write response: %v", err)
	}

	logger.Info("Response sent: %s %d, %.3f ms",
		s3req.Operation.String(), s3resp.StatusCode,
		float64(time.Since(start).Microseconds())/1000.0)

	gw.observe(s3req.Operation.String(), s3resp.StatusCode, start)
}

// observe записывает метрики обработанного запроса
func (gw *Gateway) observe(operation string, code int, start time.Time) {
	gw.metrics.RequestsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	gw.metrics.RequestLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Start запускает сервер. Блокируется до остановки сервера.
func (gw *Gateway) Start() error {
	gw.server = &http.Server{
		Addr:    gw.config.ListenAddress,
		Handler: gw,
		// Таймаут только на заголовки: тела PUT и GET передаются потоком
		// и могут идти сколь угодно долго.
		ReadHeaderTimeout: gw.config.ReadTimeout,
	}

	logger.Info("Starting API Gateway on %s", gw.config.ListenAddress)
	return gw.server.ListenAndServe()
}

// Stop останавливает сервер, дожидаясь завершения активных запросов
func (gw *Gateway) Stop(ctx context.Context) error {
	if gw.server == nil {
		return nil
	}

	logger.Info("Stopping API Gateway...")
	return gw.server.Shutdown(ctx)
}
