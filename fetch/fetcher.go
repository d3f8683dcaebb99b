package fetch

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3reproxy/apigw"
	"s3reproxy/logger"
	"s3reproxy/remote"
)

// Fetcher выполняет операции чтения. Remotes опрашиваются по одному в
// фиксированном порядке (участие в чтении, затем приоритет); первый
// достоверный ответ, успех или сервисная ошибка, уходит клиенту.
// Рекомендательное health на порядок опроса не влияет.
type Fetcher struct {
	remotes       []*remote.Remote
	tokens        TokenStore
	virtualBucket string
	startedAt     time.Time
	metrics       *Metrics
}

// NewFetcher создает новый экземпляр. Порядок опроса фиксируется один раз.
func NewFetcher(remotes []*remote.Remote, tokens TokenStore, virtualBucket string) *Fetcher {
	ordered := readOrder(remotes)

	names := make([]string, len(ordered))
	for i, r := range ordered {
		names[i] = r.Name
	}
	logger.Info("Fetcher initialized, probe order: %v", names)

	return &Fetcher{
		remotes:       ordered,
		tokens:        tokens,
		virtualBucket: virtualBucket,
		startedAt:     time.Now().UTC(),
		metrics:       NewMetrics(),
	}
}

// GetObject возвращает объект с первого ответившего remote
func (f *Fetcher) GetObject(req *apigw.S3Request) *apigw.S3Response {
	logger.Debug("GetObject: key=%s", req.Key)

	input := &s3.GetObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	}
	applyConditionalHeaders(input, req.Headers)

	outcome := probe(f, req, "GetObject", func(rem *remote.Remote, reply chan *remote.Outcome[*s3.GetObjectOutput]) error {
		in := *input
		return rem.Send(req.Context, &remote.GetObjectMessage{Input: &in, Reply: reply})
	})
	if outcome == nil {
		return errorResponse(errNoRemotes())
	}
	if outcome.Err != nil {
		return errorResponse(convertSDKError(outcome.Err))
	}

	output := outcome.Output
	headers := make(http.Header)
	writeObjectHeaders(headers, output.ContentType, output.ContentLength, output.ETag,
		output.LastModified, output.ContentEncoding, output.CacheControl, output.Metadata)
	if output.AcceptRanges != nil {
		headers.Set("Accept-Ranges", *output.AcceptRanges)
	}

	status := http.StatusOK
	if output.ContentRange != nil {
		headers.Set("Content-Range", *output.ContentRange)
		status = http.StatusPartialContent
	}

	return &apigw.S3Response{
		StatusCode: status,
		Headers:    headers,
		Body:       output.Body,
	}
}

// HeadObject возвращает метаданные объекта с первого ответившего remote
func (f *Fetcher) HeadObject(req *apigw.S3Request) *apigw.S3Response {
	logger.Debug("HeadObject: key=%s", req.Key)

	outcome := probe(f, req, "HeadObject", func(rem *remote.Remote, reply chan *remote.Outcome[*s3.HeadObjectOutput]) error {
		return rem.Send(req.Context, &remote.HeadObjectMessage{
			Input: &s3.HeadObjectInput{
				Bucket: aws.String(req.Bucket),
				Key:    aws.String(req.Key),
			},
			Reply: reply,
		})
	})
	if outcome == nil {
		return errorResponse(errNoRemotes())
	}
	if outcome.Err != nil {
		return errorResponse(convertSDKError(outcome.Err))
	}

	output := outcome.Output
	headers := make(http.Header)
	writeObjectHeaders(headers, output.ContentType, output.ContentLength, output.ETag,
		output.LastModified, output.ContentEncoding, output.CacheControl, output.Metadata)

	return &apigw.S3Response{StatusCode: http.StatusOK, Headers: headers}
}

// HeadBucket отвечает локально: бакет у прокси ровно один
func (f *Fetcher) HeadBucket(req *apigw.S3Request) *apigw.S3Response {
	return &apigw.S3Response{StatusCode: http.StatusOK, Headers: make(http.Header)}
}

// GetBucketLocation отвечает локально: регион у прокси не настроен,
// что соответствует us-east-1 в терминах протокола
func (f *Fetcher) GetBucketLocation(req *apigw.S3Request) *apigw.S3Response {
	return xmlResponse(http.StatusOK, LocationConstraint{})
}

// ListBuckets отвечает локально списком из единственного бакета
func (f *Fetcher) ListBuckets(req *apigw.S3Request) *apigw.S3Response {
	result := ListAllMyBucketsResult{
		Owner: Owner{ID: "s3reproxy", DisplayName: "s3reproxy"},
		Buckets: Buckets{
			Bucket: []Bucket{
				{Name: f.virtualBucket, CreationDate: f.startedAt},
			},
		},
	}
	return xmlResponse(http.StatusOK, result)
}

// probe опрашивает remotes по порядку. Отсутствие ответа (nil) означает
// недоступный remote и переход к следующему; любой достоверный ответ
// завершает опрос.
func probe[Out any](
	f *Fetcher,
	req *apigw.S3Request,
	op string,
	send func(*remote.Remote, chan *remote.Outcome[Out]) error,
) *remote.Outcome[Out] {
	for _, rem := range f.remotes {
		reply := make(chan *remote.Outcome[Out], 1)
		if err := send(rem, reply); err != nil {
			logger.Warn("%s: send to remote '%s' failed: %v", op, rem.Name, err)
			f.metrics.ProbesTotal.WithLabelValues(rem.Name, op, "skipped").Inc()
			continue
		}

		outcome := <-reply
		if outcome == nil {
			logger.Debug("%s: remote '%s' unavailable, trying next", op, rem.Name)
			f.metrics.ProbesTotal.WithLabelValues(rem.Name, op, "skipped").Inc()
			continue
		}

		if outcome.Err != nil {
			f.metrics.ProbesTotal.WithLabelValues(rem.Name, op, "service_error").Inc()
		} else {
			f.metrics.ProbesTotal.WithLabelValues(rem.Name, op, "hit").Inc()
		}
		return outcome
	}

	logger.Error("%s: all remotes exhausted", op)
	return nil
}

// applyConditionalHeaders перекладывает условные заголовки и Range в
// GetObjectInput
func applyConditionalHeaders(input *s3.GetObjectInput, headers http.Header) {
	if v := headers.Get("Range"); v != "" {
		input.Range = aws.String(v)
	}
	if v := headers.Get("If-Match"); v != "" {
		input.IfMatch = aws.String(v)
	}
	if v := headers.Get("If-None-Match"); v != "" {
		input.IfNoneMatch = aws.String(v)
	}
	if v := headers.Get("If-Modified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			input.IfModifiedSince = aws.Time(t)
		}
	}
	if v := headers.Get("If-Unmodified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			input.IfUnmodifiedSince = aws.Time(t)
		}
	}
}

// writeObjectHeaders переносит метаданные объекта из ответа SDK в заголовки
// HTTP ответа
func writeObjectHeaders(
	headers http.Header,
	contentType *string,
	contentLength *int64,
	etag *string,
	lastModified *time.Time,
	contentEncoding *string,
	cacheControl *string,
	metadata map[string]string,
) {
	if contentType != nil {
		headers.Set("Content-Type", *contentType)
	}
	if contentLength != nil {
		headers.Set("Content-Length", strconv.FormatInt(*contentLength, 10))
	}
	if etag != nil {
		headers.Set("ETag", *etag)
	}
	if lastModified != nil {
		headers.Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	}
	if contentEncoding != nil {
		headers.Set("Content-Encoding", *contentEncoding)
	}
	if cacheControl != nil {
		headers.Set("Cache-Control", *cacheControl)
	}
	for key, value := range metadata {
		headers.Set(fmt.Sprintf("x-amz-meta-%s", key), value)
	}
}
