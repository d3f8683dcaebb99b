package fetch

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3reproxy/apigw"
	"s3reproxy/logger"
	"s3reproxy/remote"
	"s3reproxy/tokens"
)

// ListObjectsV2 выполняет листинг с трансляцией continuation-токенов.
// Токены бэкендов клиенту не выдаются: позиция листинга (start_after)
// хранится в MongoDB, клиент получает непрозрачный токен прокси. Благодаря
// этому продолжение листинга не привязано к конкретному бэкенду.
func (f *Fetcher) ListObjectsV2(req *apigw.S3Request) *apigw.S3Response {
	clientToken := req.Query.Get("continuation-token")
	startAfter := req.Query.Get("start-after")

	// Входящий токен обмениваем на сохраненную позицию
	if clientToken != "" {
		stored, err := f.tokens.Consume(req.Context, clientToken)
		if err != nil {
			if errors.Is(err, tokens.ErrInvalidToken) {
				logger.Warn("ListObjectsV2: invalid continuation token")
				return errorResponse(apigw.NewS3Error("InvalidToken",
					"the provided token is malformed or otherwise invalid", http.StatusBadRequest))
			}
			logger.Error("ListObjectsV2: token lookup failed: %v", err)
			return errorResponse(apigw.NewS3Error("InternalError",
				"failed to resolve continuation token", http.StatusInternalServerError))
		}
		startAfter = stored
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(req.Bucket),
	}
	if v := req.Query.Get("prefix"); v != "" {
		input.Prefix = aws.String(v)
	}
	if v := req.Query.Get("delimiter"); v != "" {
		input.Delimiter = aws.String(v)
	}
	if v := req.Query.Get("max-keys"); v != "" {
		if maxKeys, err := strconv.ParseInt(v, 10, 32); err == nil && maxKeys > 0 {
			input.MaxKeys = aws.Int32(int32(maxKeys))
		}
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}

	logger.Debug("ListObjectsV2: prefix=%q, startAfter=%q", req.Query.Get("prefix"), startAfter)

	outcome := probe(f, req, "ListObjectsV2", func(rem *remote.Remote, reply chan *remote.Outcome[*s3.ListObjectsV2Output]) error {
		in := *input
		return rem.Send(req.Context, &remote.ListObjectsV2Message{Input: &in, Reply: reply})
	})
	if outcome == nil {
		return errorResponse(errNoRemotes())
	}
	if outcome.Err != nil {
		return errorResponse(convertSDKError(outcome.Err))
	}

	return f.buildListResponse(req, clientToken, outcome.Output)
}

// buildListResponse переводит ответ SDK в XML листинга. Для усеченного
// результата выпускается новый токен прокси, указывающий на последний
// возвращенный ключ.
func (f *Fetcher) buildListResponse(req *apigw.S3Request, clientToken string, output *s3.ListObjectsV2Output) *apigw.S3Response {
	result := ListBucketResult{
		Name:              f.virtualBucket,
		Prefix:            req.Query.Get("prefix"),
		Delimiter:         req.Query.Get("delimiter"),
		IsTruncated:       aws.ToBool(output.IsTruncated),
		ContinuationToken: clientToken,
	}
	if output.MaxKeys != nil {
		result.MaxKeys = *output.MaxKeys
	}
	if output.KeyCount != nil {
		result.KeyCount = *output.KeyCount
	}

	var lastKey string
	for _, obj := range output.Contents {
		item := Object{}
		if obj.Key != nil {
			item.Key = *obj.Key
			lastKey = *obj.Key
		}
		if obj.LastModified != nil {
			item.LastModified = *obj.LastModified
		}
		if obj.ETag != nil {
			item.ETag = *obj.ETag
		}
		if obj.Size != nil {
			item.Size = *obj.Size
		}
		item.StorageClass = string(obj.StorageClass)
		result.Contents = append(result.Contents, item)
	}

	for _, cp := range output.CommonPrefixes {
		if cp.Prefix != nil {
			result.CommonPrefixes = append(result.CommonPrefixes, CommonPrefix{Prefix: *cp.Prefix})
		}
	}

	if result.IsTruncated && lastKey != "" {
		token, err := f.tokens.Issue(req.Context, lastKey)
		if err != nil {
			logger.Error("ListObjectsV2: failed to issue continuation token: %v", err)
			return errorResponse(apigw.NewS3Error("InternalError",
				"failed to issue continuation token", http.StatusInternalServerError))
		}
		result.NextContinuationToken = token
	}

	return xmlResponse(http.StatusOK, result)
}

// xmlResponse сериализует структуру в XML тело ответа
func xmlResponse(status int, v any) *apigw.S3Response {
	data, err := xml.Marshal(v)
	if err != nil {
		logger.Error("xmlResponse: marshal failed: %v", err)
		return errorResponse(apigw.NewS3Error("InternalError",
			"failed to serialize response", http.StatusInternalServerError))
	}

	payload := append([]byte(xml.Header), data...)
	headers := make(http.Header)
	headers.Set("Content-Type", "application/xml")
	headers.Set("Content-Length", strconv.Itoa(len(payload)))

	return &apigw.S3Response{
		StatusCode: status,
		Headers:    headers,
		Body:       io.NopCloser(bytes.NewReader(payload)),
	}
}
