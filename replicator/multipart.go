package replicator

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"s3reproxy/apigw"
	"s3reproxy/logger"
	"s3reproxy/remote"
	"s3reproxy/tokens"
)

// initiateUploadResult - тело ответа на инициацию multipart upload'а.
// UploadId - идентификатор прокси, а не какого-либо из бэкендов.
type initiateUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// completeUploadRequest - тело запроса на завершение multipart upload'а
type completeUploadRequest struct {
	XMLName xml.Name            `xml:"CompleteMultipartUpload"`
	Parts   []completedPartItem `xml:"Part"`
}

type completedPartItem struct {
	PartNumber int32  `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// completeUploadResult - тело ответа на завершение multipart upload'а
type completeUploadResult struct {
	XMLName xml.Name `xml:"CompleteMultipartUploadResult"`
	Bucket  string   `xml:"Bucket"`
	Key     string   `xml:"Key"`
	ETag    string   `xml:"ETag,omitempty"`
}

// errNoSuchUpload - стандартная S3 ошибка неизвестного upload'а
func errNoSuchUpload() *apigw.S3Error {
	return apigw.NewS3Error("NoSuchUpload", "the specified multipart upload does not exist", http.StatusNotFound)
}

// CreateMultipartUpload инициирует multipart upload на всех remotes и
// сохраняет сопоставление идентификаторов в хранилище.
func (r *Replicator) CreateMultipartUpload(req *apigw.S3Request) *apigw.S3Response {
	logger.Debug("CreateMultipartUpload: key=%s", req.Key)

	results := fanOut(r, req.Context, func() *s3.CreateMultipartUploadInput {
		input := &s3.CreateMultipartUploadInput{
			Bucket: aws.String(req.Bucket),
			Key:    aws.String(req.Key),
		}
		applyCreateUploadHeaders(input, req.Headers)
		return input
	}, func(input *s3.CreateMultipartUploadInput, reply chan *remote.Outcome[*s3.CreateMultipartUploadOutput]) remote.Message {
		return &remote.CreateMultipartUploadMessage{Input: input, Reply: reply}
	})

	if _, s3err := reconcileResults(r.metrics, "CreateMultipartUpload", results); s3err != nil {
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	// Запоминаем идентификаторы успешных remotes; неуспешные в upload'е
	// не участвуют
	remoteUploads := make(map[string]tokens.RemoteUpload)
	for _, res := range results {
		if res.outcome == nil || res.outcome.Err != nil || res.outcome.Output.UploadId == nil {
			continue
		}
		remoteUploads[res.remote] = tokens.RemoteUpload{
			UploadID: *res.outcome.Output.UploadId,
			Status:   tokens.UploadStatusOpen,
		}
	}

	proxyID, err := r.uploads.CreateUpload(req.Context, req.Bucket, req.Key, remoteUploads)
	if err != nil {
		logger.Error("CreateMultipartUpload: failed to store upload record: %v", err)
		s3err := apigw.NewS3Error("InternalError", "failed to track multipart upload", http.StatusInternalServerError)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	return xmlResponse(http.StatusOK, initiateUploadResult{
		Bucket:   req.Bucket,
		Key:      req.Key,
		UploadID: proxyID,
	})
}

// UploadPart реплицирует часть upload'а на remotes, у которых upload
// открыт. Remote, не принявший часть, помечается отмененным и дальнейшие
// части не получает.
func (r *Replicator) UploadPart(req *apigw.S3Request) *apigw.S3Response {
	uploadID := req.Query.Get("uploadId")
	partNumber, err := strconv.ParseInt(req.Query.Get("partNumber"), 10, 32)
	if err != nil || partNumber < 1 {
		s3err := apigw.NewS3Error("InvalidArgument", "part number must be a positive integer", http.StatusBadRequest)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	rec, err := r.uploads.GetUpload(req.Context, uploadID)
	if err != nil {
		return r.uploadLookupError(err)
	}

	logger.Debug("UploadPart: key=%s, part=%d, upload=%s", req.Key, partNumber, uploadID)

	mult := NewUploadPartMultiplier(req, int32(partNumber))
	r.observeFirstByte(mult.FirstByte())

	participants, replies := sendToOpenRemotes(r, rec, func(remoteUploadID string, reply chan *remote.Outcome[*s3.UploadPartOutput]) (remote.Message, io.Closer, error) {
		input, sub, err := mult.Input(remoteUploadID)
		if err != nil {
			return nil, nil, err
		}
		return &remote.UploadPartMessage{Input: input, Reply: reply}, sub, nil
	}, req)
	mult.Close()

	if len(participants) == 0 {
		return &apigw.S3Response{StatusCode: http.StatusNotFound, Error: errNoSuchUpload()}
	}

	results := collect(participants, replies)
	cancelFailed(r, req, uploadID, results)

	output, s3err := reconcileResults(r.metrics, "UploadPart", results)
	if s3err != nil {
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	headers := make(http.Header)
	if output.ETag != nil {
		headers.Set("ETag", *output.ETag)
	}
	return &apigw.S3Response{StatusCode: http.StatusOK, Headers: headers}
}

// CompleteMultipartUpload завершает upload на remotes с открытым upload'ом
func (r *Replicator) CompleteMultipartUpload(req *apigw.S3Request) *apigw.S3Response {
	uploadID := req.Query.Get("uploadId")

	body, err := io.ReadAll(req.Body)
	if err != nil {
		s3err := apigw.NewS3Error("InternalError", "failed to read request body", http.StatusInternalServerError)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	var parsed completeUploadRequest
	if err := xml.Unmarshal(body, &parsed); err != nil || len(parsed.Parts) == 0 {
		s3err := apigw.NewS3Error("MalformedXML", "the XML you provided was not well-formed", http.StatusBadRequest)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	rec, err := r.uploads.GetUpload(req.Context, uploadID)
	if err != nil {
		return r.uploadLookupError(err)
	}

	logger.Debug("CompleteMultipartUpload: key=%s, upload=%s, parts=%d", req.Key, uploadID, len(parsed.Parts))

	completedParts := make([]types.CompletedPart, len(parsed.Parts))
	for i, p := range parsed.Parts {
		completedParts[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	participants, replies := sendToOpenRemotes(r, rec, func(remoteUploadID string, reply chan *remote.Outcome[*s3.CompleteMultipartUploadOutput]) (remote.Message, io.Closer, error) {
		return &remote.CompleteMultipartUploadMessage{
			Input: &s3.CompleteMultipartUploadInput{
				Bucket:   aws.String(req.Bucket),
				Key:      aws.String(req.Key),
				UploadId: aws.String(remoteUploadID),
				MultipartUpload: &types.CompletedMultipartUpload{
					Parts: completedParts,
				},
			},
			Reply: reply,
		}, nil, nil
	}, req)

	if len(participants) == 0 {
		return &apigw.S3Response{StatusCode: http.StatusNotFound, Error: errNoSuchUpload()}
	}

	results := collect(participants, replies)
	cancelFailed(r, req, uploadID, results)

	output, s3err := reconcileResults(r.metrics, "CompleteMultipartUpload", results)
	if s3err != nil {
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	// Upload завершен, запись больше не нужна
	if err := r.uploads.DeleteUpload(req.Context, uploadID); err != nil {
		logger.Warn("CompleteMultipartUpload: failed to delete upload record: %v", err)
	}

	res := completeUploadResult{Bucket: req.Bucket, Key: req.Key}
	if output.ETag != nil {
		res.ETag = *output.ETag
	}
	return xmlResponse(http.StatusOK, res)
}

// AbortMultipartUpload отменяет upload на всех remotes, участвовавших в нем
func (r *Replicator) AbortMultipartUpload(req *apigw.S3Request) *apigw.S3Response {
	uploadID := req.Query.Get("uploadId")

	rec, err := r.uploads.GetUpload(req.Context, uploadID)
	if err != nil {
		return r.uploadLookupError(err)
	}

	logger.Debug("AbortMultipartUpload: key=%s, upload=%s", req.Key, uploadID)

	// Отмена уходит и на remotes со статусом cancelled: там могли остаться
	// принятые ранее части
	var participants []*remote.Remote
	var replies []chan *remote.Outcome[*s3.AbortMultipartUploadOutput]
	for _, rem := range r.remotes {
		ru, ok := rec.Remotes[rem.Name]
		if !ok {
			continue
		}

		reply := make(chan *remote.Outcome[*s3.AbortMultipartUploadOutput], 1)
		msg := &remote.AbortMultipartUploadMessage{
			Input: &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(req.Bucket),
				Key:      aws.String(req.Key),
				UploadId: aws.String(ru.UploadID),
			},
			Reply: reply,
		}
		if err := rem.Send(req.Context, msg); err != nil {
			logger.Warn("AbortMultipartUpload: send to remote '%s' failed: %v", rem.Name, err)
			reply <- nil
		}
		participants = append(participants, rem)
		replies = append(replies, reply)
	}

	if len(participants) == 0 {
		return &apigw.S3Response{StatusCode: http.StatusNotFound, Error: errNoSuchUpload()}
	}

	results := collect(participants, replies)
	if _, s3err := reconcileResults(r.metrics, "AbortMultipartUpload", results); s3err != nil {
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	if err := r.uploads.DeleteUpload(req.Context, uploadID); err != nil {
		logger.Warn("AbortMultipartUpload: failed to delete upload record: %v", err)
	}

	return &apigw.S3Response{StatusCode: http.StatusNoContent, Headers: make(http.Header)}
}

// sendToOpenRemotes отправляет сообщение каждому remote, у которого upload
// открыт, подставляя его идентификатор upload'а. Тело неотправленного
// сообщения закрывается: брошенный подписчик не должен блокировать раздачу
// остальным remotes.
func sendToOpenRemotes[Out any](
	r *Replicator,
	rec *tokens.UploadRecord,
	makeMessage func(remoteUploadID string, reply chan *remote.Outcome[Out]) (remote.Message, io.Closer, error),
	req *apigw.S3Request,
) ([]*remote.Remote, []chan *remote.Outcome[Out]) {
	var participants []*remote.Remote
	var replies []chan *remote.Outcome[Out]

	for _, rem := range r.remotes {
		ru, ok := rec.Remotes[rem.Name]
		if !ok || ru.Status != tokens.UploadStatusOpen {
			continue
		}

		reply := make(chan *remote.Outcome[Out], 1)
		msg, body, err := makeMessage(ru.UploadID, reply)
		if err != nil {
			logger.Error("multipart: failed to build message for remote '%s': %v", rem.Name, err)
			reply <- nil
		} else if err := rem.Send(req.Context, msg); err != nil {
			logger.Warn("multipart: send to remote '%s' failed: %v", rem.Name, err)
			if body != nil {
				body.Close()
			}
			reply <- nil
		}
		participants = append(participants, rem)
		replies = append(replies, reply)
	}

	return participants, replies
}

// cancelFailed помечает upload отмененным на remotes, не принявших операцию
func cancelFailed[Out any](r *Replicator, req *apigw.S3Request, uploadID string, results []result[Out]) {
	for _, res := range results {
		if res.outcome != nil && res.outcome.Err == nil {
			continue
		}
		logger.Warn("multipart: cancelling upload %s on remote '%s'", uploadID, res.remote)
		if err := r.uploads.MarkCancelled(req.Context, uploadID, res.remote); err != nil {
			logger.Error("multipart: failed to mark upload cancelled on '%s': %v", res.remote, err)
		}
	}
}

// uploadLookupError переводит ошибку хранилища в ответ клиенту
func (r *Replicator) uploadLookupError(err error) *apigw.S3Response {
	if errors.Is(err, tokens.ErrNoSuchUpload) {
		return &apigw.S3Response{StatusCode: http.StatusNotFound, Error: errNoSuchUpload()}
	}
	logger.Error("multipart: upload lookup failed: %v", err)
	s3err := apigw.NewS3Error("InternalError", "failed to look up multipart upload", http.StatusInternalServerError)
	return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
}
