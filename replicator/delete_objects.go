package replicator

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"s3reproxy/apigw"
	"s3reproxy/logger"
	"s3reproxy/remote"
)

// deleteRequest - тело запроса POST /?delete
type deleteRequest struct {
	XMLName xml.Name            `xml:"Delete"`
	Objects []deleteRequestItem `xml:"Object"`
	Quiet   bool                `xml:"Quiet"`
}

type deleteRequestItem struct {
	Key string `xml:"Key"`
}

// deleteResult - тело ответа на пакетное удаление
type deleteResult struct {
	XMLName xml.Name            `xml:"DeleteResult"`
	Deleted []deletedObject     `xml:"Deleted,omitempty"`
	Errors  []deleteResultError `xml:"Error,omitempty"`
}

type deletedObject struct {
	Key string `xml:"Key"`
}

type deleteResultError struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// DeleteObjects реплицирует пакетное удаление на все remotes
func (r *Replicator) DeleteObjects(req *apigw.S3Request) *apigw.S3Response {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		logger.Error("DeleteObjects: failed to read request body: %v", err)
		s3err := apigw.NewS3Error("InternalError", "failed to read request body", http.StatusInternalServerError)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	var parsed deleteRequest
	if err := xml.Unmarshal(body, &parsed); err != nil || len(parsed.Objects) == 0 {
		logger.Warn("DeleteObjects: malformed request body: %v", err)
		s3err := apigw.NewS3Error("MalformedXML", "the XML you provided was not well-formed", http.StatusBadRequest)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	logger.Debug("DeleteObjects: %d keys, quiet=%t", len(parsed.Objects), parsed.Quiet)

	results := fanOut(r, req.Context, func() *s3.DeleteObjectsInput {
		identifiers := make([]types.ObjectIdentifier, len(parsed.Objects))
		for i, obj := range parsed.Objects {
			identifiers[i] = types.ObjectIdentifier{Key: aws.String(obj.Key)}
		}
		return &s3.DeleteObjectsInput{
			Bucket: aws.String(req.Bucket),
			Delete: &types.Delete{
				Objects: identifiers,
				Quiet:   aws.Bool(parsed.Quiet),
			},
		}
	}, func(input *s3.DeleteObjectsInput, reply chan *remote.Outcome[*s3.DeleteObjectsOutput]) remote.Message {
		return &remote.DeleteObjectsMessage{Input: input, Reply: reply}
	})

	output, s3err := reconcileResults(r.metrics, "DeleteObjects", results)
	if s3err != nil {
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	return xmlResponse(http.StatusOK, buildDeleteResult(output))
}

// buildDeleteResult переводит ответ SDK в XML структуру для клиента
func buildDeleteResult(output *s3.DeleteObjectsOutput) deleteResult {
	res := deleteResult{}
	for _, d := range output.Deleted {
		if d.Key != nil {
			res.Deleted = append(res.Deleted, deletedObject{Key: *d.Key})
		}
	}
	for _, e := range output.Errors {
		item := deleteResultError{}
		if e.Key != nil {
			item.Key = *e.Key
		}
		if e.Code != nil {
			item.Code = *e.Code
		}
		if e.Message != nil {
			item.Message = *e.Message
		}
		res.Errors = append(res.Errors, item)
	}
	return res
}

// xmlResponse сериализует структуру в XML тело ответа
func xmlResponse(status int, v any) *apigw.S3Response {
	data, err := xml.Marshal(v)
	if err != nil {
		logger.Error("xmlResponse: marshal failed: %v", err)
		s3err := apigw.NewS3Error("InternalError", "failed to serialize response", http.StatusInternalServerError)
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
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
