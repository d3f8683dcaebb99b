package replicator

import (
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"s3reproxy/apigw"
	"s3reproxy/stream"
)

// PutObjectMultiplier готовит по экземпляру PutObjectInput на каждый remote.
// Заголовки запроса разбираются один раз, тело раздается подписчиками
// мультиплексора.
type PutObjectMultiplier struct {
	base *s3.PutObjectInput
	mux  *stream.Multiplexer
}

// NewPutObjectMultiplier разбирает заголовки запроса и создает мультиплексор
// тела.
func NewPutObjectMultiplier(req *apigw.S3Request) *PutObjectMultiplier {
	base := &s3.PutObjectInput{
		// Bucket переписывается актором на бакет его target
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	}

	if req.ContentLength > 0 {
		base.ContentLength = aws.Int64(req.ContentLength)
	}

	applyObjectHeaders(base, req.Headers)

	return &PutObjectMultiplier{
		base: base,
		mux:  stream.New(req.Body, req.ContentLength),
	}
}

// Input возвращает копию входной структуры со свежим подписчиком тела.
// Подписчик возвращается отдельно: если сообщение не удалось отправить
// актору, вызывающая сторона обязана его закрыть, иначе broadcaster
// остановится на его переполненной очереди. Вызывается последовательно
// из одной горутины диспетчера.
func (m *PutObjectMultiplier) Input() (*s3.PutObjectInput, *stream.Subscriber, error) {
	sub, err := m.mux.Subscribe()
	if err != nil {
		return nil, nil, err
	}

	input := *m.base
	input.Body = sub
	return &input, sub, nil
}

// Close закрывает окно подписки: кэш воспроизведения освобождается,
// новые подписчики не принимаются.
func (m *PutObjectMultiplier) Close() {
	m.mux.CloseSubscribe()
}

// FirstByte возвращает канал, закрываемый по приходу первого байта тела
func (m *PutObjectMultiplier) FirstByte() <-chan struct{} {
	return m.mux.FirstByte()
}

// UploadPartMultiplier - аналог PutObjectMultiplier для UploadPart.
// Идентификатор upload'а у каждого remote свой и подставляется отдельно.
type UploadPartMultiplier struct {
	base *s3.UploadPartInput
	mux  *stream.Multiplexer
}

// NewUploadPartMultiplier создает мультипликатор для части multipart upload'а.
func NewUploadPartMultiplier(req *apigw.S3Request, partNumber int32) *UploadPartMultiplier {
	base := &s3.UploadPartInput{
		Bucket:     aws.String(req.Bucket),
		Key:        aws.String(req.Key),
		PartNumber: aws.Int32(partNumber),
	}

	if req.ContentLength > 0 {
		base.ContentLength = aws.Int64(req.ContentLength)
	}

	if v := req.Headers.Get("Content-Md5"); v != "" {
		base.ContentMD5 = aws.String(v)
	}

	return &UploadPartMultiplier{
		base: base,
		mux:  stream.New(req.Body, req.ContentLength),
	}
}

// Input возвращает копию входной структуры для одного remote с его
// идентификатором upload'а и свежим подписчиком тела. Неотправленный
// подписчик закрывается вызывающей стороной.
func (m *UploadPartMultiplier) Input(uploadID string) (*s3.UploadPartInput, *stream.Subscriber, error) {
	sub, err := m.mux.Subscribe()
	if err != nil {
		return nil, nil, err
	}

	input := *m.base
	input.UploadId = aws.String(uploadID)
	input.Body = sub
	return &input, sub, nil
}

// Close закрывает окно подписки
func (m *UploadPartMultiplier) Close() {
	m.mux.CloseSubscribe()
}

// FirstByte возвращает канал, закрываемый по приходу первого байта тела
func (m *UploadPartMultiplier) FirstByte() <-chan struct{} {
	return m.mux.FirstByte()
}

// applyObjectHeaders перекладывает заголовки входящего запроса в поля
// PutObjectInput: content-*, шифрование, теги, ACL, object lock, контрольные
// суммы и пользовательские метаданные проходят без изменений. Заголовки
// подписи и транспорта пропускаются.
func applyObjectHeaders(input *s3.PutObjectInput, headers http.Header) {
	metadata := make(map[string]string)

	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		canonicalKey := http.CanonicalHeaderKey(key)
		value := values[0]

		switch canonicalKey {
		case "Content-Type":
			input.ContentType = aws.String(value)
		case "Content-Encoding":
			input.ContentEncoding = aws.String(value)
		case "Content-Disposition":
			input.ContentDisposition = aws.String(value)
		case "Content-Language":
			input.ContentLanguage = aws.String(value)
		case "Content-Md5":
			input.ContentMD5 = aws.String(value)
		case "Cache-Control":
			input.CacheControl = aws.String(value)
		case "Expires":
			if t, err := http.ParseTime(value); err == nil {
				input.Expires = aws.Time(t)
			}
		case "X-Amz-Storage-Class":
			input.StorageClass = types.StorageClass(value)
		case "X-Amz-Tagging":
			input.Tagging = aws.String(value)
		case "X-Amz-Website-Redirect-Location":
			input.WebsiteRedirectLocation = aws.String(value)
		case "X-Amz-Acl":
			input.ACL = types.ObjectCannedACL(value)
		case "X-Amz-Grant-Full-Control":
			input.GrantFullControl = aws.String(value)
		case "X-Amz-Grant-Read":
			input.GrantRead = aws.String(value)
		case "X-Amz-Grant-Read-Acp":
			input.GrantReadACP = aws.String(value)
		case "X-Amz-Grant-Write-Acp":
			input.GrantWriteACP = aws.String(value)
		case "X-Amz-Server-Side-Encryption":
			input.ServerSideEncryption = types.ServerSideEncryption(value)
		case "X-Amz-Server-Side-Encryption-Aws-Kms-Key-Id":
			input.SSEKMSKeyId = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Context":
			input.SSEKMSEncryptionContext = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Bucket-Key-Enabled":
			input.BucketKeyEnabled = aws.Bool(strings.EqualFold(value, "true"))
		case "X-Amz-Server-Side-Encryption-Customer-Algorithm":
			input.SSECustomerAlgorithm = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Customer-Key":
			input.SSECustomerKey = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Customer-Key-Md5":
			input.SSECustomerKeyMD5 = aws.String(value)
		case "X-Amz-Object-Lock-Mode":
			input.ObjectLockMode = types.ObjectLockMode(value)
		case "X-Amz-Object-Lock-Retain-Until-Date":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				input.ObjectLockRetainUntilDate = aws.Time(t)
			}
		case "X-Amz-Object-Lock-Legal-Hold":
			input.ObjectLockLegalHoldStatus = types.ObjectLockLegalHoldStatus(value)
		case "X-Amz-Sdk-Checksum-Algorithm":
			input.ChecksumAlgorithm = types.ChecksumAlgorithm(value)
		case "X-Amz-Checksum-Crc32":
			input.ChecksumCRC32 = aws.String(value)
		case "X-Amz-Checksum-Crc32c":
			input.ChecksumCRC32C = aws.String(value)
		case "X-Amz-Checksum-Crc64nvme":
			input.ChecksumCRC64NVME = aws.String(value)
		case "X-Amz-Checksum-Sha1":
			input.ChecksumSHA1 = aws.String(value)
		case "X-Amz-Checksum-Sha256":
			input.ChecksumSHA256 = aws.String(value)
		case "Authorization", "X-Amz-Date", "Host", "Content-Length", "X-Amz-Content-Sha256":
			continue
		default:
			// Пользовательские метаданные объекта
			if strings.HasPrefix(canonicalKey, "X-Amz-Meta-") {
				metaKey := strings.TrimPrefix(canonicalKey, "X-Amz-Meta-")
				metadata[strings.ToLower(metaKey)] = value
			}
		}
	}

	if len(metadata) > 0 {
		input.Metadata = metadata
	}
}

// applyCreateUploadHeaders перекладывает заголовки в CreateMultipartUploadInput.
// Набор тот же, что у applyObjectHeaders, без значений контрольных сумм:
// они приходят с отдельными частями.
func applyCreateUploadHeaders(input *s3.CreateMultipartUploadInput, headers http.Header) {
	metadata := make(map[string]string)

	for key, values := range headers {
		if len(values) == 0 {
			continue
		}
		canonicalKey := http.CanonicalHeaderKey(key)
		value := values[0]

		switch canonicalKey {
		case "Content-Type":
			input.ContentType = aws.String(value)
		case "Content-Encoding":
			input.ContentEncoding = aws.String(value)
		case "Content-Disposition":
			input.ContentDisposition = aws.String(value)
		case "Content-Language":
			input.ContentLanguage = aws.String(value)
		case "Cache-Control":
			input.CacheControl = aws.String(value)
		case "Expires":
			if t, err := http.ParseTime(value); err == nil {
				input.Expires = aws.Time(t)
			}
		case "X-Amz-Storage-Class":
			input.StorageClass = types.StorageClass(value)
		case "X-Amz-Tagging":
			input.Tagging = aws.String(value)
		case "X-Amz-Website-Redirect-Location":
			input.WebsiteRedirectLocation = aws.String(value)
		case "X-Amz-Acl":
			input.ACL = types.ObjectCannedACL(value)
		case "X-Amz-Grant-Full-Control":
			input.GrantFullControl = aws.String(value)
		case "X-Amz-Grant-Read":
			input.GrantRead = aws.String(value)
		case "X-Amz-Grant-Read-Acp":
			input.GrantReadACP = aws.String(value)
		case "X-Amz-Grant-Write-Acp":
			input.GrantWriteACP = aws.String(value)
		case "X-Amz-Server-Side-Encryption":
			input.ServerSideEncryption = types.ServerSideEncryption(value)
		case "X-Amz-Server-Side-Encryption-Aws-Kms-Key-Id":
			input.SSEKMSKeyId = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Context":
			input.SSEKMSEncryptionContext = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Bucket-Key-Enabled":
			input.BucketKeyEnabled = aws.Bool(strings.EqualFold(value, "true"))
		case "X-Amz-Server-Side-Encryption-Customer-Algorithm":
			input.SSECustomerAlgorithm = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Customer-Key":
			input.SSECustomerKey = aws.String(value)
		case "X-Amz-Server-Side-Encryption-Customer-Key-Md5":
			input.SSECustomerKeyMD5 = aws.String(value)
		case "X-Amz-Object-Lock-Mode":
			input.ObjectLockMode = types.ObjectLockMode(value)
		case "X-Amz-Object-Lock-Retain-Until-Date":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				input.ObjectLockRetainUntilDate = aws.Time(t)
			}
		case "X-Amz-Object-Lock-Legal-Hold":
			input.ObjectLockLegalHoldStatus = types.ObjectLockLegalHoldStatus(value)
		case "X-Amz-Checksum-Algorithm":
			input.ChecksumAlgorithm = types.ChecksumAlgorithm(value)
		default:
			if strings.HasPrefix(canonicalKey, "X-Amz-Meta-") {
				metaKey := strings.TrimPrefix(canonicalKey, "X-Amz-Meta-")
				metadata[strings.ToLower(metaKey)] = value
			}
		}
	}

	if len(metadata) > 0 {
		input.Metadata = metadata
	}
}
