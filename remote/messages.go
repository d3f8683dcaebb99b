package remote

import (
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Message - сообщение почтового ящика актора. Набор вариантов закрыт:
// по одному на каждую операцию бэкенда плюс HealthCheck и Shutdown.
// Каждый вариант несет входную структуру операции и одноразовый канал ответа.
type Message interface {
	dispatch(a *Actor)
}

// Outcome - результат операции на одном remote. В канал ответа отправляется
// *Outcome: nil означает, что достоверного ответа нет вовсе (транспортная
// ошибка, remote считается недоступным); ненулевой Err - сервисную S3-ошибку
// (remote жив); иначе Output - успешный ответ.
type Outcome[T any] struct {
	Output T
	Err    error
}

// HealthCheckMessage запрашивает проверку здоровья (HeadBucket на бакете
// target). Ответ - состояние remote после проверки.
type HealthCheckMessage struct {
	Reply chan<- Health
}

// ShutdownMessage останавливает актора. Ответа нет; начатый вызов бэкенда
// завершается до выхода из цикла приема.
type ShutdownMessage struct{}

type ListObjectsV2Message struct {
	Input *s3.ListObjectsV2Input
	Reply chan<- *Outcome[*s3.ListObjectsV2Output]
}

type HeadObjectMessage struct {
	Input *s3.HeadObjectInput
	Reply chan<- *Outcome[*s3.HeadObjectOutput]
}

type GetObjectMessage struct {
	Input *s3.GetObjectInput
	Reply chan<- *Outcome[*s3.GetObjectOutput]
}

type PutObjectMessage struct {
	Input *s3.PutObjectInput
	Reply chan<- *Outcome[*s3.PutObjectOutput]
}

type DeleteObjectMessage struct {
	Input *s3.DeleteObjectInput
	Reply chan<- *Outcome[*s3.DeleteObjectOutput]
}

type DeleteObjectsMessage struct {
	Input *s3.DeleteObjectsInput
	Reply chan<- *Outcome[*s3.DeleteObjectsOutput]
}

type CreateMultipartUploadMessage struct {
	Input *s3.CreateMultipartUploadInput
	Reply chan<- *Outcome[*s3.CreateMultipartUploadOutput]
}

type UploadPartMessage struct {
	Input *s3.UploadPartInput
	Reply chan<- *Outcome[*s3.UploadPartOutput]
}

type CompleteMultipartUploadMessage struct {
	Input *s3.CompleteMultipartUploadInput
	Reply chan<- *Outcome[*s3.CompleteMultipartUploadOutput]
}

type AbortMultipartUploadMessage struct {
	Input *s3.AbortMultipartUploadInput
	Reply chan<- *Outcome[*s3.AbortMultipartUploadOutput]
}

// Перед вызовом SDK актор переписывает Bucket входной структуры на бакет,
// сконфигурированный для его target. Остальные поля проходят без изменений.

func (m *HealthCheckMessage) dispatch(a *Actor) {
	a.healthCheck(m.Reply)
}

func (m *ShutdownMessage) dispatch(a *Actor) {
	// Обрабатывается в цикле приема актора
}

func (m *ListObjectsV2Message) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "ListObjectsV2", m.Reply, a.client.ListObjectsV2, m.Input)
}

func (m *HeadObjectMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "HeadObject", m.Reply, a.client.HeadObject, m.Input)
}

func (m *GetObjectMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "GetObject", m.Reply, a.client.GetObject, m.Input)
}

func (m *PutObjectMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "PutObject", m.Reply, a.client.PutObject, m.Input)
	closeBody(m.Input.Body)
}

func (m *DeleteObjectMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "DeleteObject", m.Reply, a.client.DeleteObject, m.Input)
}

func (m *DeleteObjectsMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "DeleteObjects", m.Reply, a.client.DeleteObjects, m.Input)
}

func (m *CreateMultipartUploadMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "CreateMultipartUpload", m.Reply, a.client.CreateMultipartUpload, m.Input)
}

func (m *UploadPartMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "UploadPart", m.Reply, a.client.UploadPart, m.Input)
	closeBody(m.Input.Body)
}

func (m *CompleteMultipartUploadMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "CompleteMultipartUpload", m.Reply, a.client.CompleteMultipartUpload, m.Input)
}

func (m *AbortMultipartUploadMessage) dispatch(a *Actor) {
	m.Input.Bucket = aws.String(a.target.S3.Bucket)
	perform(a, "AbortMultipartUpload", m.Reply, a.client.AbortMultipartUpload, m.Input)
}

// closeBody отписывает подписчика тела после вызова SDK. Тело, недочитанное
// из-за ошибки бэкенда, иначе удерживает раздачу потока остальным remotes.
func closeBody(body io.Reader) {
	if c, ok := body.(io.Closer); ok {
		c.Close()
	}
}
