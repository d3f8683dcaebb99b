package replicator

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3reproxy/apigw"
	"s3reproxy/logger"
	"s3reproxy/remote"
)

// Replicator выполняет операции записи: каждая запись веером уходит на ВСЕ
// сконфигурированные remotes, включая считающиеся недоступными. Health
// носит рекомендательный характер и на выбор участников записи не влияет.
type Replicator struct {
	remotes []*remote.Remote
	uploads UploadStore
	metrics *Metrics
}

// NewReplicator создает новый экземпляр репликатора
func NewReplicator(remotes []*remote.Remote, uploads UploadStore) *Replicator {
	logger.Info("Replicator initialized with %d remotes", len(remotes))
	return &Replicator{
		remotes: remotes,
		uploads: uploads,
		metrics: NewMetrics(),
	}
}

// PutObject реплицирует загрузку объекта на все remotes. Тело запроса
// читается один раз и раздается подписчиками мультиплексора.
func (r *Replicator) PutObject(req *apigw.S3Request) *apigw.S3Response {
	logger.Debug("PutObject: key=%s, contentLength=%d", req.Key, req.ContentLength)

	mult := NewPutObjectMultiplier(req)
	r.observeFirstByte(mult.FirstByte())

	replies := make([]chan *remote.Outcome[*s3.PutObjectOutput], len(r.remotes))
	for i, rem := range r.remotes {
		reply := make(chan *remote.Outcome[*s3.PutObjectOutput], 1)
		replies[i] = reply

		input, sub, err := mult.Input()
		if err != nil {
			logger.Error("PutObject: subscribe failed for remote '%s': %v", rem.Name, err)
			reply <- nil
			continue
		}

		if err := rem.Send(req.Context, &remote.PutObjectMessage{Input: input, Reply: reply}); err != nil {
			logger.Warn("PutObject: send to remote '%s' failed: %v", rem.Name, err)
			// Брошенный подписчик отписывается, чтобы не блокировать
			// раздачу тела остальным remotes
			sub.Close()
			reply <- nil
		}
	}

	// Все подписаны - кэш воспроизведения можно освобождать
	mult.Close()

	results := collect(r.remotes, replies)
	output, s3err := reconcileResults(r.metrics, "PutObject", results)
	if s3err != nil {
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	headers := make(http.Header)
	if output.ETag != nil {
		headers.Set("ETag", *output.ETag)
	}
	if output.VersionId != nil {
		headers.Set("x-amz-version-id", *output.VersionId)
	}

	return &apigw.S3Response{StatusCode: http.StatusOK, Headers: headers}
}

// DeleteObject реплицирует удаление объекта на все remotes
func (r *Replicator) DeleteObject(req *apigw.S3Request) *apigw.S3Response {
	logger.Debug("DeleteObject: key=%s", req.Key)

	results := fanOut(r, req.Context, func() *s3.DeleteObjectInput {
		return &s3.DeleteObjectInput{
			Bucket: aws.String(req.Bucket),
			Key:    aws.String(req.Key),
		}
	}, func(input *s3.DeleteObjectInput, reply chan *remote.Outcome[*s3.DeleteObjectOutput]) remote.Message {
		return &remote.DeleteObjectMessage{Input: input, Reply: reply}
	})

	_, s3err := reconcileResults(r.metrics, "DeleteObject", results)
	if s3err != nil {
		return &apigw.S3Response{StatusCode: s3err.HTTPStatus, Error: s3err}
	}

	return &apigw.S3Response{StatusCode: http.StatusNoContent, Headers: make(http.Header)}
}

// fanOut отправляет сообщение каждому remote и собирает результаты.
// makeInput вызывается на каждый remote: входные структуры не разделяются
// между акторами, так как актор переписывает Bucket.
func fanOut[In any, Out any](
	r *Replicator,
	ctx context.Context,
	makeInput func() In,
	makeMessage func(In, chan *remote.Outcome[Out]) remote.Message,
) []result[Out] {
	replies := make([]chan *remote.Outcome[Out], len(r.remotes))
	for i, rem := range r.remotes {
		reply := make(chan *remote.Outcome[Out], 1)
		replies[i] = reply

		if err := rem.Send(ctx, makeMessage(makeInput(), reply)); err != nil {
			logger.Warn("fanOut: send to remote '%s' failed: %v", rem.Name, err)
			reply <- nil
		}
	}
	return collect(r.remotes, replies)
}

// collect дожидается ответа каждого remote в порядке конфигурации
func collect[Out any](remotes []*remote.Remote, replies []chan *remote.Outcome[Out]) []result[Out] {
	results := make([]result[Out], len(remotes))
	for i, rem := range remotes {
		results[i] = result[Out]{remote: rem.Name, outcome: <-replies[i]}
	}
	return results
}

// reconcileResults сводит результаты всех remotes к единому ответу клиенту:
//   - все успешны: первый успешный ответ;
//   - все неуспешны: первая сервисная ошибка, транслированная в S3 код,
//     либо InternalError, если ни один remote не ответил вовсе;
//   - частичный успех: бэкенды разошлись, клиент получает первый успешный
//     ответ, расхождение фиксируется в логе и метриках по каждому remote.
func reconcileResults[Out any](m *Metrics, op string, results []result[Out]) (Out, *apigw.S3Error) {
	var (
		firstSuccess    *result[Out]
		firstServiceErr error
		failures        []result[Out]
	)

	for i := range results {
		res := &results[i]
		switch {
		case res.outcome == nil:
			failures = append(failures, *res)
		case res.outcome.Err != nil:
			if firstServiceErr == nil {
				firstServiceErr = res.outcome.Err
			}
			failures = append(failures, *res)
		default:
			if firstSuccess == nil {
				firstSuccess = res
			}
		}
	}

	if firstSuccess == nil {
		m.ReplicationsTotal.WithLabelValues(op, "error").Inc()
		var zero Out
		if firstServiceErr != nil {
			return zero, convertSDKError(firstServiceErr)
		}
		return zero, errNoRemotes()
	}

	if len(failures) > 0 {
		// Частичный успех: содержимое бэкендов разошлось
		for _, f := range failures {
			if f.outcome == nil {
				logger.Error("%s: remote '%s' diverged: no response (transport failure)", op, f.remote)
			} else {
				logger.Error("%s: remote '%s' diverged: %v", op, f.remote, f.outcome.Err)
			}
			m.InconsistencyTotal.WithLabelValues(f.remote, op).Inc()
		}
		m.ReplicationsTotal.WithLabelValues(op, "partial").Inc()
	} else {
		m.ReplicationsTotal.WithLabelValues(op, "ok").Inc()
	}

	return firstSuccess.outcome.Output, nil
}

// observeFirstByte фиксирует время до первого байта тела запроса
func (r *Replicator) observeFirstByte(firstByte <-chan struct{}) {
	start := time.Now()
	go func() {
		<-firstByte
		r.metrics.FirstByteLatency.Observe(time.Since(start).Seconds())
	}()
}
