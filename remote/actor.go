package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"s3reproxy/logger"
)

// MailboxSize - емкость почтового ящика актора. Заполненный ящик создает
// обратное давление на отправителей.
const MailboxSize = 32

// Actor владеет одним клиентом бэкенда и обрабатывает сообщения строго
// в порядке поступления: ровно один вызов SDK в полете на каждый remote.
type Actor struct {
	target   Target
	client   *s3.Client
	health   Health
	metrics  *Metrics
	registry *HealthRegistry
}

// Remote - внешний хэндл актора. Единственный способ добраться до актора -
// отправка сообщения в его почтовый ящик. Хэндл дешево копируется и
// раздается всем задачам диспетчера.
type Remote struct {
	Name        string
	Priority    uint32
	ReadRequest bool

	mailbox chan<- Message
}

// NewRemote собирает хэндл поверх готового почтового ящика.
// Используется Spawn и заглушками акторов в тестах.
func NewRemote(name string, priority uint32, readRequest bool, mailbox chan<- Message) *Remote {
	return &Remote{
		Name:        name,
		Priority:    priority,
		ReadRequest: readRequest,
		mailbox:     mailbox,
	}
}

// Send отправляет сообщение актору. Блокируется, пока в ящике нет места
// или не отменен контекст.
func (r *Remote) Send(ctx context.Context, msg Message) error {
	select {
	case r.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spawn создает клиента бэкенда, запускает горутину актора и возвращает
// хэндл. Горутина учитывается в wg и завершается только по ShutdownMessage.
func Spawn(target Target, metrics *Metrics, registry *HealthRegistry, wg *sync.WaitGroup) (*Remote, error) {
	client, err := newS3Client(target)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for remote '%s': %w", target.Name, err)
	}

	a := &Actor{
		target:   target,
		client:   client,
		health:   HealthUnknown,
		metrics:  metrics,
		registry: registry,
	}
	registry.Set(target.Name, HealthUnknown)
	metrics.RemoteHealth.WithLabelValues(target.Name).Set(HealthUnknown.ToFloat64())

	mailbox := make(chan Message, MailboxSize)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.run(mailbox)
	}()

	return NewRemote(target.Name, target.Priority, target.ReadRequest, mailbox), nil
}

// run - цикл приема актора. FIFO по сообщениям; Shutdown завершает цикл
// без ответа.
func (a *Actor) run(mailbox <-chan Message) {
	logger.Info("remote(%s): actor started (endpoint: %s, bucket: %s)",
		a.target.Name, a.target.S3.Endpoint, a.target.S3.Bucket)

	for msg := range mailbox {
		if _, ok := msg.(*ShutdownMessage); ok {
			break
		}
		msg.dispatch(a)
	}

	logger.Info("remote(%s): actor stopped", a.target.Name)
}

// perform выполняет один вызов SDK и отправляет ответ.
//
// Каналы ответа буферизованы на один элемент, поэтому отправка не блокирует
// актора, даже если вызывающая сторона уже отменила ожидание - ответ в этом
// случае молча пропадает. Вызов выполняется с фоновым контекстом: раз
// начатый запрос к бэкенду доводится до конца независимо от клиента.
func perform[In any, Out any](
	a *Actor,
	op string,
	reply chan<- *Outcome[Out],
	call func(context.Context, In, ...func(*s3.Options)) (Out, error),
	input In,
) {
	start := time.Now()
	output, err := call(context.Background(), input)
	duration := time.Since(start)

	a.metrics.RequestDuration.WithLabelValues(a.target.Name, op).Observe(duration.Seconds())

	if err == nil {
		a.metrics.RequestsTotal.WithLabelValues(a.target.Name, op, "ok").Inc()
		a.setHealth(HealthUp)
		reply <- &Outcome[Out]{Output: output}
		return
	}

	if isServiceError(err) {
		// Сервер ответил S3-ошибкой: remote жив, ошибку передаем наверх
		logger.Warn("remote(%s): %s service error: %v", a.target.Name, op, err)
		a.metrics.RequestsTotal.WithLabelValues(a.target.Name, op, "service_error").Inc()
		a.setHealth(HealthUp)
		reply <- &Outcome[Out]{Err: err}
		return
	}

	// Ответа не было вовсе: доверять нечему, remote считается недоступным
	logger.Warn("remote(%s): %s transport error: %v", a.target.Name, op, err)
	a.metrics.RequestsTotal.WithLabelValues(a.target.Name, op, "transport_error").Inc()
	a.setHealth(HealthDown)
	reply <- nil
}

// healthCheck выполняет легковесную проверку - HeadBucket на бакете target
func (a *Actor) healthCheck(reply chan<- Health) {
	logger.Debug("remote(%s): health check", a.target.Name)

	_, err := a.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(a.target.S3.Bucket),
	})

	switch {
	case err == nil, err != nil && isServiceError(err):
		a.setHealth(HealthUp)
	default:
		logger.Warn("remote(%s): health check failed: %v", a.target.Name, err)
		a.setHealth(HealthDown)
	}

	reply <- a.health
}

// setHealth обновляет health и логирует переход ровно один раз
func (a *Actor) setHealth(next Health) {
	if a.health == next {
		return
	}

	if next == HealthUp {
		logger.Info("remote(%s): health %s -> %s", a.target.Name, a.health, next)
	} else {
		logger.Warn("remote(%s): health %s -> %s", a.target.Name, a.health, next)
	}

	a.health = next
	a.metrics.RemoteHealth.WithLabelValues(a.target.Name).Set(next.ToFloat64())
	a.registry.Set(a.target.Name, next)
}
