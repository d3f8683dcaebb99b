package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"s3reproxy/logger"
)

const (
	// frameSize - размер одного кадра, читаемого из исходного потока
	frameSize = 32 * 1024

	// producerQueueSize - емкость внутренней очереди между producer и broadcaster
	producerQueueSize = 4

	// subscriberQueueSize - емкость очереди каждого подписчика
	subscriberQueueSize = 16
)

// ErrDisconnected возвращается подписчику, если broadcaster завершился,
// не доставив ему конец потока
var ErrDisconnected = errors.New("stream: producer disconnected")

// StreamError оборачивает ошибку исходного потока. Доставляется каждому
// подписчику как кадр с ошибкой.
type StreamError struct {
	Msg string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream: upstream error: %s", e.Msg)
}

// frame - единица передачи между producer, broadcaster и подписчиками.
// Либо data, либо err.
type frame struct {
	data []byte
	err  error
}

// subscription - запрос на подписку, отправляемый broadcaster'у
type subscription struct {
	reply chan *Subscriber
}

// Multiplexer читает входящий поток ровно один раз и раздает его кадры
// N независимым подписчикам. Каждый подписчик получает полную копию потока
// с самого начала (кадры, пришедшие до подписки, доигрываются из кэша).
//
// Кэш кадров растет только до тех пор, пока разрешены новые подписки.
// Вызывающая сторона обязана подписать всех потребителей и затем вызвать
// CloseSubscribe - это сигнал, что кэш можно освобождать.
//
// Subscribe и CloseSubscribe вызываются из одной горутины диспетчера;
// сами подписчики могут читаться конкурентно.
type Multiplexer struct {
	subscribeCh chan subscription
	closed      atomic.Bool
	closeOnce   sync.Once

	firstByte     chan struct{}
	firstByteOnce sync.Once

	// remaining - оценка оставшегося размера потока (ячейка-наблюдатель).
	// Отрицательное значение означает "неизвестно".
	remaining atomic.Int64
}

// New создает мультиплексор поверх исходного потока body и запускает
// две горутины: producer (читает body) и broadcaster (раздает кадры).
// sizeHint - заявленный размер тела (Content-Length), либо -1.
func New(body io.Reader, sizeHint int64) *Multiplexer {
	m := &Multiplexer{
		subscribeCh: make(chan subscription),
		firstByte:   make(chan struct{}),
	}
	m.remaining.Store(sizeHint)

	frames := make(chan frame, producerQueueSize)

	go m.runProducer(body, frames)
	go m.runBroadcaster(frames)

	return m
}

// FirstByte возвращает одноразовый сигнал, срабатывающий при получении
// первого кадра из исходного потока
func (m *Multiplexer) FirstByte() <-chan struct{} {
	return m.firstByte
}

// SizeHint возвращает текущую оценку оставшегося размера потока
// (-1, если размер неизвестен)
func (m *Multiplexer) SizeHint() int64 {
	return m.remaining.Load()
}

// ErrSubscribeClosed возвращается Subscribe после вызова CloseSubscribe
var ErrSubscribeClosed = errors.New("stream: multiplexer no longer accepts subscribers")

// Subscribe регистрирует нового потребителя и возвращает io.ReadCloser,
// воспроизводящий поток с самого начала. После CloseSubscribe возвращает
// ErrSubscribeClosed. Вызывается последовательно с CloseSubscribe из одной
// горутины диспетчера.
func (m *Multiplexer) Subscribe() (*Subscriber, error) {
	if m.closed.Load() {
		return nil, ErrSubscribeClosed
	}

	req := subscription{reply: make(chan *Subscriber, 1)}
	m.subscribeCh <- req
	return <-req.reply, nil
}

// CloseSubscribe закрывает прием новых подписчиков. После этого вызова
// кэш кадров освобождается по мере продвижения потока. Вызов идемпотентен.
func (m *Multiplexer) CloseSubscribe() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.subscribeCh)
	})
}

// runProducer вычитывает исходный поток покадрово и передает кадры
// broadcaster'у. Обратное давление: заполненная очередь frames
// останавливает чтение из body.
func (m *Multiplexer) runProducer(body io.Reader, frames chan<- frame) {
	defer close(frames)

	for {
		buf := make([]byte, frameSize)
		n, err := body.Read(buf)
		if n > 0 {
			m.firstByteOnce.Do(func() { close(m.firstByte) })
			if r := m.remaining.Load(); r >= 0 {
				m.remaining.Store(r - int64(n))
			}
			frames <- frame{data: buf[:n]}
		}
		if err == io.EOF {
			// Пустое тело тоже должно взводить сигнал: ожидающие
			// FirstByte не должны зависнуть
			m.firstByteOnce.Do(func() { close(m.firstByte) })
			logger.Debug("stream: producer reached EOF")
			return
		}
		if err != nil {
			logger.Error("stream: upstream read failed: %v", err)
			frames <- frame{err: &StreamError{Msg: err.Error()}}
			return
		}
	}
}

// runBroadcaster принимает подписки и раздает кадры всем живым подписчикам.
// Пока подписки открыты, каждый кадр дополнительно попадает в кэш для
// доигрывания поздним подписчикам.
func (m *Multiplexer) runBroadcaster(frames <-chan frame) {
	var (
		readCache []frame
		subs      []*Subscriber
	)

	subscribeCh := m.subscribeCh
	framesCh := frames

	// Цикл живет, пока открыт хотя бы один из каналов: поздний подписчик
	// после конца потока получает кэш целиком и сразу конец потока.
	for subscribeCh != nil || framesCh != nil {
		select {
		case req, ok := <-subscribeCh:
			if !ok {
				// Подписки закрыты - кэш больше не нужен
				subscribeCh = nil
				readCache = nil
				continue
			}

			sub := newSubscriber()
			req.reply <- sub

			// Доигрываем накопленные кадры. Отправка блокирующая:
			// медленный подписчик задерживает broadcaster, что и
			// требуется для ограничения буферизации.
			alive := true
			for _, f := range readCache {
				if !sub.deliver(f) {
					alive = false
					break
				}
			}
			if !alive {
				continue
			}
			if framesCh == nil {
				// Поток уже закончился: подписчику достается только кэш
				sub.finish()
				continue
			}
			subs = append(subs, sub)

		case f, ok := <-framesCh:
			if !ok {
				// Producer завершился - закрываем очереди подписчиков
				framesCh = nil
				for _, sub := range subs {
					sub.finish()
				}
				logger.Debug("stream: broadcaster finished with %d subscribers", len(subs))
				subs = nil
				continue
			}

			live := subs[:0]
			for _, sub := range subs {
				if sub.deliver(f) {
					live = append(live, sub)
				}
			}
			subs = live

			// Пока подписки открыты, кадры копятся в кэше для поздних
			// подписчиков
			if subscribeCh != nil {
				readCache = append(readCache, f)
			}
		}
	}
}

// Subscriber - читающая сторона одной подписки. Реализует io.ReadCloser
// и может напрямую использоваться как тело запроса AWS SDK.
type Subscriber struct {
	ch   chan frame
	done chan struct{}
	once sync.Once

	buf []byte
	err error
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		ch:   make(chan frame, subscriberQueueSize),
		done: make(chan struct{}),
	}
}

// deliver передает кадр подписчику. Возвращает false, если подписчик
// брошен потребителем (Close) - такого подписчика broadcaster удаляет.
func (s *Subscriber) deliver(f frame) bool {
	select {
	case <-s.done:
		return false
	case s.ch <- f:
		return true
	}
}

// finish сигнализирует подписчику нормальный конец потока
func (s *Subscriber) finish() {
	close(s.ch)
}

// Read реализует io.Reader поверх очереди кадров
func (s *Subscriber) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}

		select {
		case <-s.done:
			s.err = ErrDisconnected
			return 0, s.err
		case f, ok := <-s.ch:
			if !ok {
				s.err = io.EOF
				return 0, s.err
			}
			if f.err != nil {
				s.err = f.err
				return 0, s.err
			}
			s.buf = f.data
		}
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close отписывает потребителя. Безопасно вызывать в любой момент;
// остальные подписчики продолжают получать поток.
func (s *Subscriber) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
