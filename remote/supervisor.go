package remote

import (
	"context"
	"fmt"
	"sync"

	"s3reproxy/logger"
)

// Supervisor запускает по одному актору на target и владеет их жизненным
// циклом: прогрев, раздача Shutdown, ожидание завершения.
type Supervisor struct {
	remotes  []*Remote
	registry *HealthRegistry
	wg       sync.WaitGroup
}

// SpawnAll создает акторов для всех targets. Ошибка создания любого клиента
// фатальна для настройки.
func SpawnAll(targets []Target, metrics *Metrics, registry *HealthRegistry) (*Supervisor, error) {
	s := &Supervisor{registry: registry}

	for _, target := range targets {
		r, err := Spawn(target, metrics, registry, &s.wg)
		if err != nil {
			return nil, err
		}
		s.remotes = append(s.remotes, r)
	}

	logger.Info("Supervisor spawned %d remote actors", len(s.remotes))
	return s, nil
}

// Remotes возвращает хэндлы всех акторов
func (s *Supervisor) Remotes() []*Remote {
	return s.remotes
}

// Registry возвращает реестр health-состояний
func (s *Supervisor) Registry() *HealthRegistry {
	return s.registry
}

// WarmUp отправляет каждому актору HealthCheck и дожидается ответов.
// Недоступный remote не считается ошибкой настройки - он просто стартует
// в состоянии DOWN.
func (s *Supervisor) WarmUp(ctx context.Context) {
	for _, r := range s.remotes {
		reply := make(chan Health, 1)
		if err := r.Send(ctx, &HealthCheckMessage{Reply: reply}); err != nil {
			logger.Warn("remote(%s): warm-up send failed: %v", r.Name, err)
			continue
		}

		select {
		case h := <-reply:
			logger.Info("remote(%s): warm-up health: %s", r.Name, h)
		case <-ctx.Done():
			logger.Warn("remote(%s): warm-up interrupted: %v", r.Name, ctx.Err())
			return
		}
	}
}

// Shutdown раздает ShutdownMessage всем акторам и дожидается завершения их
// горутин. Начатые вызовы бэкендов доводятся до конца.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	logger.Info("Supervisor: shutting down %d remote actors...", len(s.remotes))

	for _, r := range s.remotes {
		if err := r.Send(ctx, &ShutdownMessage{}); err != nil {
			return fmt.Errorf("failed to deliver shutdown to remote '%s': %w", r.Name, err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Supervisor: all remote actors stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
