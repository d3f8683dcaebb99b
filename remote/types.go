package remote

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aws/smithy-go"
	"gopkg.in/yaml.v3"
)

// Health представляет рекомендательное состояние удаленного хранилища.
// Выводится из классификации ошибок последнего запроса: транспортная ошибка
// переводит remote в DOWN, любой ответ сервера (включая S3-ошибку) - в UP.
//
// Диспетчер чтения это состояние не учитывает: порядок опроса определяется
// только (read_request, priority). Health существует для эксплуатационной
// видимости и как полезная нагрузка ответа на HealthCheck.
type Health int

const (
	HealthUnknown Health = iota
	HealthUp
	HealthDown
)

// String возвращает строковое представление состояния
func (h Health) String() string {
	switch h {
	case HealthUp:
		return "UP"
	case HealthDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// ToFloat64 возвращает числовое представление состояния для метрик Prometheus
func (h Health) ToFloat64() float64 {
	switch h {
	case HealthUp:
		return 1.0
	case HealthDown:
		return 0.0
	default:
		return 0.5
	}
}

// S3Credentials содержит параметры подключения к одному S3-совместимому
// хранилищу
type S3Credentials struct {
	Endpoint  string `yaml:"endpoint"`   // URL эндпоинта (любой S3-совместимый)
	AccessKey string `yaml:"access_key"` // Access Key для аутентификации
	SecretKey string `yaml:"secret_key"` // Secret Key для аутентификации
	Bucket    string `yaml:"bucket"`     // Имя бакета на этом хранилище
}

// Target описывает один сконфигурированный remote. Неизменяем после загрузки.
type Target struct {
	Name        string        // Уникальное имя remote
	Priority    uint32        // Приоритет при чтении (больше - раньше), по умолчанию 1
	ReadRequest bool          // Участвует ли remote в чтении, по умолчанию true
	S3          S3Credentials // Параметры подключения
}

// UnmarshalYAML разбирает target с подстановкой значений по умолчанию
// (priority=1, read_request=true)
func (t *Target) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Name        string        `yaml:"name"`
		Priority    *uint32       `yaml:"priority"`
		ReadRequest *bool         `yaml:"read_request"`
		S3          S3Credentials `yaml:"s3"`
	}{}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	t.Name = raw.Name
	t.S3 = raw.S3

	t.Priority = 1
	if raw.Priority != nil {
		t.Priority = *raw.Priority
	}

	t.ReadRequest = true
	if raw.ReadRequest != nil {
		t.ReadRequest = *raw.ReadRequest
	}

	return nil
}

// Validate проверяет корректность конфигурации target
func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if t.S3.Endpoint == "" {
		return fmt.Errorf("s3.endpoint cannot be empty")
	}

	if t.S3.AccessKey == "" {
		return fmt.Errorf("s3.access_key cannot be empty")
	}

	if t.S3.SecretKey == "" {
		return fmt.Errorf("s3.secret_key cannot be empty")
	}

	if t.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket cannot be empty")
	}

	return nil
}

// isServiceError классифицирует ошибку SDK. Ошибка считается сервисной,
// если удаленная сторона ответила корректным S3-конвертом (4xx/5xx);
// все остальное (DNS, TCP, TLS, таймаут) - транспортная ошибка,
// после которой remote считается недоступным.
func isServiceError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return true
	}

	// Запасная проверка: любой тип в цепочке, сообщающий HTTP-код,
	// означает, что ответ сервера все-таки был
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr)
}

// HealthRegistry хранит последний известный health каждого remote.
// Обновляется акторами, читается модулем мониторинга (readiness).
type HealthRegistry struct {
	mu     sync.RWMutex
	health map[string]Health
}

// NewHealthRegistry создает пустой реестр
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{health: make(map[string]Health)}
}

// Set записывает состояние remote
func (r *HealthRegistry) Set(name string, h Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[name] = h
}

// Get возвращает последнее известное состояние remote
func (r *HealthRegistry) Get(name string) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health[name]
}

// Snapshot возвращает копию всех состояний
func (r *HealthRegistry) Snapshot() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]Health, len(r.health))
	for name, h := range r.health {
		snapshot[name] = h
	}
	return snapshot
}
