package apigw

import "time"

// Config содержит конфигурацию для API Gateway
type Config struct {
	// ListenAddress - адрес и порт для прослушивания (например, ":9000")
	ListenAddress string

	// ReadTimeout - таймаут на чтение заголовков запроса. Таймаут на все
	// тело не устанавливается: PUT больших объектов передается потоком.
	ReadTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":9000",
		ReadTimeout:   30 * time.Second,
	}
}
