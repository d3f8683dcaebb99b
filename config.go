package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"s3reproxy/remote"
)

// AppConfig содержит конфигурацию из YAML файла: список удаленных
// хранилищ. Остальные параметры (порт, учетные данные, имя бакета,
// подключение к MongoDB) задаются флагами или переменными окружения.
type AppConfig struct {
	// Targets - удаленные хранилища для репликации
	Targets []remote.Target `yaml:"targets"`
}

// LoadConfig загружает конфигурацию из файла
func LoadConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := &AppConfig{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate проверяет корректность конфигурации
func (c *AppConfig) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target must be configured")
	}

	names := make(map[string]bool)
	readable := false

	for i := range c.Targets {
		t := &c.Targets[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("target %d (%s): %w", i, t.Name, err)
		}

		if names[t.Name] {
			return fmt.Errorf("duplicate target name: %s", t.Name)
		}
		names[t.Name] = true

		if t.ReadRequest {
			readable = true
		}
	}

	// Без читающего target любой GET обречен; такая конфигурация
	// отвергается на старте
	if !readable {
		return fmt.Errorf("at least one target must have read_request enabled")
	}

	return nil
}
