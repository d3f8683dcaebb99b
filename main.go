package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"s3reproxy/apigw"
	"s3reproxy/auth"
	"s3reproxy/fetch"
	"s3reproxy/logger"
	"s3reproxy/monitoring"
	"s3reproxy/remote"
	"s3reproxy/replicator"
	"s3reproxy/routing"
	"s3reproxy/tokens"
)

// flagOrEnv возвращает значение флага, а при пустом флаге - переменную
// окружения
func flagOrEnv(flagValue, envName string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envName)
}

func main() {
	// Парсим аргументы командной строки. Каждый параметр, кроме пути к
	// конфигурации, имеет запасную переменную окружения.
	var (
		configFile  = flag.String("config-file", "", "Configuration file path (YAML) with the list of targets")
		port        = flag.Int("port", 0, "Listen port for the S3 endpoint (env PORT, default 9000)")
		accessKey   = flag.String("access-key", "", "Access key clients must present (env ACCESS_KEY)")
		secretKey   = flag.String("secret-key", "", "Secret key for signature validation (env SECRET_KEY)")
		bucket      = flag.String("bucket", "", "Virtual bucket name served by the proxy (env BUCKET)")
		mongoURI    = flag.String("mongo-uri", "", "MongoDB connection URI for token storage (env MONGO_URI)")
		mongoDB     = flag.String("mongo-db", "", "MongoDB database name (env MONGO_DB)")
		metricsAddr = flag.String("metrics-listen", "", "Metrics server listen address (default :9091)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error) (env LOG_LEVEL)")
	)
	flag.Parse()

	// Устанавливаем уровень логирования
	level := logger.ParseLogLevel(flagOrEnv(*logLevel, "LOG_LEVEL"))
	logger.SetGlobalLevel(level)

	logger.Info("S3 Replicating Proxy starting...")
	logger.Info("Log level: %s", level.String())

	// Загружаем конфигурацию с targets
	if *configFile == "" {
		logger.Error("Config file not provided (--config-file). Exiting.")
		os.Exit(1)
	}

	logger.Info("Loading configuration from file: %s", *configFile)
	config, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Info("Configuration loaded: %d targets", len(config.Targets))

	// Собираем параметры из флагов и окружения
	listenPort := *port
	if listenPort == 0 {
		if env := os.Getenv("PORT"); env != "" {
			if _, err := fmt.Sscanf(env, "%d", &listenPort); err != nil {
				log.Fatalf("Invalid PORT value %q: %v", env, err)
			}
		}
	}
	if listenPort == 0 {
		listenPort = 9000
	}

	access := flagOrEnv(*accessKey, "ACCESS_KEY")
	secret := flagOrEnv(*secretKey, "SECRET_KEY")
	virtualBucket := flagOrEnv(*bucket, "BUCKET")
	mongo := flagOrEnv(*mongoURI, "MONGO_URI")
	mongoDatabase := flagOrEnv(*mongoDB, "MONGO_DB")

	if access == "" || secret == "" {
		log.Fatalf("Access key and secret key must be provided (--access-key/--secret-key or ACCESS_KEY/SECRET_KEY)")
	}
	if virtualBucket == "" {
		log.Fatalf("Virtual bucket name must be provided (--bucket or BUCKET)")
	}
	if mongo == "" {
		log.Fatalf("MongoDB URI must be provided (--mongo-uri or MONGO_URI)")
	}
	if mongoDatabase == "" {
		mongoDatabase = "s3reproxy"
	}

	// Подключаемся к MongoDB для хранения токенов и multipart-сессий
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := tokens.Connect(connectCtx, mongo, mongoDatabase)
	connectCancel()
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	logger.Info("Connected to MongoDB (database: %s)", mongoDatabase)

	// Запускаем акторов удаленных хранилищ
	remoteMetrics := remote.NewMetrics()
	registry := remote.NewHealthRegistry()

	supervisor, err := remote.SpawnAll(config.Targets, remoteMetrics, registry)
	if err != nil {
		log.Fatalf("Failed to spawn remote actors: %v", err)
	}

	for _, r := range supervisor.Remotes() {
		logger.Info("  - %s: priority=%d, read_request=%v", r.Name, r.Priority, r.ReadRequest)
	}

	// Прогрев: первый health check каждого remote. Недоступный remote не
	// мешает запуску.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	supervisor.WarmUp(warmCtx)
	warmCancel()

	// Создаем и запускаем модуль мониторинга
	monitoringConfig := monitoring.DefaultConfig()
	if *metricsAddr != "" {
		monitoringConfig.ListenAddress = *metricsAddr
	}

	monitor := monitoring.NewServer(monitoringConfig, supervisor.Remotes(), registry)
	if err := monitor.Start(); err != nil {
		log.Fatalf("Failed to start monitoring server: %v", err)
	}

	// Создаем аутентификатор с единственной парой ключей
	authenticator, err := auth.NewStaticAuthenticator(access, secret)
	if err != nil {
		log.Fatalf("Failed to create authenticator: %v", err)
	}
	logger.Info("Authentication configured for access key %s", access)

	// Replicator для операций записи, Fetcher для операций чтения
	replicatorInstance := replicator.NewReplicator(supervisor.Remotes(), store)
	fetcherInstance := fetch.NewFetcher(supervisor.Remotes(), store, virtualBucket)

	// Создаем Policy & Routing Engine
	engine := routing.NewEngine(authenticator, replicatorInstance, fetcherInstance, virtualBucket)

	// Создаем и запускаем API Gateway
	gatewayConfig := apigw.DefaultConfig()
	gatewayConfig.ListenAddress = fmt.Sprintf(":%d", listenPort)

	gateway := apigw.New(gatewayConfig, engine)

	logger.Info("Configuration:")
	logger.Info("  Listen Address: %s", gatewayConfig.ListenAddress)
	logger.Info("  Virtual Bucket: %s", virtualBucket)
	logger.Info("  Metrics Address: %s", monitoringConfig.ListenAddress)

	// Настраиваем graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем API Gateway в отдельной горутине
	go func() {
		if err := gateway.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	logger.Info("S3 Replicating Proxy started successfully")

	// Ждем сигнал для остановки
	sig := <-sigChan
	logger.Info("Received signal %v, shutting down...", sig)

	// Создаем контекст с таймаутом для graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Останавливаем API Gateway: новые запросы не принимаются, активные
	// дорабатывают
	if err := gateway.Stop(ctx); err != nil {
		logger.Error("Error stopping API Gateway: %v", err)
	}

	// Останавливаем мониторинг
	if err := monitor.Stop(ctx); err != nil {
		logger.Error("Error stopping monitoring: %v", err)
	}

	// Останавливаем акторов: начатые вызовы бэкендов доводятся до конца
	if err := supervisor.Shutdown(ctx); err != nil {
		logger.Error("Error stopping remote actors: %v", err)
	}

	// Закрываем соединение с MongoDB
	if err := store.Disconnect(ctx); err != nil {
		logger.Error("Error disconnecting from MongoDB: %v", err)
	}

	logger.Info("S3 Replicating Proxy stopped")
}
