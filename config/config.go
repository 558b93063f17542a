package config

import "time"

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"bramble"`
	Port               int    `env:"PORT" env-default:"3000"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"bramble"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for pipeline events (scope processed, work unit lifecycle)
	KafkaEventTopic string `env:"KAFKA_EVENT_TOPIC" env-default:"bramble-events"`
	// Kafka consumer group for the fan-out policy
	KafkaFanOutConsumerGroup string `env:"KAFKA_FANOUT_CONSUMER_GROUP" env-default:"bramble-fanout"`

	// Scheduler poll interval
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"30s"`
	// Number of due work units to dispatch per poll
	SchedulerBatchSize int `env:"SCHEDULER_BATCH_SIZE" env-default:"20"`
	// TTL of the per-unit dispatch lock
	SchedulerLockTTL time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"60s"`
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`

	// Job reconciler interval
	ReconcilerInterval time.Duration `env:"RECONCILER_INTERVAL" env-default:"10m"`
	// Terminal work units older than this are purged during reconcile
	WorkUnitRetention time.Duration `env:"WORK_UNIT_RETENTION" env-default:"2160h"`

	// Completion tracker key TTL
	CompletionTTL time.Duration `env:"COMPLETION_TTL" env-default:"2h"`

	// Redis Streams sync job queue name
	RedisStreamsJobQueue string `env:"REDIS_STREAMS_JOB_QUEUE" env-default:"bramble:jobs"`
	// Consumer group name
	RedisStreamsConsumerGroup string `env:"REDIS_STREAMS_CONSUMER_GROUP" env-default:"bramble-workers"`
	// Consumer name (defaults to hostname if empty)
	RedisStreamsConsumerName string `env:"REDIS_STREAMS_CONSUMER_NAME" env-default:""`
	// Dead letter stream name
	RedisStreamsDLQ string `env:"REDIS_STREAMS_DLQ" env-default:"bramble:dlq"`
	// Number of worker goroutines pulling sync jobs
	WorkerCount int `env:"WORKER_COUNT" env-default:"4"`
	// Maximum delivery attempts before a job goes to the DLQ
	WorkerMaxRetries int `env:"WORKER_MAX_RETRIES" env-default:"3"`

	// Batch size for chunked reconciliation writes
	ReconcileChunkSize int `env:"RECONCILE_CHUNK_SIZE" env-default:"100"`
	// Page size for stale entity pruning scans
	PrunePageSize int `env:"PRUNE_PAGE_SIZE" env-default:"500"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
