// Package config provides configuration management for the Nilakandi ingestion worker.
//
// This package handles loading configuration from YAML files, applying
// environment variable overrides, setting defaults, and validating the
// configuration. The resolved Config is built once by the command layer and
// handed to every component constructor; nothing reads settings globally.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// Supported environment variables:
//   - NILAKANDI_AZURE_TENANT_ID, NILAKANDI_AZURE_CLIENT_ID, NILAKANDI_AZURE_CLIENT_SECRET
//   - NILAKANDI_AZURE_STORAGE_ACCOUNT, NILAKANDI_AZURE_CONTAINER
//   - NILAKANDI_DATABASE_DRIVER, NILAKANDI_DATABASE_DSN
//   - NILAKANDI_REDIS_ADDR, NILAKANDI_REDIS_PASSWORD, NILAKANDI_REDIS_DB
//   - NILAKANDI_TASKS_BACKEND, NILAKANDI_TASKS_WORKERS
//   - NILAKANDI_IMPORTER_CHUNK_SIZE, NILAKANDI_SCRATCH_DIR
//   - NILAKANDI_HTTP_MAX_ATTEMPTS, NILAKANDI_HTTP_PORT
//   - NILAKANDI_LOG_LEVEL, NILAKANDI_LOG_FORMAT
//   - NILAKANDI_SUBSCRIPTIONS: Comma-separated subscription IDs or id:name pairs
//
// Example configuration file (config.yaml):
//
//	azure:
//	  tenant_id: "..."
//	  client_id: "..."
//	  client_secret: "..."
//	  storage_account: "nilakandistore"
//	  storage_container: "cost-exports"
//
//	http:
//	  max_attempts: 5
//	  retry_after: 20           # seconds when no Retry-After header is sent
//	  skippable_statuses: [400, 401, 403, 404, 409, 500, 501, 504]
//
//	database:
//	  driver: postgres
//	  dsn: "host=db user=nilakandi dbname=nilakandi sslmode=disable"
//
//	redis:
//	  addr: "redis:6379"
//
//	importer:
//	  chunk_size: 10000
//
//	tasks:
//	  workers: 4
//	  max_retries: 3
//	  retry_delay: 60
//	  soft_timeout: 1500
//	  hard_timeout: 1800
//	  schedule_interval: 86400
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//		log.Fatalf("Failed to load config: %v", err)
//	}
package config
