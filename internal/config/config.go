package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation constants
const (
	MinPort         = 1     // Minimum valid port number
	MaxPort         = 65535 // Maximum valid port number
	MaxHTTPAttempts = 20    // Upper bound for provider call attempts

	// Default values
	DefaultManagementURL          = "https://management.azure.com"
	DefaultQueryAPIVersion        = "2019-11-01"
	DefaultExportAPIVersion       = "2023-07-01-preview"
	DefaultSubscriptionAPIVersion = "2022-12-01"
	DefaultConsumptionAPIVersion  = "2023-05-01"
	DefaultExportName             = "Nilakandi-NTT-Export"
	DefaultExportDescription      = "Nilakandi daily actual cost export"
	DefaultStorageResourceGroup   = "Utilities"
	DefaultStorageContainer       = "cost-exports"
	DefaultMaxAttempts            = 5
	DefaultRetryAfter             = 20 // seconds
	DefaultHTTPTimeout            = 120
	DefaultDatabaseDriver         = "postgres"
	DefaultMaxOpenConns           = 10
	DefaultMaxIdleConns           = 5
	DefaultConnMaxLifetime        = 300
	DefaultRedisAddr              = "localhost:6379"
	DefaultQueuePrefix            = "nilakandi"
	DefaultChunkSize              = 10000
	DefaultBatchSize              = 500
	DefaultBlobBackend            = "azure"
	DefaultTaskBackend            = "redis"
	DefaultWorkers                = 4
	DefaultMaxRetries             = 3
	DefaultRetryDelay             = 60   // seconds
	DefaultSubscriptionDelay      = 500  // milliseconds
	DefaultBillingPeriodDelay     = 1000 // milliseconds
	DefaultSoftTimeout            = 25 * 60
	DefaultHardTimeout            = 30 * 60
	DefaultDaysToIngest           = 3
	DefaultHTTPPort               = 8080
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "json"
)

// DefaultSkippableStatuses are returned to the caller instead of failing the call
var DefaultSkippableStatuses = []int{400, 401, 403, 404, 409, 500, 501, 504}

// Subscription pins a subscription when the credential can see more than should be ingested
type Subscription struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// AzureConfig holds provider endpoints, credentials and the export destination
type AzureConfig struct {
	TenantID               string `yaml:"tenant_id"`
	ClientID               string `yaml:"client_id"`
	ClientSecret           string `yaml:"client_secret"`
	ManagementURL          string `yaml:"management_url"`
	QueryAPIVersion        string `yaml:"query_api_version"`
	ExportAPIVersion       string `yaml:"export_api_version"`
	SubscriptionAPIVersion string `yaml:"subscription_api_version"`
	ConsumptionAPIVersion  string `yaml:"consumption_api_version"`
	StorageAccount         string `yaml:"storage_account"`
	StorageResourceGroup   string `yaml:"storage_resource_group"`
	StorageContainer       string `yaml:"storage_container"`
	ExportName             string `yaml:"export_name"`
	ExportDescription      string `yaml:"export_description"`
}

// HTTPConfig is the retry policy of the provider client
type HTTPConfig struct {
	MaxAttempts       int   `yaml:"max_attempts"`
	RetryAfter        int   `yaml:"retry_after"` // seconds, used when the provider sends no Retry-After
	SkippableStatuses []int `yaml:"skippable_statuses"`
	Timeout           int   `yaml:"timeout"` // seconds per attempt
}

// DatabaseConfig selects and tunes the relational store
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // postgres or sqlite
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	AutoMigrate     *bool  `yaml:"auto_migrate"`      // Pointer to distinguish between false and unset
}

// RedisConfig locates the task broker
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	QueuePrefix string `yaml:"queue_prefix"`
}

// ImporterConfig tunes blob download and CSV loading
type ImporterConfig struct {
	ChunkSize   int    `yaml:"chunk_size"` // CSV rows per transaction
	BatchSize   int    `yaml:"batch_size"` // rows per INSERT statement
	ScratchDir  string `yaml:"scratch_dir"`
	BlobBackend string `yaml:"blob_backend"` // azure or filesystem
	BlobRoot    string `yaml:"blob_root"`    // directory for the filesystem backend
}

// TasksConfig tunes the worker pool and the periodic schedule
type TasksConfig struct {
	Backend            string `yaml:"backend"` // redis or memory
	Workers            int    `yaml:"workers"`
	MaxRetries         int    `yaml:"max_retries"`
	RetryDelay         int    `yaml:"retry_delay"`          // seconds
	SubscriptionDelay  int    `yaml:"subscription_delay"`   // milliseconds
	BillingPeriodDelay int    `yaml:"billing_period_delay"` // milliseconds
	SoftTimeout        int    `yaml:"soft_timeout"`         // seconds
	HardTimeout        int    `yaml:"hard_timeout"`         // seconds
	ScheduleInterval   int    `yaml:"schedule_interval"`    // seconds, 0 disables the schedule
	DaysToIngest       int    `yaml:"days_to_ingest"`
}

// ReportsConfig overrides the virtual machine report rules
type ReportsConfig struct {
	VMPrefixes []string `yaml:"vm_prefixes"`
	VMTagKeys  []string `yaml:"vm_tag_keys"`
}

// Config represents the application configuration
type Config struct {
	Azure         AzureConfig    `yaml:"azure"`
	HTTP          HTTPConfig     `yaml:"http"`
	Database      DatabaseConfig `yaml:"database"`
	Redis         RedisConfig    `yaml:"redis"`
	Importer      ImporterConfig `yaml:"importer"`
	Tasks         TasksConfig    `yaml:"tasks"`
	Reports       ReportsConfig  `yaml:"reports"`
	Subscriptions []Subscription `yaml:"subscriptions"`
	HTTPPort      int            `yaml:"http_port"`
	LogLevel      string         `yaml:"log_level"`
	LogFormat     string         `yaml:"log_format"`
}

// Load loads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	setString(&cfg.Azure.ManagementURL, DefaultManagementURL)
	setString(&cfg.Azure.QueryAPIVersion, DefaultQueryAPIVersion)
	setString(&cfg.Azure.ExportAPIVersion, DefaultExportAPIVersion)
	setString(&cfg.Azure.SubscriptionAPIVersion, DefaultSubscriptionAPIVersion)
	setString(&cfg.Azure.ConsumptionAPIVersion, DefaultConsumptionAPIVersion)
	setString(&cfg.Azure.ExportName, DefaultExportName)
	setString(&cfg.Azure.ExportDescription, DefaultExportDescription)
	setString(&cfg.Azure.StorageResourceGroup, DefaultStorageResourceGroup)
	setString(&cfg.Azure.StorageContainer, DefaultStorageContainer)
	cfg.Azure.ManagementURL = strings.TrimRight(cfg.Azure.ManagementURL, "/")

	setInt(&cfg.HTTP.MaxAttempts, DefaultMaxAttempts)
	setInt(&cfg.HTTP.RetryAfter, DefaultRetryAfter)
	setInt(&cfg.HTTP.Timeout, DefaultHTTPTimeout)
	if cfg.HTTP.SkippableStatuses == nil {
		cfg.HTTP.SkippableStatuses = append([]int(nil), DefaultSkippableStatuses...)
	}

	setString(&cfg.Database.Driver, DefaultDatabaseDriver)
	setInt(&cfg.Database.MaxOpenConns, DefaultMaxOpenConns)
	setInt(&cfg.Database.MaxIdleConns, DefaultMaxIdleConns)
	setInt(&cfg.Database.ConnMaxLifetime, DefaultConnMaxLifetime)
	// Only apply default if AutoMigrate is nil (not set), not if it's explicitly false
	if cfg.Database.AutoMigrate == nil {
		enabled := true
		cfg.Database.AutoMigrate = &enabled
	}

	setString(&cfg.Redis.Addr, DefaultRedisAddr)
	setString(&cfg.Redis.QueuePrefix, DefaultQueuePrefix)

	setInt(&cfg.Importer.ChunkSize, DefaultChunkSize)
	setInt(&cfg.Importer.BatchSize, DefaultBatchSize)
	setString(&cfg.Importer.ScratchDir, os.TempDir())
	setString(&cfg.Importer.BlobBackend, DefaultBlobBackend)

	setString(&cfg.Tasks.Backend, DefaultTaskBackend)
	setInt(&cfg.Tasks.Workers, DefaultWorkers)
	setInt(&cfg.Tasks.MaxRetries, DefaultMaxRetries)
	setInt(&cfg.Tasks.RetryDelay, DefaultRetryDelay)
	setInt(&cfg.Tasks.SubscriptionDelay, DefaultSubscriptionDelay)
	setInt(&cfg.Tasks.BillingPeriodDelay, DefaultBillingPeriodDelay)
	setInt(&cfg.Tasks.SoftTimeout, DefaultSoftTimeout)
	setInt(&cfg.Tasks.HardTimeout, DefaultHardTimeout)
	setInt(&cfg.Tasks.DaysToIngest, DefaultDaysToIngest)

	setInt(&cfg.HTTPPort, DefaultHTTPPort)
	setString(&cfg.LogLevel, DefaultLogLevel)
	setString(&cfg.LogFormat, DefaultLogFormat)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	stringVars := map[string]*string{
		"NILAKANDI_AZURE_TENANT_ID":       &cfg.Azure.TenantID,
		"NILAKANDI_AZURE_CLIENT_ID":       &cfg.Azure.ClientID,
		"NILAKANDI_AZURE_CLIENT_SECRET":   &cfg.Azure.ClientSecret,
		"NILAKANDI_AZURE_STORAGE_ACCOUNT": &cfg.Azure.StorageAccount,
		"NILAKANDI_AZURE_CONTAINER":       &cfg.Azure.StorageContainer,
		"NILAKANDI_DATABASE_DRIVER":       &cfg.Database.Driver,
		"NILAKANDI_DATABASE_DSN":          &cfg.Database.DSN,
		"NILAKANDI_REDIS_ADDR":            &cfg.Redis.Addr,
		"NILAKANDI_REDIS_PASSWORD":        &cfg.Redis.Password,
		"NILAKANDI_TASKS_BACKEND":         &cfg.Tasks.Backend,
		"NILAKANDI_SCRATCH_DIR":           &cfg.Importer.ScratchDir,
		"NILAKANDI_LOG_LEVEL":             &cfg.LogLevel,
		"NILAKANDI_LOG_FORMAT":            &cfg.LogFormat,
	}
	for name, dst := range stringVars {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}

	intVars := map[string]*int{
		"NILAKANDI_HTTP_PORT":           &cfg.HTTPPort,
		"NILAKANDI_REDIS_DB":            &cfg.Redis.DB,
		"NILAKANDI_TASKS_WORKERS":       &cfg.Tasks.Workers,
		"NILAKANDI_IMPORTER_CHUNK_SIZE": &cfg.Importer.ChunkSize,
		"NILAKANDI_HTTP_MAX_ATTEMPTS":   &cfg.HTTP.MaxAttempts,
	}
	for name, dst := range intVars {
		if val := os.Getenv(name); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s: must be an integer, got %q", name, val)
			}
			*dst = i
		}
	}

	// Override subscriptions (comma-separated id:name pairs)
	// Example: NILAKANDI_SUBSCRIPTIONS="sub1:prod,sub2:dev"
	if val := os.Getenv("NILAKANDI_SUBSCRIPTIONS"); val != "" {
		subs := []Subscription{}
		for _, pair := range splitList(val) {
			id, name, found := cutPair(pair)
			if !found {
				name = id
			}
			subs = append(subs, Subscription{ID: id, Name: name})
		}
		if len(subs) > 0 {
			cfg.Subscriptions = subs
		}
	}

	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	for i, sub := range cfg.Subscriptions {
		if sub.ID == "" {
			return fmt.Errorf("subscription at index %d has empty ID", i)
		}
	}

	if cfg.HTTP.MaxAttempts < 1 || cfg.HTTP.MaxAttempts > MaxHTTPAttempts {
		return fmt.Errorf("http.max_attempts must be between 1 and %d, got %d", MaxHTTPAttempts, cfg.HTTP.MaxAttempts)
	}
	if cfg.HTTP.RetryAfter < 0 {
		return fmt.Errorf("http.retry_after cannot be negative, got %d", cfg.HTTP.RetryAfter)
	}
	if cfg.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %d", cfg.HTTP.Timeout)
	}
	for _, status := range cfg.HTTP.SkippableStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("http.skippable_statuses contains invalid status %d", status)
		}
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if cfg.Importer.ChunkSize <= 0 {
		return fmt.Errorf("importer.chunk_size must be positive, got %d", cfg.Importer.ChunkSize)
	}
	if cfg.Importer.BatchSize <= 0 {
		return fmt.Errorf("importer.batch_size must be positive, got %d", cfg.Importer.BatchSize)
	}
	switch cfg.Importer.BlobBackend {
	case "azure":
		if cfg.Azure.StorageAccount == "" {
			return fmt.Errorf("azure.storage_account is required for the azure blob backend")
		}
	case "filesystem":
		if cfg.Importer.BlobRoot == "" {
			return fmt.Errorf("importer.blob_root is required for the filesystem blob backend")
		}
	default:
		return fmt.Errorf("importer.blob_backend must be azure or filesystem, got %q", cfg.Importer.BlobBackend)
	}

	switch cfg.Tasks.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("tasks.backend must be redis or memory, got %q", cfg.Tasks.Backend)
	}
	if cfg.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be positive, got %d", cfg.Tasks.Workers)
	}
	if cfg.Tasks.MaxRetries < 0 {
		return fmt.Errorf("tasks.max_retries cannot be negative, got %d", cfg.Tasks.MaxRetries)
	}
	if cfg.Tasks.SoftTimeout <= 0 || cfg.Tasks.HardTimeout <= 0 {
		return fmt.Errorf("tasks timeouts must be positive")
	}
	if cfg.Tasks.SoftTimeout > cfg.Tasks.HardTimeout {
		return fmt.Errorf("tasks.soft_timeout (%d) must not exceed tasks.hard_timeout (%d)", cfg.Tasks.SoftTimeout, cfg.Tasks.HardTimeout)
	}
	if cfg.Tasks.ScheduleInterval < 0 {
		return fmt.Errorf("tasks.schedule_interval cannot be negative, got %d", cfg.Tasks.ScheduleInterval)
	}

	if cfg.HTTPPort < MinPort || cfg.HTTPPort > MaxPort {
		return fmt.Errorf("http_port must be between %d and %d", MinPort, MaxPort)
	}

	return nil
}

// RetryAfterDuration is the wait used when the provider sends no Retry-After header
func (c HTTPConfig) RetryAfterDuration() time.Duration {
	return time.Duration(c.RetryAfter) * time.Second
}

// TimeoutDuration bounds a single provider call attempt
func (c HTTPConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ConnMaxLifetimeDuration is the pool's connection recycle age
func (c DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

// Durations used by the worker pool
func (c TasksConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

func (c TasksConfig) SubscriptionDelayDuration() time.Duration {
	return time.Duration(c.SubscriptionDelay) * time.Millisecond
}

func (c TasksConfig) BillingPeriodDelayDuration() time.Duration {
	return time.Duration(c.BillingPeriodDelay) * time.Millisecond
}

func (c TasksConfig) SoftTimeoutDuration() time.Duration {
	return time.Duration(c.SoftTimeout) * time.Second
}

func (c TasksConfig) HardTimeoutDuration() time.Duration {
	return time.Duration(c.HardTimeout) * time.Second
}

func (c TasksConfig) ScheduleIntervalDuration() time.Duration {
	return time.Duration(c.ScheduleInterval) * time.Second
}
