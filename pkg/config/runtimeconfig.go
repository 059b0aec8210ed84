package config

import "fmt"

// RuntimeConfig is the concrete schema for every configuration key the
// runtime recognizes (spec §6 "Configuration surface").
type RuntimeConfig struct {
	RegistryID string `yaml:"registry_id" json:"registry_id"`

	TargetTPS              int  `yaml:"target_tps" json:"target_tps"`
	MaxConcurrentMachines  int  `yaml:"max_concurrent_machines" json:"max_concurrent_machines"`
	TimeoutWorkerThreads   int  `yaml:"timeout_worker_threads" json:"timeout_worker_threads"`
	EnablePerformanceMetrics bool `yaml:"enable_performance_metrics" json:"enable_performance_metrics"`
	DebugWebsocketPort     int  `yaml:"debug_websocket_port" json:"debug_websocket_port"`

	HistoryBatchSize       int `yaml:"history_batch_size" json:"history_batch_size"`
	HistoryFlushIntervalMs int `yaml:"history_flush_interval_ms" json:"history_flush_interval_ms"`
	RegistryBatchSize      int `yaml:"registry_batch_size" json:"registry_batch_size"`

	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	PlaybackMaxSize int  `yaml:"playback_max_size" json:"playback_max_size"`
	PlaybackEnabled bool `yaml:"playback_enabled" json:"playback_enabled"`

	AutoEvictTTLMs int64 `yaml:"auto_evict_ttl_ms" json:"auto_evict_ttl_ms"`

	ActiveDSN    string `yaml:"active_dsn" json:"active_dsn"`
	ActiveDriver string `yaml:"active_driver" json:"active_driver"`
	HistoryDSN    string `yaml:"history_dsn" json:"history_dsn"`
	HistoryDriver string `yaml:"history_driver" json:"history_driver"`

	NATSURL     string `yaml:"nats_url" json:"nats_url"`
	NATSSubject string `yaml:"nats_subject" json:"nats_subject"`

	AdminHTTPAddr string `yaml:"admin_http_addr" json:"admin_http_addr"`
	JWTSecret     string `yaml:"jwt_secret" json:"jwt_secret"`
}

// Default returns a RuntimeConfig populated with the same class of
// conservative defaults the teacher uses for its pool/worker-pool configs.
func Default() *RuntimeConfig {
	return &RuntimeConfig{
		RegistryID:               "default",
		TargetTPS:                1000,
		MaxConcurrentMachines:    100000,
		TimeoutWorkerThreads:     1,
		EnablePerformanceMetrics: true,
		DebugWebsocketPort:       0,
		HistoryBatchSize:         500,
		HistoryFlushIntervalMs:   100,
		RegistryBatchSize:        500,
		RetentionDays:            30,
		PlaybackMaxSize:          1000,
		PlaybackEnabled:          true,
		AutoEvictTTLMs:           0,
		ActiveDriver:             "sqlite3",
		HistoryDriver:            "sqlite3",
	}
}

// Validate implements Validator: it is the ConfigurationError gate —
// construction-time, fatal to startup (spec §7).
func (c *RuntimeConfig) Validate(_ interface{}) error {
	if c.RegistryID == "" {
		return fmt.Errorf("registry_id must not be empty")
	}
	if c.MaxConcurrentMachines <= 0 {
		return fmt.Errorf("max_concurrent_machines must be positive")
	}
	if c.HistoryBatchSize <= 0 {
		return fmt.Errorf("history_batch_size must be positive")
	}
	if c.HistoryFlushIntervalMs <= 0 {
		return fmt.Errorf("history_flush_interval_ms must be positive")
	}
	if c.PlaybackMaxSize <= 0 {
		return fmt.Errorf("playback_max_size must be positive")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if c.ActiveDSN == "" {
		return fmt.Errorf("active_dsn must not be empty")
	}
	if c.ActiveDriver == "" {
		return fmt.Errorf("active_driver must not be empty")
	}
	return nil
}

// HistoryDatabaseName derives the history database name from the registry
// id per spec §6: "History database name equals <registry-id>-history".
func (c *RuntimeConfig) HistoryDatabaseName() string {
	return c.RegistryID + "-history"
}
