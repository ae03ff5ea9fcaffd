package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateRollout(); err != nil {
		return err
	}
	if err := c.validateMigration(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket must be set when storage.backend is s3 (or set HANDOVER_S3_BUCKET)")
		}
		if (c.Storage.S3AccessKeyID == "") != (c.Storage.S3SecretAccessKey == "") {
			return errors.New("storage.s3_access_key_id and storage.s3_secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageLocal, StorageS3, c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateUpload() error {
	if err := ensurePositiveMap(map[string]int{
		"upload.max_photos":             c.Upload.MaxPhotos,
		"upload.max_file_mb":            c.Upload.MaxFileMB,
		"upload.submit_timeout_seconds": c.Upload.SubmitTimeoutSeconds,
		"upload.poll_interval_seconds":  c.Upload.PollIntervalSeconds,
		"upload.backoff_base_seconds":   c.Upload.BackoffBaseSeconds,
	}); err != nil {
		return err
	}
	if c.Upload.MaxRetries < 0 {
		return errors.New("upload.max_retries must be >= 0")
	}
	for _, value := range c.Upload.AllowedTypes {
		if !strings.HasPrefix(value, "image/") {
			return fmt.Errorf("upload.allowed_types must only contain image types, got %q", value)
		}
	}
	return nil
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.workers":                    c.Jobs.Workers,
		"jobs.poll_interval_ms":           c.Jobs.PollIntervalMS,
		"jobs.heartbeat_interval_seconds": c.Jobs.HeartbeatInterval,
		"jobs.heartbeat_timeout_seconds":  c.Jobs.HeartbeatTimeout,
		"jobs.status_cache_seconds":       c.Jobs.StatusCacheSeconds,
		"jobs.backlog_threshold":          c.Jobs.BacklogThreshold,
		"jobs.retention_hours":            c.Jobs.RetentionHours,
	}); err != nil {
		return err
	}
	if c.Jobs.HeartbeatTimeout <= c.Jobs.HeartbeatInterval {
		return errors.New("jobs.heartbeat_timeout_seconds must be greater than jobs.heartbeat_interval_seconds")
	}
	switch c.Jobs.Broker {
	case BrokerSQLite:
	case BrokerRedis:
		if c.Jobs.RedisAddr == "" {
			return errors.New("jobs.redis_addr must be set when jobs.broker is redis")
		}
		if c.Jobs.RedisDB < 0 {
			return errors.New("jobs.redis_db must be >= 0")
		}
	default:
		return fmt.Errorf("jobs.broker must be %q or %q, got %q", BrokerSQLite, BrokerRedis, c.Jobs.Broker)
	}
	return nil
}

func (c *Config) validateRollout() error {
	seen := make(map[string]struct{}, len(c.Rollout.Flags))
	for i, flag := range c.Rollout.Flags {
		if flag.Key == "" {
			return fmt.Errorf("rollout.flags[%d].key must be set", i)
		}
		if _, dup := seen[flag.Key]; dup {
			return fmt.Errorf("rollout.flags[%d].key %q is declared more than once", i, flag.Key)
		}
		seen[flag.Key] = struct{}{}
		if flag.Percentage < 0 || flag.Percentage > 100 {
			return fmt.Errorf("rollout.flags[%d].percentage must be between 0 and 100", i)
		}
		start, end, err := flag.Window()
		if err != nil {
			return fmt.Errorf("rollout.flags[%d].%w", i, err)
		}
		if !start.IsZero() && !end.IsZero() && !end.After(start) {
			return fmt.Errorf("rollout.flags[%d].window_end must be after window_start", i)
		}
	}
	return nil
}

func (c *Config) validateMigration() error {
	if c.Migration.BatchSize <= 0 {
		return errors.New("migration.batch_size must be positive")
	}
	if c.Migration.Concurrency <= 0 {
		return errors.New("migration.concurrency must be positive")
	}
	switch c.Migration.LegacySource {
	case LegacyPostgres, LegacyJSON:
	default:
		return fmt.Errorf("migration.legacy_source must be %q or %q, got %q", LegacyPostgres, LegacyJSON, c.Migration.LegacySource)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
