package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeUpload()
	c.normalizeJobs()
	c.normalizeRollout()
	if err := c.normalizeMigration(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	var err error
	if strings.TrimSpace(c.Storage.LocalDir) == "" {
		c.Storage.LocalDir = defaultStorageDir
	}
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	c.Storage.S3Bucket = strings.TrimSpace(c.Storage.S3Bucket)
	if c.Storage.S3Bucket == "" {
		if value, ok := os.LookupEnv("HANDOVER_S3_BUCKET"); ok {
			c.Storage.S3Bucket = strings.TrimSpace(value)
		}
	}
	c.Storage.S3Region = strings.TrimSpace(c.Storage.S3Region)
	if c.Storage.S3Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Storage.S3Region = strings.TrimSpace(value)
		}
	}
	c.Storage.S3Endpoint = strings.TrimSpace(c.Storage.S3Endpoint)
	c.Storage.S3Prefix = strings.Trim(strings.TrimSpace(c.Storage.S3Prefix), "/")
	c.Storage.S3AccessKeyID = strings.TrimSpace(c.Storage.S3AccessKeyID)
	c.Storage.S3SecretAccessKey = strings.TrimSpace(c.Storage.S3SecretAccessKey)
	return nil
}

func (c *Config) normalizeUpload() {
	c.Upload.ServerURL = strings.TrimSpace(c.Upload.ServerURL)
	types := make([]string, 0, len(c.Upload.AllowedTypes))
	seen := make(map[string]struct{}, len(c.Upload.AllowedTypes))
	for _, value := range c.Upload.AllowedTypes {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		types = append(types, value)
	}
	if len(types) == 0 {
		types = append(types, defaultAllowedTypes...)
	}
	c.Upload.AllowedTypes = types
}

func (c *Config) normalizeJobs() {
	c.Jobs.Broker = strings.ToLower(strings.TrimSpace(c.Jobs.Broker))
	if c.Jobs.Broker == "" {
		c.Jobs.Broker = BrokerSQLite
	}
	c.Jobs.QueueName = strings.TrimSpace(c.Jobs.QueueName)
	if c.Jobs.QueueName == "" {
		c.Jobs.QueueName = defaultJobQueueName
	}
	c.Jobs.RedisAddr = strings.TrimSpace(c.Jobs.RedisAddr)
	if value, ok := os.LookupEnv("HANDOVER_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Jobs.RedisAddr = strings.TrimSpace(value)
	}
	if c.Jobs.RedisPassword == "" {
		if value, ok := os.LookupEnv("HANDOVER_REDIS_PASSWORD"); ok {
			c.Jobs.RedisPassword = value
		}
	}
	if value, ok := os.LookupEnv("HANDOVER_REDIS_DB"); ok {
		if db, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			c.Jobs.RedisDB = db
		}
	}
}

func (c *Config) normalizeRollout() {
	c.Rollout.PhotoUploadKey = strings.TrimSpace(c.Rollout.PhotoUploadKey)
	if c.Rollout.PhotoUploadKey == "" {
		c.Rollout.PhotoUploadKey = defaultPhotoUploadFlag
	}
	for i := range c.Rollout.Flags {
		flag := &c.Rollout.Flags[i]
		flag.Key = strings.TrimSpace(flag.Key)
		allow := flag.AllowList[:0]
		for _, subject := range flag.AllowList {
			if subject = strings.TrimSpace(subject); subject != "" {
				allow = append(allow, subject)
			}
		}
		flag.AllowList = allow
	}
}

func (c *Config) normalizeMigration() error {
	c.Migration.LegacySource = strings.ToLower(strings.TrimSpace(c.Migration.LegacySource))
	if c.Migration.LegacySource == "" {
		c.Migration.LegacySource = LegacyJSON
	}
	c.Migration.LegacyDSN = strings.TrimSpace(c.Migration.LegacyDSN)
	if c.Migration.LegacyDSN == "" {
		if value, ok := os.LookupEnv("HANDOVER_LEGACY_DSN"); ok {
			c.Migration.LegacyDSN = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Migration.LegacyJSONPath) != "" {
		var err error
		if c.Migration.LegacyJSONPath, err = expandPath(c.Migration.LegacyJSONPath); err != nil {
			return fmt.Errorf("migration.legacy_json_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
