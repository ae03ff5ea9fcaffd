package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Storage selects and configures the object store holding originals and renditions.
type Storage struct {
	Backend           string `toml:"backend"`
	LocalDir          string `toml:"local_dir"`
	PublicBaseURL     string `toml:"public_base_url"`
	S3Bucket          string `toml:"s3_bucket"`
	S3Region          string `toml:"s3_region"`
	S3Endpoint        string `toml:"s3_endpoint"`
	S3Prefix          string `toml:"s3_prefix"`
	S3PathStyle       bool   `toml:"s3_path_style"`
	S3AccessKeyID     string `toml:"s3_access_key_id"`
	S3SecretAccessKey string `toml:"s3_secret_access_key"`
}

// Upload contains limits and timing for client-side photo capture.
type Upload struct {
	ServerURL            string   `toml:"server_url"`
	MaxPhotos            int      `toml:"max_photos"`
	MaxFileMB            int      `toml:"max_file_mb"`
	SubmitTimeoutSeconds int      `toml:"submit_timeout_seconds"`
	PollIntervalSeconds  int      `toml:"poll_interval_seconds"`
	MaxRetries           int      `toml:"max_retries"`
	BackoffBaseSeconds   int      `toml:"backoff_base_seconds"`
	AllowedTypes         []string `toml:"allowed_types"`
}

// Jobs configures the background job pipeline.
type Jobs struct {
	Broker             string `toml:"broker"`
	Workers            int    `toml:"workers"`
	PollIntervalMS     int    `toml:"poll_interval_ms"`
	HeartbeatInterval  int    `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeout   int    `toml:"heartbeat_timeout_seconds"`
	StatusCacheSeconds int    `toml:"status_cache_seconds"`
	BacklogThreshold   int    `toml:"backlog_threshold"`
	RetentionHours     int    `toml:"retention_hours"`
	QueueName          string `toml:"queue_name"`
	RedisAddr          string `toml:"redis_addr"`
	RedisPassword      string `toml:"redis_password"`
	RedisDB            int    `toml:"redis_db"`
}

// FlagSeed declares a feature flag applied at daemon start when the flag
// table has no stored value for the key.
type FlagSeed struct {
	Key         string   `toml:"key"`
	Enabled     bool     `toml:"enabled"`
	AllowList   []string `toml:"allow_list"`
	Percentage  int      `toml:"percentage"`
	WindowStart string   `toml:"window_start"`
	WindowEnd   string   `toml:"window_end"`
}

// Window parses the optional RFC 3339 activation bounds. Zero values mean
// the bound is open.
func (f FlagSeed) Window() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if s := strings.TrimSpace(f.WindowStart); s != "" {
		if start, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("window_start: %w", err)
		}
	}
	if s := strings.TrimSpace(f.WindowEnd); s != "" {
		if end, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("window_end: %w", err)
		}
	}
	return start, end, nil
}

// Rollout contains feature flag seeds and the key guarding the upload path.
type Rollout struct {
	PhotoUploadKey string     `toml:"photo_upload_key"`
	Flags          []FlagSeed `toml:"flags"`
}

// Migration configures the legacy protocol migration.
type Migration struct {
	BatchSize      int    `toml:"batch_size"`
	Concurrency    int    `toml:"concurrency"`
	LegacySource   string `toml:"legacy_source"`
	LegacyDSN      string `toml:"legacy_dsn"`
	LegacyJSONPath string `toml:"legacy_json_path"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Migration      bool   `toml:"migration"`
	JobFailures    bool   `toml:"job_failures"`
	Backlog        bool   `toml:"backlog"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the handover photo service.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories, API bind address
//   - Storage: local or S3 object storage
//   - Upload: capture limits, retry and polling cadence
//   - Jobs: broker selection, workers, heartbeats, backlog threshold
//   - Rollout: feature flag seeds
//   - Migration: legacy source and batch size
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Storage       Storage       `toml:"storage"`
	Upload        Upload        `toml:"upload"`
	Jobs          Jobs          `toml:"jobs"`
	Rollout       Rollout       `toml:"rollout"`
	Migration     Migration     `toml:"migration"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/handoverphotos/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("handoverphotos.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the SQLite file backing jobs, photos, manifests, and flags.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "handover.db")
}

// LockPath is the flock file that keeps a single daemon per data directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "handoverd.lock")
}

// APIBaseURL returns the HTTP base URL clients use to reach the daemon.
func (c *Config) APIBaseURL() string {
	if url := strings.TrimRight(strings.TrimSpace(c.Upload.ServerURL), "/"); url != "" {
		return url
	}
	return "http://" + c.Paths.APIBind
}

// MaxFileBytes returns the per-file size cap in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.Upload.MaxFileMB) * 1024 * 1024
}

// PollInterval returns the client status polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Upload.PollIntervalSeconds) * time.Second
}

// SubmitTimeout bounds a single submission round trip.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Upload.SubmitTimeoutSeconds) * time.Second
}

// BackoffBase is the first retry delay; later retries double it.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Upload.BackoffBaseSeconds) * time.Second
}

// ContentTypeAllowed reports whether the server accepts the MIME type.
func (c *Config) ContentTypeAllowed(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	for _, allowed := range c.Upload.AllowedTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
