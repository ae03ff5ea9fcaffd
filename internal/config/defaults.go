package config

const (
	StorageLocal = "local"
	StorageS3    = "s3"

	BrokerSQLite = "sqlite"
	BrokerRedis  = "redis"

	LegacyPostgres = "postgres"
	LegacyJSON     = "json"
)

const (
	defaultDataDir               = "~/.local/share/handoverphotos"
	defaultLogDir                = "~/.local/share/handoverphotos/logs"
	defaultStorageDir            = "~/.local/share/handoverphotos/objects"
	defaultAPIBind               = "127.0.0.1:7690"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultMaxPhotos             = 20
	defaultMaxFileMB             = 50
	defaultSubmitTimeoutSeconds  = 30
	defaultPollIntervalSeconds   = 2
	defaultMaxRetries            = 3
	defaultBackoffBaseSeconds    = 1
	defaultJobWorkers            = 4
	defaultJobPollIntervalMS     = 500
	defaultJobHeartbeatInterval  = 10
	defaultJobHeartbeatTimeout   = 120
	defaultJobStatusCacheSeconds = 30
	defaultJobBacklogThreshold   = 100
	defaultJobRetentionHours     = 168
	defaultJobQueueName          = "photos"
	defaultRedisAddr             = "127.0.0.1:6379"
	defaultMigrationBatchSize    = 10
	defaultMigrationConcurrency  = 4
	defaultPhotoUploadFlag       = "PROTOCOL_V2_PHOTO_UPLOAD"
	defaultNotifyRequestTimeout  = 10
	defaultLegacyJSONPath        = "~/.local/share/handoverphotos/legacy_protocols.json"
)

var defaultAllowedTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Storage: Storage{
			Backend:  StorageLocal,
			LocalDir: defaultStorageDir,
		},
		Upload: Upload{
			MaxPhotos:            defaultMaxPhotos,
			MaxFileMB:            defaultMaxFileMB,
			SubmitTimeoutSeconds: defaultSubmitTimeoutSeconds,
			PollIntervalSeconds:  defaultPollIntervalSeconds,
			MaxRetries:           defaultMaxRetries,
			BackoffBaseSeconds:   defaultBackoffBaseSeconds,
			AllowedTypes:         append([]string(nil), defaultAllowedTypes...),
		},
		Jobs: Jobs{
			Broker:             BrokerSQLite,
			Workers:            defaultJobWorkers,
			PollIntervalMS:     defaultJobPollIntervalMS,
			HeartbeatInterval:  defaultJobHeartbeatInterval,
			HeartbeatTimeout:   defaultJobHeartbeatTimeout,
			StatusCacheSeconds: defaultJobStatusCacheSeconds,
			BacklogThreshold:   defaultJobBacklogThreshold,
			RetentionHours:     defaultJobRetentionHours,
			QueueName:          defaultJobQueueName,
			RedisAddr:          defaultRedisAddr,
		},
		Rollout: Rollout{
			PhotoUploadKey: defaultPhotoUploadFlag,
		},
		Migration: Migration{
			BatchSize:      defaultMigrationBatchSize,
			Concurrency:    defaultMigrationConcurrency,
			LegacySource:   LegacyJSON,
			LegacyJSONPath: defaultLegacyJSONPath,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Migration:      true,
			JobFailures:    true,
			Backlog:        true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
