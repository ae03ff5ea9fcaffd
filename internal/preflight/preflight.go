package preflight

import (
	"context"

	"handoverphotos/internal/config"
	"handoverphotos/internal/storage"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable check for cfg. backend may be nil when
// the object store could not be opened; the round trip is then reported failed.
func RunAll(ctx context.Context, cfg *config.Config, backend storage.Backend) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Object directory", cfg.Storage.LocalDir))
	}

	if s3, ok := backend.(*storage.S3); ok {
		results = append(results, CheckS3Bucket(ctx, s3))
	}
	results = append(results, CheckObjectStore(ctx, backend))

	if cfg.Jobs.Broker == config.BrokerRedis {
		results = append(results, CheckRedis(ctx, cfg.Jobs))
	}

	results = append(results, CheckLegacySource(ctx, cfg.Migration))

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failures returns the results that did not pass.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
