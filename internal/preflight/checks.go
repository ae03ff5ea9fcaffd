package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"handoverphotos/internal/config"
	"handoverphotos/internal/migration"
	"handoverphotos/internal/storage"
)

const canaryKey = ".preflight/canary"

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckObjectStore writes, reads back, and deletes a canary object.
func CheckObjectStore(ctx context.Context, backend storage.Backend) Result {
	const name = "Object store"
	if backend == nil {
		return Result{Name: name, Detail: "backend unavailable"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	payload := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := backend.Put(checkCtx, canaryKey, payload, "text/plain"); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s write failed (%s)", backend.Name(), summarize(err))}
	}
	got, err := backend.Get(checkCtx, canaryKey)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s read failed (%s)", backend.Name(), summarize(err))}
	}
	if string(got) != string(payload) {
		return Result{Name: name, Detail: fmt.Sprintf("%s returned different bytes", backend.Name())}
	}
	if err := backend.Delete(checkCtx, canaryKey); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s delete failed (%s)", backend.Name(), summarize(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s read/write ok", backend.Name())}
}

// CheckS3Bucket confirms the bucket exists and the credentials reach it.
func CheckS3Bucket(ctx context.Context, backend *storage.S3) Result {
	const name = "S3 bucket"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := backend.Client().HeadBucket(checkCtx, &s3.HeadBucketInput{Bucket: aws.String(backend.Bucket())})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", backend.Bucket(), summarize(err))}
	}
	return Result{Name: name, Passed: true, Detail: backend.Bucket()}
}

// CheckRedis pings the Redis instance backing the job broker.
func CheckRedis(ctx context.Context, cfg config.Jobs) Result {
	const name = "Redis"
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return Result{Name: name, Detail: "missing address"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})
	defer client.Close()

	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", cfg.RedisAddr, summarize(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", cfg.RedisAddr)}
}

// CheckLegacySource verifies the configured legacy protocol store can be
// read. A JSON dump that does not exist yet passes; the migration endpoints
// report the missing file when used.
func CheckLegacySource(ctx context.Context, cfg config.Migration) Result {
	const name = "Legacy source"
	switch cfg.LegacySource {
	case config.LegacyPostgres:
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		reader, err := migration.NewPostgresReader(checkCtx, cfg.LegacyDSN)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("postgres (%s)", summarize(err))}
		}
		reader.Close()
		return Result{Name: name, Passed: true, Detail: "postgres reachable"}
	case config.LegacyJSON:
		if cfg.LegacyJSONPath == "" {
			return Result{Name: name, Detail: "json (migration.legacy_json_path is not set)"}
		}
		info, err := os.Stat(cfg.LegacyJSONPath)
		switch {
		case os.IsNotExist(err):
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not present)", cfg.LegacyJSONPath)}
		case err != nil:
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", cfg.LegacyJSONPath, err)}
		case info.IsDir():
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", cfg.LegacyJSONPath)}
		}
		if err := unix.Access(cfg.LegacyJSONPath, unix.R_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", cfg.LegacyJSONPath, err)}
		}
		return Result{Name: name, Passed: true, Detail: cfg.LegacyJSONPath}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unknown source %q", cfg.LegacySource)}
	}
}

// CheckNtfy verifies the ntfy server answers for the topic URL.
func CheckNtfy(ctx context.Context, topic string) Result {
	const name = "ntfy"
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{Name: name, Detail: "missing topic"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, strings.TrimRight(topic, "/")+"/json?poll=1&since=none", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url (%v)", err)}
	}
	resp, err := cleanhttp.DefaultClient().Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "topic requires authentication"}
	case resp.StatusCode >= 400:
		return Result{Name: name, Detail: fmt.Sprintf("topic check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

func summarize(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
