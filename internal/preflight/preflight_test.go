package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"handoverphotos/internal/config"
	"handoverphotos/internal/storage"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckObjectStore(t *testing.T) {
	backend, err := storage.NewLocal(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	result := CheckObjectStore(context.Background(), backend)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if _, err := backend.Get(context.Background(), canaryKey); err == nil {
		t.Fatal("canary object was left behind")
	}

	if result := CheckObjectStore(context.Background(), nil); result.Passed {
		t.Fatal("expected failure without a backend")
	}
}

func TestCheckLegacySource_JSON(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Migration{LegacySource: config.LegacyJSON, LegacyJSONPath: filepath.Join(dir, "legacy.json")}

	if result := CheckLegacySource(context.Background(), cfg); !result.Passed || !strings.Contains(result.Detail, "not present") {
		t.Fatalf("missing dump should pass with a note, got %+v", result)
	}
	if err := os.WriteFile(cfg.LegacyJSONPath, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckLegacySource(context.Background(), cfg); !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}

	cfg.LegacyJSONPath = dir
	if result := CheckLegacySource(context.Background(), cfg); result.Passed {
		t.Fatal("expected failure for a directory")
	}
}

func TestCheckLegacySource_PostgresWithoutDSN(t *testing.T) {
	result := CheckLegacySource(context.Background(), config.Migration{LegacySource: config.LegacyPostgres})
	if result.Passed {
		t.Fatal("expected failure without a dsn")
	}
}

func TestCheckNtfy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/private") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/handover"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckNtfy(context.Background(), srv.URL+"/private"); result.Passed {
		t.Fatal("expected failure for forbidden topic")
	}
	if result := CheckNtfy(context.Background(), ""); result.Passed {
		t.Fatal("expected failure for missing topic")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_LocalConfig(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Storage.LocalDir = filepath.Join(base, "objects")
	cfg.Migration.LegacyJSONPath = filepath.Join(base, "legacy.json")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	backend, err := storage.NewLocal(cfg.Storage.LocalDir, "")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	results := RunAll(context.Background(), &cfg, backend)
	// data, logs, objects, object store round trip, legacy source
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if failed := Failures(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_RedisBrokerAddsCheck(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = base
	cfg.Paths.LogDir = base
	cfg.Storage.LocalDir = base
	cfg.Migration.LegacyJSONPath = filepath.Join(base, "legacy.json")
	cfg.Jobs.Broker = config.BrokerRedis
	cfg.Jobs.RedisAddr = "127.0.0.1:1"

	results := RunAll(context.Background(), &cfg, nil)
	var redisResult *Result
	for i := range results {
		if results[i].Name == "Redis" {
			redisResult = &results[i]
		}
	}
	if redisResult == nil {
		t.Fatal("expected Redis check in results")
	}
	if redisResult.Passed {
		t.Fatal("expected unreachable redis to fail")
	}
	if len(Failures(results)) < 2 {
		t.Fatalf("expected object store and redis failures, got %+v", Failures(results))
	}
}
