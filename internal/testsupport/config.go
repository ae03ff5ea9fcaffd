package testsupport

import (
	"path/filepath"
	"testing"

	"handoverphotos/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Storage.LocalDir = filepath.Join(base, "objects")
	cfgVal.Migration.LegacyJSONPath = filepath.Join(base, "legacy.json")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPublicBaseURL sets the URL prefix used for stored objects.
func WithPublicBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.PublicBaseURL = url
	}
}

// WithFlag seeds a rollout flag on the test config.
func WithFlag(seed config.FlagSeed) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rollout.Flags = append(b.cfg.Rollout.Flags, seed)
	}
}

// WithPhotoUploadEnabled seeds the photo upload flag fully enabled.
func WithPhotoUploadEnabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rollout.Flags = append(b.cfg.Rollout.Flags, config.FlagSeed{
			Key:        b.cfg.Rollout.PhotoUploadKey,
			Enabled:    true,
			Percentage: 100,
		})
	}
}

// WithWorkers overrides the job worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Jobs.Workers = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
