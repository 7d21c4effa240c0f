package adapter

import (
	"errors"
	"testing"
	"time"

	"portico/pkg/kernel"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	cfg := Config{}.Normalize()
	if cfg.Timeout != DefaultTimeout {
		t.Fatalf("expected default timeout, got %v", cfg.Timeout)
	}
	if cfg.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("expected default body limit, got %d", cfg.MaxBodyBytes)
	}
	if cfg.Logger == nil {
		t.Fatalf("expected a non-nil logger")
	}
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := Config{Timeout: 5 * time.Second, MaxBodyBytes: 64}.Normalize()
	if cfg.Timeout != 5*time.Second || cfg.MaxBodyBytes != 64 {
		t.Fatalf("expected explicit values preserved, got %v %d", cfg.Timeout, cfg.MaxBodyBytes)
	}
}

func TestNegativeValuesDisableBounds(t *testing.T) {
	cfg := Config{Timeout: -1, MaxBodyBytes: -1}.Normalize()
	if cfg.TimeoutEnabled() {
		t.Fatalf("expected negative timeout to disable the bound")
	}
	if cfg.BodyLimited() {
		t.Fatalf("expected negative body limit to disable the bound")
	}
}

func TestResolveEnvironmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("DB_CONNECTION", "")
	env := ResolveEnvironment(PlatformFaaS)
	if env.Mode != "development" {
		t.Fatalf("expected development default, got %q", env.Mode)
	}
	if env.DBConnection != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", env.DBConnection)
	}
	if env.Runtime != PlatformFaaS {
		t.Fatalf("expected runtime tag, got %q", env.Runtime)
	}
	if env.IsProduction() {
		t.Fatalf("expected non-production mode")
	}
}

func TestResolveEnvironmentReadsVars(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_CONNECTION", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5432")
	env := ResolveEnvironment(PlatformServer)
	if !env.IsProduction() {
		t.Fatalf("expected production mode")
	}
	if env.DBConnection != "postgres" || env.DBHost != "db.internal" || env.DBPort != "5432" {
		t.Fatalf("unexpected database coordinates: %+v", env)
	}
}

func TestAppCacheBuildsOnce(t *testing.T) {
	var cache AppCache
	builds := 0
	build := func() (kernel.Handler, error) {
		builds++
		return kernel.HandlerFunc(func(*kernel.Request, *kernel.ResponseWriter, []byte) error {
			return nil
		}), nil
	}

	h1, cold, err := cache.Get(build)
	if err != nil || !cold {
		t.Fatalf("expected cold first build, got cold=%v err=%v", cold, err)
	}
	h2, cold, err := cache.Get(build)
	if err != nil || cold {
		t.Fatalf("expected warm second call, got cold=%v err=%v", cold, err)
	}
	if builds != 1 {
		t.Fatalf("expected exactly one build, got %d", builds)
	}
	if h1 == nil || h2 == nil {
		t.Fatalf("expected non-nil handlers")
	}
}

func TestAppCacheRetriesAfterFailure(t *testing.T) {
	var cache AppCache
	calls := 0
	failing := func() (kernel.Handler, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boot failed")
		}
		return kernel.HandlerFunc(func(*kernel.Request, *kernel.ResponseWriter, []byte) error {
			return nil
		}), nil
	}

	if _, _, err := cache.Get(failing); err == nil {
		t.Fatalf("expected first build to fail")
	}
	h, cold, err := cache.Get(failing)
	if err != nil || !cold || h == nil {
		t.Fatalf("expected successful retry, got cold=%v err=%v", cold, err)
	}
}

func TestAppCacheReset(t *testing.T) {
	var cache AppCache
	builds := 0
	build := func() (kernel.Handler, error) {
		builds++
		return kernel.HandlerFunc(func(*kernel.Request, *kernel.ResponseWriter, []byte) error {
			return nil
		}), nil
	}
	cache.Get(build)
	cache.Reset()
	_, cold, _ := cache.Get(build)
	if !cold || builds != 2 {
		t.Fatalf("expected rebuild after reset, cold=%v builds=%d", cold, builds)
	}
}
