package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "liberate.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsApplied(t *testing.T) {
	path := writeConfigFile(t, `
dataDir: /tmp/liberate-data
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Limits.DailyPosts != DefaultDailyPostLimit {
		t.Errorf("DailyPosts = %d, want default %d", cfg.Limits.DailyPosts, DefaultDailyPostLimit)
	}
	if cfg.Limits.DailyScrollSeconds != DefaultDailyScrollSeconds {
		t.Errorf("DailyScrollSeconds = %d, want default %d", cfg.Limits.DailyScrollSeconds, DefaultDailyScrollSeconds)
	}
	if cfg.Limits.ScrollWarningSeconds != DefaultScrollWarningSeconds {
		t.Errorf("ScrollWarningSeconds = %d, want default %d", cfg.Limits.ScrollWarningSeconds, DefaultScrollWarningSeconds)
	}
	if cfg.Reactive.HistoryCapacity != DefaultHistoryCapacity {
		t.Errorf("HistoryCapacity = %d, want default %d", cfg.Reactive.HistoryCapacity, DefaultHistoryCapacity)
	}
	if cfg.Reactive.DebounceInterval != DefaultDebounceInterval {
		t.Errorf("DebounceInterval = %v, want default %v", cfg.Reactive.DebounceInterval, DefaultDebounceInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadConfig_FullFile(t *testing.T) {
	path := writeConfigFile(t, `
dataDir: /var/lib/liberate
logging:
  level: debug
reactive:
  historyCapacity: 50
  debounceInterval: 250ms
limits:
  dailyPosts: 5
  dailyScrollSeconds: 3600
  scrollWarningSeconds: 600
cache:
  standard-ttl: 30s
rateLimiters:
  users:
    limit: 100
    burst: 20
  default:
    limit: 50
    burst: 10
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Limits.DailyPosts != 5 {
		t.Errorf("DailyPosts = %d, want 5", cfg.Limits.DailyPosts)
	}
	if cfg.Reactive.DebounceInterval != 250*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 250ms", cfg.Reactive.DebounceInterval)
	}
	if cfg.Cache.StandardTTL != 30*time.Second {
		t.Errorf("StandardTTL = %v, want 30s", cfg.Cache.StandardTTL)
	}
	if cfg.RateLimiters.Users.Limit != 100 || cfg.RateLimiters.Users.Burst != 20 {
		t.Errorf("Users limiter = %+v", cfg.RateLimiters.Users)
	}
}

func TestLoadConfig_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
		wantErr  error
	}{
		{
			name:     "missing dataDir",
			contents: "logging:\n  level: info\n",
			wantErr:  ErrDataDirMissing,
		},
		{
			name:     "negative limit",
			contents: "dataDir: /tmp/x\nlimits:\n  dailyPosts: -1\n",
			wantErr:  ErrNegativeLimit,
		},
		{
			name:     "warning not below budget",
			contents: "dataDir: /tmp/x\nlimits:\n  dailyScrollSeconds: 300\n  scrollWarningSeconds: 300\n",
			wantErr:  ErrWarningExceedsBudget,
		},
		{
			name:     "unparseable yaml",
			contents: "dataDir: [broken",
			wantErr:  ErrConfigFileUnmarshallable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.contents)
			_, err := LoadConfig(path)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("LoadConfig() error = %v, want %v", err, tc.wantErr)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		if !errors.Is(err, ErrConfigFileMissing) {
			t.Errorf("LoadConfig() error = %v, want %v", err, ErrConfigFileMissing)
		}
	})
}
