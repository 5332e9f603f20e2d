package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctkeeper.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
storage_dir: /var/lib/ctkeeper
fetch_command: /usr/local/bin/sct-fetch
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.MaxSCTAge.Std() != DefaultSCTAge {
		t.Errorf("MaxSCTAge = %v, want default %v", cfg.MaxSCTAge.Std(), DefaultSCTAge)
	}
	if cfg.RefreshInterval.Std() != DefaultRefreshInterval {
		t.Errorf("RefreshInterval = %v, want default %v", cfg.RefreshInterval.Std(), DefaultRefreshInterval)
	}
	if cfg.Enforcement != EnforceCollect {
		t.Errorf("Enforcement = %q, want collect", cfg.Enforcement)
	}
	if cfg.CacheSize != DefaultCacheSize || cfg.Workers != DefaultWorkers {
		t.Errorf("CacheSize/Workers = %d/%d, want defaults", cfg.CacheSize, cfg.Workers)
	}
}

func TestLoadClampsSCTAge(t *testing.T) {
	tests := []struct {
		name string
		age  string
		want time.Duration
	}{
		{"below minimum", "10m", MinSCTAge},
		{"above maximum", "2160h", MaxSCTAge},
		{"in range", "48h", 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, `
storage_dir: /var/lib/ctkeeper
fetch_command: /usr/local/bin/sct-fetch
max_sct_age: `+tt.age+"\n"))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.MaxSCTAge.Std() != tt.want {
				t.Errorf("MaxSCTAge = %v, want %v", cfg.MaxSCTAge.Std(), tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"missing storage dir",
			"fetch_command: /bin/fetch\n",
			"storage_dir is required",
		},
		{
			"missing fetch command",
			"storage_dir: /tmp/s\n",
			"fetch_command is required",
		},
		{
			"bad enforcement",
			"storage_dir: /tmp/s\nfetch_command: /bin/fetch\nenforcement: panic\n",
			"enforcement must be one of",
		},
		{
			"both log list sources",
			"storage_dir: /tmp/s\nfetch_command: /bin/fetch\nlog_list_url: https://x\nlog_list_file: /tmp/l\n",
			"mutually exclusive",
		},
		{
			"static log without key",
			"storage_dir: /tmp/s\nfetch_command: /bin/fetch\nstatic_logs:\n  - url: https://log.example/\n",
			"exactly one of public_key or key_file",
		},
		{
			"unknown field",
			"storage_dir: /tmp/s\nfetch_command: /bin/fetch\nbogus_key: 1\n",
			"bogus_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestConfigErrorCollectsAllProblems(t *testing.T) {
	cfg := &Config{Enforcement: "bogus", RefreshInterval: Duration(time.Second), CacheSize: -1, Workers: 500}
	err := cfg.Validate()
	ce, ok := err.(*ConfigError)
	if !ok {
		t.Fatalf("Validate() = %T, want *ConfigError", err)
	}
	if len(ce.Problems) < 5 {
		t.Errorf("got %d problems, want every issue reported at once:\n%v", len(ce.Problems), ce.Problems)
	}
}
