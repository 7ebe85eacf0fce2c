package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/adrg/xdg"

	cfg "github.com/NamanBalaji/rdm/internal/config"
)

func withTempConfigHome(t *testing.T) (restore func(), dir string, file string) {
	t.Helper()
	orig := xdg.ConfigHome
	dir = t.TempDir()
	xdg.ConfigHome = dir
	restore = func() { xdg.ConfigHome = orig }
	file = filepath.Join(dir, "rdm")
	return
}

func TestGetConfig_Table(t *testing.T) {
	restore, _, cfgFile := withTempConfigHome(t)
	defer restore()

	def := cfg.DefaultConfig()

	tests := []struct {
		name      string
		preWrite  bool
		contents  string
		expectErr bool
		check     func(t *testing.T, got *cfg.Config, def cfg.Config)
	}{
		{
			name:     "missing_file_returns_defaults",
			preWrite: false,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:     "empty_file_returns_defaults",
			preWrite: true,
			contents: "",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:      "invalid_yaml_returns_error",
			preWrite:  true,
			contents:  ": not yaml",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
		{
			name:     "no_subconfigs_uses_defaults_for_nested",
			preWrite: true,
			contents: "poolSize: 1\n",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.PoolSize != 1 {
					t.Fatalf("poolSize not applied, got %d", got.PoolSize)
				}
				if !reflect.DeepEqual(*got.Http, *def.Http) {
					t.Fatalf("http defaults not applied\nwant: %#v\ngot:  %#v", *def.Http, *got.Http)
				}
				if !reflect.DeepEqual(*got.Progress, *def.Progress) {
					t.Fatalf("progress defaults not applied\nwant: %#v\ngot:  %#v", *def.Progress, *got.Progress)
				}
			},
		},
		{
			name:     "partial_override_and_fallback",
			preWrite: true,
			contents: `
poolSize: 4
listen: 127.0.0.1:9000
http:
  chunkSize: 1024
  readTimeout: 3s
  checkFreeSpace: false
progress:
  backend: bolt
  dbPath: /tmp/rdm-test.db
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.PoolSize != 4 {
					t.Fatalf("want poolSize=4 got %d", got.PoolSize)
				}
				if got.Listen != "127.0.0.1:9000" {
					t.Fatalf("want listen override got %q", got.Listen)
				}
				if got.Http.ChunkSize != 1024 {
					t.Fatalf("want http.chunkSize=1024 got %d", got.Http.ChunkSize)
				}
				if got.Http.ReadTimeout != 3*time.Second {
					t.Fatalf("want http.readTimeout=3s got %s", got.Http.ReadTimeout)
				}
				if got.Http.FreeSpaceCheck() {
					t.Fatalf("want checkFreeSpace=false")
				}
				if got.Http.DownloadDir != def.Http.DownloadDir {
					t.Fatalf("want http.dir default %q got %q", def.Http.DownloadDir, got.Http.DownloadDir)
				}
				if got.Http.UserAgent != def.Http.UserAgent {
					t.Fatalf("want http.userAgent default %q got %q", def.Http.UserAgent, got.Http.UserAgent)
				}
				if got.Http.ConnectTimeout != def.Http.ConnectTimeout {
					t.Fatalf("want http.connectTimeout default %s got %s", def.Http.ConnectTimeout, got.Http.ConnectTimeout)
				}
				if got.Progress.Backend != cfg.BackendBolt || got.Progress.DBPath != "/tmp/rdm-test.db" {
					t.Fatalf("progress override not applied: %#v", *got.Progress)
				}
			},
		},
		{
			name:     "request_headers",
			preWrite: true,
			contents: "http:\n  headers:\n    Authorization: Bearer abc\n    X-Mirror: eu\n",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				want := map[string]string{"Authorization": "Bearer abc", "X-Mirror": "eu"}
				if !reflect.DeepEqual(got.Http.Headers, want) {
					t.Fatalf("want http.headers %v got %v", want, got.Http.Headers)
				}
				if got.Http.ChunkSize != def.Http.ChunkSize {
					t.Fatalf("want http.chunkSize default %d got %d", def.Http.ChunkSize, got.Http.ChunkSize)
				}
			},
		},
		{
			name:      "unknown_backend_rejected",
			preWrite:  true,
			contents:  "progress:\n  backend: redis\n",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
		{
			name:      "negative_pool_size_rejected",
			preWrite:  true,
			contents:  "poolSize: -2\n",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(cfgFile)
			if tt.preWrite {
				if err := os.WriteFile(cfgFile, []byte(tt.contents), 0o644); err != nil {
					t.Fatalf("write config: %v", err)
				}
			}

			got, err := cfg.GetConfig()
			if tt.expectErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			tt.check(t, got, def)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *cfg.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *cfg.Config) {}},
		{name: "zero chunk size", mutate: func(c *cfg.Config) { c.Http.ChunkSize = 0 }, wantErr: true},
		{name: "negative read timeout", mutate: func(c *cfg.Config) { c.Http.ReadTimeout = -time.Second }, wantErr: true},
		{name: "bolt without path", mutate: func(c *cfg.Config) {
			c.Progress.Backend = cfg.BackendBolt
			c.Progress.DBPath = ""
		}, wantErr: true},
		{name: "missing http", mutate: func(c *cfg.Config) { c.Http = nil }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg.DefaultConfig()
			tt.mutate(&c)

			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
