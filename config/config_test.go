package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 4000 || cfg.GraphQLPath != "/graphql" || cfg.StoreDriver != DriverSQLite {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.WSInitTimeout != 3*time.Second || cfg.BusBuffer != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Addr() != ":4000" {
		t.Fatalf("unexpected addr %s", cfg.Addr())
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planner.yaml")
	data := "port: 5000\ngraphql_path: /gql\nws_init_timeout: 5s\nevents_channel: from-file\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6000")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 6000 {
		t.Fatalf("expected env port, got %d", cfg.Port)
	}
	if cfg.GraphQLPath != "/gql" || cfg.WSInitTimeout != 5*time.Second || cfg.EventsChannel != "from-file" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !cfg.Debug {
		t.Fatalf("expected debug")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "abc")
	t.Setenv("WS_INIT_TIMEOUT", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"PORT", "WS_INIT_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error: %v", key, err)
		}
	}
}

func TestValidateAzureRequiresConnection(t *testing.T) {
	cfg := Defaults()
	cfg.StoreDriver = DriverAzure
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing storage config error")
	}
	cfg.StorageConnectionString = "UseDevelopmentStorage=true"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.StoreDriver = "mongo"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestParseRedisConnectionString(t *testing.T) {
	opts, err := ParseRedisConnectionString("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = ParseRedisConnectionString("cache.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse azure: %v", err)
	}
	if opts.Addr != "cache.redis.cache.windows.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := ParseRedisConnectionString(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}
