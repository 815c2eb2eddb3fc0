package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("STAYCAL_FEED_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("expected addr from env, got %q", cfg.Addr)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected MinioUseSSL from env")
	}
	if cfg.FeedTimeout != 15*time.Second {
		t.Fatalf("expected fallback feed timeout, got %s", cfg.FeedTimeout)
	}
}

func TestLocationFallsBackToLocal(t *testing.T) {
	if got := (Config{Timezone: "Nowhere/Invalid"}).Location(); got != time.Local {
		t.Fatalf("expected local zone, got %v", got)
	}
	if got := (Config{Timezone: "UTC"}).Location(); got.String() != "UTC" {
		t.Fatalf("expected UTC, got %v", got)
	}
}

func TestLoadPolicyFirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "policy.yaml")

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if policy.PhoneRegion != "ES" || len(policy.FeedLabels.Reserved) == 0 {
		t.Fatalf("expected defaults, got %+v", policy)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat policy file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
}

func TestLoadPolicyNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	contents := "occupancy_excluded_room: \" Studio \"\nphone_region: us\nfeed_labels:\n  reserved: [Booked]\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if policy.OccupancyExcludedRoom != "Studio" {
		t.Fatalf("expected trimmed room name, got %q", policy.OccupancyExcludedRoom)
	}
	if policy.PhoneRegion != "US" {
		t.Fatalf("expected upper-cased region, got %q", policy.PhoneRegion)
	}
	if len(policy.FeedLabels.Reserved) != 1 || policy.FeedLabels.Reserved[0] != "Booked" {
		t.Fatalf("unexpected reserved labels %v", policy.FeedLabels.Reserved)
	}
	if len(policy.FeedLabels.Blocked) != 2 {
		t.Fatalf("expected default blocked labels, got %v", policy.FeedLabels.Blocked)
	}
	if policy.AdvisoryTTL() != 24*time.Hour {
		t.Fatalf("unexpected advisory ttl %s", policy.AdvisoryTTL())
	}
}
