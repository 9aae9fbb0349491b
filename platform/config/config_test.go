package config

import (
	"testing"
	"time"
)

func TestLoadAppliesPipelineDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")
	t.Setenv("SMTP_HOST", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.GetLeadBatchSize() != 50 {
		t.Fatalf("expected lead batch size 50, got %d", cfg.GetLeadBatchSize())
	}
	if cfg.GetEvaluationCooldown() != 7*24*time.Hour {
		t.Fatalf("expected 7 day cooldown, got %s", cfg.GetEvaluationCooldown())
	}
	if cfg.GetStoreTimeout() != 10*time.Second {
		t.Fatalf("expected 10s store timeout, got %s", cfg.GetStoreTimeout())
	}
	if cfg.GetEmailEnabled() {
		t.Fatalf("expected email disabled without SMTP host")
	}
	if cfg.IsMinIOEnabled() {
		t.Fatalf("expected MinIO disabled without endpoint")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected split result %v", got)
	}
}
