package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), logger.Nop(), "op", 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success after 2 calls, got %d calls and %v", calls, err)
	}
}

func TestWithRetryWrapsLastError(t *testing.T) {
	boom := errors.New("boom")
	err := WithRetry(context.Background(), logger.Nop(), "op", 2, time.Millisecond, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestWithRetryRejectsZeroAttempts(t *testing.T) {
	if err := WithRetry(context.Background(), logger.Nop(), "op", 0, time.Millisecond, func() error { return nil }); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}

func TestLoadSettingsDefaultsWithoutPath(t *testing.T) {
	s, err := loadSettings("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s == nil || s.Catalog == nil || len(s.Catalog.Stages()) == 0 {
		t.Fatalf("expected default catalog")
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := loadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
