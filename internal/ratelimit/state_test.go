package ratelimit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHibernateThenRestoreRecoversResetTime(t *testing.T) {
	dir := t.TempDir()
	plan := NewMarkdownPlanStore(filepath.Join(dir, "plan.md"))
	mgr := NewStateManager(dir, plan)

	resetAt := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	if err := mgr.Hibernate(resetAt, "task-42"); err != nil {
		t.Fatalf("Hibernate: %v", err)
	}

	got, ok, err := mgr.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !ok {
		t.Fatalf("expected a pending hibernation to be restored")
	}
	if !got.Equal(resetAt) {
		t.Fatalf("want %v, got %v", resetAt, got)
	}
}

func TestRestoreWithNoPriorHibernationReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	mgr := NewStateManager(dir, NewMarkdownPlanStore(filepath.Join(dir, "plan.md")))

	_, ok, err := mgr.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if ok {
		t.Fatalf("expected no hibernation marker in a fresh state dir")
	}
}

func TestClearRemovesMarker(t *testing.T) {
	dir := t.TempDir()
	plan := NewMarkdownPlanStore(filepath.Join(dir, "plan.md"))
	mgr := NewStateManager(dir, plan)

	if err := mgr.Hibernate(time.Now().Add(time.Minute), ""); err != nil {
		t.Fatalf("Hibernate: %v", err)
	}
	if err := mgr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, ok, err := mgr.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if ok {
		t.Fatalf("expected marker to be gone after Clear")
	}
}

func TestHibernateWritesRestartContextAndRewritesGoalBanner(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.md")
	if err := os.WriteFile(planPath, []byte("## Current Goal\n\nShip the relay server.\n\n## Progress\n"), 0o644); err != nil {
		t.Fatalf("seeding plan file: %v", err)
	}
	plan := NewMarkdownPlanStore(planPath)
	mgr := NewStateManager(dir, plan)

	resetAt := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	if err := mgr.Hibernate(resetAt, "task-1"); err != nil {
		t.Fatalf("Hibernate: %v", err)
	}

	restartContext, err := os.ReadFile(filepath.Join(dir, "restart-context.md"))
	if err != nil {
		t.Fatalf("reading restart-context.md: %v", err)
	}
	if !strings.Contains(string(restartContext), "task-1") {
		t.Fatalf("expected restart context to reference the interrupted task id")
	}
	if !strings.Contains(string(restartContext), "Ship the relay server.") {
		t.Fatalf("expected restart context to include the plan snapshot")
	}

	rewritten, err := os.ReadFile(planPath)
	if err != nil {
		t.Fatalf("reading rewritten plan: %v", err)
	}
	if !strings.Contains(string(rewritten), "RATE LIMITED") {
		t.Fatalf("expected plan's Current Goal to carry the rate-limited banner")
	}
	if !strings.Contains(string(rewritten), "Ship the relay server.") {
		t.Fatalf("expected the original goal to remain beneath the banner")
	}
}
