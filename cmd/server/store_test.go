package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenStoreSchemes(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, "memory://", 20)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if limit, _ := mem.GetQuota(ctx, 1, 1); limit != 20 {
		t.Fatalf("expected default capacity 20, got %d", limit)
	}

	path := filepath.Join(t.TempDir(), "kelaseh.db")
	lite, err := openStore(ctx, "sqlite://"+path, 12)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer lite.Close()
	if limit, _ := lite.GetQuota(ctx, 1, 1); limit != 12 {
		t.Fatalf("expected default capacity 12, got %d", limit)
	}

	if _, err := openStore(ctx, "mysql://localhost", 15); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestSeedQuotas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quotas.yaml")
	data := "default_capacity: 9\noffices:\n  - office_id: 2\n    branches:\n      - number: 1\n        capacity: 3\n      - number: 2\n        capacity: 40\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	qf, def, err := loadQuotas(path, 15)
	if err != nil || def != 9 {
		t.Fatalf("load: default=%d err=%v", def, err)
	}
	store, _ := openStore(ctx, "memory://", def)
	n, err := seedQuotas(ctx, store, qf)
	if err != nil || n != 2 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	if limit, _ := store.GetQuota(ctx, 2, 2); limit != 40 {
		t.Fatalf("expected 40, got %d", limit)
	}
	if limit, _ := store.GetQuota(ctx, 2, 3); limit != 9 {
		t.Fatalf("expected file default 9, got %d", limit)
	}
	if _, def, err := loadQuotas("", 15); err != nil || def != 15 {
		t.Fatalf("empty path should keep the configured default")
	}
}
