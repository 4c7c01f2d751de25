package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/kelaseh/backend/internal/config"
	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/db/memory"
	"github.com/kelaseh/backend/internal/db/postgres"
	"github.com/kelaseh/backend/internal/db/sqlite"
)

// openStore picks the backend from the DATABASE_URL scheme and bootstraps its schema.
func openStore(ctx context.Context, databaseURL string, defaultCapacity int) (db.Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		s, err := postgres.New(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		s.DefaultCapacity = defaultCapacity
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		s, err := sqlite.Open(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))
		if err != nil {
			return nil, err
		}
		s.DefaultCapacity = defaultCapacity
		return s, nil
	case databaseURL == "memory://":
		s := memory.NewStore()
		s.DefaultCapacity = defaultCapacity
		return s, nil
	}
	return nil, fmt.Errorf("unsupported DATABASE_URL %q", databaseURL)
}

// loadQuotas reads the quota file, if any, and resolves the default capacity
// it may override.
func loadQuotas(path string, defaultCapacity int) (config.QuotaFile, int, error) {
	if path == "" {
		return config.QuotaFile{}, defaultCapacity, nil
	}
	qf, err := config.LoadQuotaFile(path)
	if err != nil {
		return config.QuotaFile{}, 0, err
	}
	if qf.DefaultCapacity > 0 {
		defaultCapacity = qf.DefaultCapacity
	}
	return qf, defaultCapacity, nil
}

// seedQuotas applies per-branch overrides on top of stored quotas.
func seedQuotas(ctx context.Context, store db.Store, qf config.QuotaFile) (int, error) {
	quotas := qf.Quotas()
	for _, q := range quotas {
		if err := store.SetQuota(ctx, q); err != nil {
			return 0, fmt.Errorf("seed quota office %d branch %d: %w", q.OfficeID, q.BranchNumber, err)
		}
	}
	return len(quotas), nil
}
