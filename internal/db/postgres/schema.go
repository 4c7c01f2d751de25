package postgres

import (
	"context"
	"fmt"
)

// Migrate creates all tables. Safe to call multiple times.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    office_id BIGINT NOT NULL,
    branch_from INT NOT NULL,
    branch_to INT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (branch_from > 0 AND branch_to >= branch_from)
);

CREATE TABLE IF NOT EXISTS capacity_quotas (
    office_id BIGINT NOT NULL,
    branch_number INT NOT NULL,
    capacity INT NOT NULL CHECK (capacity > 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (office_id, branch_number)
);

CREATE TABLE IF NOT EXISTS daily_usage (
    office_id BIGINT NOT NULL,
    branch_number INT NOT NULL,
    day DATE NOT NULL,
    count_used INT NOT NULL DEFAULT 0 CHECK (count_used >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (office_id, branch_number, day)
);

CREATE INDEX IF NOT EXISTS idx_daily_usage_day ON daily_usage(day);

CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE CHECK (code ~ '^[1-9][0-9]{5}$'),
    office_id BIGINT NOT NULL,
    branch_number INT NOT NULL,
    owner_id BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'voided')),
    day DATE NOT NULL,
    plaintiff_name TEXT NOT NULL,
    plaintiff_national_code TEXT NOT NULL,
    plaintiff_mobile TEXT NOT NULL DEFAULT '',
    plaintiff_address TEXT NOT NULL DEFAULT '',
    defendant_name TEXT NOT NULL,
    defendant_national_code TEXT NOT NULL,
    defendant_mobile TEXT NOT NULL DEFAULT '',
    defendant_address TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_cases_office_branch_day ON cases(office_id, branch_number, day);

CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    actor_id BIGINT NOT NULL,
    action TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    office_id BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
`
