package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kelaseh/backend/internal/models"
)

type capacityTable struct {
	quota map[int]int
	usage map[int]int
}

func (c capacityTable) GetQuota(_ context.Context, _ int64, branch int) (int, error) {
	if q, ok := c.quota[branch]; ok {
		return q, nil
	}
	return models.DefaultCapacity, nil
}

func (c capacityTable) GetUsage(_ context.Context, _ int64, branch int, _ string) (int, error) {
	return c.usage[branch], nil
}

func TestSelectBranchPicksFirstAvailable(t *testing.T) {
	table := capacityTable{
		quota: map[int]int{1: 10, 2: 10, 3: 10},
		usage: map[int]int{1: 10, 2: 9, 3: 0},
	}
	branch, err := SelectBranch(context.Background(), table, caller(1, 1, 2, 3), "2026-03-01")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if branch != 2 {
		t.Fatalf("expected branch 2, got %d", branch)
	}
}

func TestSelectBranchUsesDefaultQuota(t *testing.T) {
	table := capacityTable{usage: map[int]int{1: models.DefaultCapacity - 1}}
	branch, err := SelectBranch(context.Background(), table, caller(1, 1, 2), "2026-03-01")
	if err != nil || branch != 1 {
		t.Fatalf("expected branch 1, got %d (%v)", branch, err)
	}
}

func TestSelectBranchExhausted(t *testing.T) {
	table := capacityTable{
		quota: map[int]int{1: 1, 2: 2},
		usage: map[int]int{1: 1, 2: 2},
	}
	_, err := SelectBranch(context.Background(), table, caller(1, 1, 2), "2026-03-01")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestBranchCapacity(t *testing.T) {
	table := capacityTable{
		quota: map[int]int{4: 20},
		usage: map[int]int{4: 3, 5: 15},
	}
	rows, err := BranchCapacity(context.Background(), table, caller(1, 4, 5), "2026-03-01")
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if len(rows) != 2 || rows[0].Capacity != 20 || rows[0].Used != 3 || rows[1].Capacity != models.DefaultCapacity {
		t.Fatalf("unexpected rows %+v", rows)
	}
}
