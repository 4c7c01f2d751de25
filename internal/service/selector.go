package service

import (
	"context"
	"fmt"

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
)

// SelectBranch returns the first authorized branch, in priority order, with
// remaining capacity on day. It never load-balances: printed labels and
// statistics depend on a reproducible fill order. The reads are advisory and
// the conditional increment has the final say.
func SelectBranch(ctx context.Context, reader db.CapacityReader, auth models.CallerAuthorization, day string) (int, error) {
	for _, branch := range auth.Branches {
		limit, err := reader.GetQuota(ctx, auth.OfficeID, branch)
		if err != nil {
			return 0, fmt.Errorf("read quota for branch %d: %w", branch, err)
		}
		used, err := reader.GetUsage(ctx, auth.OfficeID, branch, day)
		if err != nil {
			return 0, fmt.Errorf("read usage for branch %d: %w", branch, err)
		}
		if used < limit {
			return branch, nil
		}
	}
	return 0, ErrExhausted
}

// BranchCapacity reports usage and limit of every authorized branch for day.
func BranchCapacity(ctx context.Context, reader db.CapacityReader, auth models.CallerAuthorization, day string) ([]models.BranchUsage, error) {
	out := make([]models.BranchUsage, 0, len(auth.Branches))
	for _, branch := range auth.Branches {
		limit, err := reader.GetQuota(ctx, auth.OfficeID, branch)
		if err != nil {
			return nil, err
		}
		used, err := reader.GetUsage(ctx, auth.OfficeID, branch, day)
		if err != nil {
			return nil, err
		}
		out = append(out, models.BranchUsage{
			OfficeID:     auth.OfficeID,
			BranchNumber: branch,
			Day:          day,
			Used:         used,
			Capacity:     limit,
		})
	}
	return out, nil
}
