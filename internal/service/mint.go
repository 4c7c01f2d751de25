package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"

	"github.com/kelaseh/backend/internal/metrics"
)

const (
	CodeMin = 100000
	CodeMax = 999999

	DefaultMintAttempts = 50
)

var ErrCodeSpaceExhausted = errors.New("no unused case code found within the retry ceiling")

type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// Minter draws 6-digit case codes uniformly from [CodeMin, CodeMax]. The
// existence check is advisory; the unique index on cases.code is authoritative.
type Minter struct {
	MaxAttempts int
	// IntN returns a value in [0, n). Defaults to math/rand/v2.
	IntN    func(n int) int
	Metrics *metrics.Metrics
}

func (m Minter) maxAttempts() int {
	if m.MaxAttempts <= 0 {
		return DefaultMintAttempts
	}
	return m.MaxAttempts
}

func (m Minter) draw() string {
	intn := m.IntN
	if intn == nil {
		intn = rand.IntN
	}
	return strconv.Itoa(CodeMin + intn(CodeMax-CodeMin+1))
}

func (m Minter) MintUniqueCode(ctx context.Context, checker CodeChecker) (string, error) {
	for i := 0; i < m.maxAttempts(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := m.draw()
		exists, err := checker.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		m.Metrics.MintCollision()
	}
	return "", ErrCodeSpaceExhausted
}
