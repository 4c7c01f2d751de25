package service

import (
	"context"
	"errors"
	"testing"
)

type codeSet map[string]bool

func (s codeSet) CodeExists(_ context.Context, code string) (bool, error) {
	return s[code], nil
}

func sequence(vals ...int) func(int) int {
	return func(int) int {
		v := vals[0]
		if len(vals) > 1 {
			vals = vals[1:]
		}
		return v
	}
}

func TestMintUniqueCodeRange(t *testing.T) {
	m := Minter{}
	for i := 0; i < 1000; i++ {
		code, err := m.MintUniqueCode(context.Background(), codeSet{})
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		if len(code) != 6 || code < "100000" || code > "999999" {
			t.Fatalf("code out of range: %s", code)
		}
	}
}

func TestMintUniqueCodeRetriesOnCollision(t *testing.T) {
	m := Minter{IntN: sequence(5, 5, 899999)}
	taken := codeSet{"100005": true}
	code, err := m.MintUniqueCode(context.Background(), taken)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if code != "999999" {
		t.Fatalf("expected 999999 after two collisions, got %s", code)
	}
}

func TestMintUniqueCodeFailsClosed(t *testing.T) {
	m := Minter{MaxAttempts: 3, IntN: sequence(0)}
	_, err := m.MintUniqueCode(context.Background(), codeSet{"100000": true})
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
	}
}

type brokenChecker struct{}

func (brokenChecker) CodeExists(context.Context, string) (bool, error) {
	return false, errors.New("connection reset")
}

func TestMintUniqueCodePropagatesStoreError(t *testing.T) {
	_, err := Minter{}.MintUniqueCode(context.Background(), brokenChecker{})
	if err == nil || errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("expected store error, got %v", err)
	}
}
