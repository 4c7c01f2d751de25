package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kelaseh/backend/internal/models"
)

// QuotaFile holds per-branch capacity overrides seeded into the store at startup.
type QuotaFile struct {
	DefaultCapacity int            `yaml:"default_capacity"`
	Offices         []OfficeQuotas `yaml:"offices"`
}

type OfficeQuotas struct {
	OfficeID int64         `yaml:"office_id"`
	Branches []BranchQuota `yaml:"branches"`
}

type BranchQuota struct {
	Number   int `yaml:"number"`
	Capacity int `yaml:"capacity"`
}

func LoadQuotaFile(path string) (QuotaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return QuotaFile{}, fmt.Errorf("read quota file: %w", err)
	}
	return ParseQuotas(data)
}

func ParseQuotas(data []byte) (QuotaFile, error) {
	var qf QuotaFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return QuotaFile{}, fmt.Errorf("parse quota file: %w", err)
	}
	if qf.DefaultCapacity < 0 {
		return QuotaFile{}, fmt.Errorf("default_capacity must not be negative")
	}
	seen := map[[2]int64]bool{}
	for _, o := range qf.Offices {
		if o.OfficeID <= 0 {
			return QuotaFile{}, fmt.Errorf("office_id must be positive, got %d", o.OfficeID)
		}
		for _, b := range o.Branches {
			if b.Number <= 0 || b.Capacity <= 0 {
				return QuotaFile{}, fmt.Errorf("office %d: branch %d capacity %d: number and capacity must be positive", o.OfficeID, b.Number, b.Capacity)
			}
			key := [2]int64{o.OfficeID, int64(b.Number)}
			if seen[key] {
				return QuotaFile{}, fmt.Errorf("office %d: branch %d listed twice", o.OfficeID, b.Number)
			}
			seen[key] = true
		}
	}
	return qf, nil
}

func (qf QuotaFile) Quotas() []models.CapacityQuota {
	var out []models.CapacityQuota
	for _, o := range qf.Offices {
		for _, b := range o.Branches {
			out = append(out, models.CapacityQuota{OfficeID: o.OfficeID, BranchNumber: b.Number, Capacity: b.Capacity})
		}
	}
	return out
}
