package models

import "time"

// DefaultCapacity is the daily per-branch limit used when no quota is configured.
const DefaultCapacity = 15

const (
	CaseStatusActive   = "active"
	CaseStatusInactive = "inactive"
	CaseStatusVoided   = "voided"
)

const (
	ActionCaseIssued        = "case_issued"
	ActionCaseStatusChanged = "case_status_changed"
	ActionQuotaSet          = "quota_set"
	ActionUserUpserted      = "user_upserted"
)

type Party struct {
	Name         string `json:"name" validate:"required,max=120"`
	NationalCode string `json:"national_code" validate:"required,nationalcode"`
	Mobile       string `json:"mobile" validate:"omitempty,irmobile"`
	Address      string `json:"address" validate:"max=255"`
}

type CaseInput struct {
	Plaintiff Party  `json:"plaintiff"`
	Defendant Party  `json:"defendant"`
	Subject   string `json:"subject" validate:"max=500"`
}

type Case struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	OfficeID     int64     `json:"office_id"`
	BranchNumber int       `json:"branch_number"`
	OwnerID      int64     `json:"owner_id"`
	Status       string    `json:"status"`
	Day          string    `json:"day"`
	Plaintiff    Party     `json:"plaintiff"`
	Defendant    Party     `json:"defendant"`
	Subject      string    `json:"subject"`
	CreatedAt    time.Time `json:"created_at"`
}

type CapacityQuota struct {
	OfficeID     int64 `json:"office_id"`
	BranchNumber int   `json:"branch_number"`
	Capacity     int   `json:"capacity"`
}

type BranchUsage struct {
	OfficeID     int64  `json:"office_id"`
	BranchNumber int    `json:"branch_number"`
	Day          string `json:"day"`
	Used         int    `json:"used"`
	Capacity     int    `json:"capacity"`
}

// CallerAuthorization lists the branches a caller may issue into, in priority order.
type CallerAuthorization struct {
	UserID   int64 `json:"user_id"`
	OfficeID int64 `json:"office_id"`
	Branches []int `json:"branches"`
}

type User struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	OfficeID   int64     `json:"office_id"`
	BranchFrom int       `json:"branch_from"`
	BranchTo   int       `json:"branch_to"`
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Authorization expands the user's configured branch range, ascending.
func (u User) Authorization() CallerAuthorization {
	auth := CallerAuthorization{UserID: u.ID, OfficeID: u.OfficeID}
	if u.BranchFrom <= 0 || u.BranchTo < u.BranchFrom {
		return auth
	}
	for b := u.BranchFrom; b <= u.BranchTo; b++ {
		auth.Branches = append(auth.Branches, b)
	}
	return auth
}

type AuditEvent struct {
	ID        string    `json:"id"`
	ActorID   int64     `json:"actor_id"`
	Action    string    `json:"action"`
	EntityID  string    `json:"entity_id"`
	OfficeID  int64     `json:"office_id"`
	CreatedAt time.Time `json:"created_at"`
}
