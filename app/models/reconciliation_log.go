package models

import "time"

// Reconciliation outcomes recorded per webhook delivery.
const (
	ReconOutcomeApplied   = "applied"
	ReconOutcomeDuplicate = "duplicate"
	ReconOutcomeOrphan    = "orphan"
	ReconOutcomeStale     = "stale"
	ReconOutcomeIgnored   = "ignored"
	ReconOutcomeFailed    = "failed"
)

// ReconciliationLog is the append-only audit trail of the billing reconciler.
// One row per delivery, capturing the (status, plan) pair before and after.
// It answers "why does this user have plan X"; nothing in the system updates
// or deletes these rows.
type ReconciliationLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;index" json:"provider_event_id"`
	EventType       string    `gorm:"type:varchar(100);not null" json:"event_type"`
	UserID          uint      `gorm:"index" json:"user_id"`
	BeforeStatus    string    `gorm:"type:varchar(32)" json:"before_status"`
	BeforePlan      string    `gorm:"type:varchar(50)" json:"before_plan"`
	AfterStatus     string    `gorm:"type:varchar(32)" json:"after_status"`
	AfterPlan       string    `gorm:"type:varchar(50)" json:"after_plan"`
	Outcome         string    `gorm:"type:varchar(20);not null;index" json:"outcome"`
	Detail          string    `gorm:"type:text" json:"detail"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
