package repository

import (
	"gorm.io/gorm"

	"github.com/zuri-app/zuri/app/models"
)

// reconciliationLogRepository implements the ReconciliationLogRepository
// interface. The table is append-only; this repository only reads.
type reconciliationLogRepository struct {
	db *gorm.DB
}

// NewReconciliationLogRepository creates a new reconciliation log repository
// instance
func NewReconciliationLogRepository(db *gorm.DB) ReconciliationLogRepository {
	return &reconciliationLogRepository{db: db}
}

// ListByProviderEventID retrieves all log entries recorded for a provider
// event, oldest first
func (r *reconciliationLogRepository) ListByProviderEventID(providerEventID string) ([]models.ReconciliationLog, error) {
	var logs []models.ReconciliationLog
	err := r.db.Where("provider_event_id = ?", providerEventID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// ListRecent retrieves the newest log entries
func (r *reconciliationLogRepository) ListRecent(limit int) ([]models.ReconciliationLog, error) {
	var logs []models.ReconciliationLog
	err := r.db.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// CountByOutcome aggregates log entries per reconciliation outcome
func (r *reconciliationLogRepository) CountByOutcome() (map[string]int64, error) {
	type row struct {
		Outcome string
		Total   int64
	}
	var rows []row
	err := r.db.Model(&models.ReconciliationLog{}).
		Select("outcome, COUNT(*) AS total").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Outcome] = r.Total
	}
	return counts, nil
}
