package billing

import (
	"errors"
	"time"

	"github.com/zuri-app/zuri/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the reconciler service.
type Repository interface {
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint) error
	RecordWebhookError(id uint, processingError string) error
	GetUserByID(id uint) (*models.User, error)
	GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error)
	ListSubscriptionsByUser(userID uint) ([]models.Subscription, error)
	ApplyTransition(sub *models.Subscription, userID uint, userPlan string) error
	CreateNotification(n *models.Notification) error
	AppendReconciliationLog(entry *models.ReconciliationLog) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     &now,
		"processing_error": "",
	}).Error
}

// RecordWebhookError stores the failure reason but leaves processed_at NULL,
// so the provider's retry is re-admitted.
func (r *gormRepository) RecordWebhookError(id uint, processingError string) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		Update("processing_error", processingError).Error
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

// ApplyTransition persists the subscription upsert and the user plan write as
// one transaction. The SELECT ... FOR UPDATE on the subscription row
// serializes concurrent deliveries for the same subscription, so the
// {subscription, user} pair can never be observed half-applied.
func (r *gormRepository) ApplyTransition(sub *models.Subscription, userID uint, userPlan string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if sub != nil {
			var existing models.Subscription
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
				First(&existing).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err == nil {
				sub.ID = existing.ID
				sub.CreatedAt = existing.CreatedAt
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "provider"},
					{Name: "provider_subscription_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"user_id",
					"provider_customer_id",
					"plan",
					"status",
					"current_period_end",
					"cancel_at_period_end",
					"last_event_at",
					"raw_payload_json",
					"updated_at",
				}),
			}).Create(sub).Error; err != nil {
				return err
			}
		}

		if userID != 0 && userPlan != "" {
			if err := tx.Model(&models.User{}).Where("id = ?", userID).
				Update("plan", userPlan).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormRepository) CreateNotification(n *models.Notification) error {
	return r.db.Create(n).Error
}

func (r *gormRepository) AppendReconciliationLog(entry *models.ReconciliationLog) error {
	return r.db.Create(entry).Error
}
