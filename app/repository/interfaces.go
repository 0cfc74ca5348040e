package repository

import (
	"github.com/zuri-app/zuri/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	UpdatePlan(userID uint, plan string) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// SubscriptionRepository defines the interface for subscription-related
// database operations
type SubscriptionRepository interface {
	GetByID(id uint) (*models.Subscription, error)
	GetByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error)
	ListByUserID(userID uint) ([]models.Subscription, error)
	Update(sub *models.Subscription) error
}

// NotificationRepository defines the interface for notification-related
// database operations
type NotificationRepository interface {
	Create(notification *models.Notification) error
	GetByID(id uint) (*models.Notification, error)
	ListByUserID(userID uint, offset, limit int) ([]models.Notification, error)
	CountUnreadByUserID(userID uint) (int64, error)
	MarkAsRead(id uint, userID uint) error
	MarkAllAsRead(userID uint) error
}

// ReconciliationLogRepository defines the interface for reading the
// append-only reconciliation audit trail
type ReconciliationLogRepository interface {
	ListByProviderEventID(providerEventID string) ([]models.ReconciliationLog, error)
	ListRecent(limit int) ([]models.ReconciliationLog, error)
	CountByOutcome() (map[string]int64, error)
}
