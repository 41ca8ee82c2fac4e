package registrations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	"github.com/jmwhitfield/clubpay-backend/pkg/enums"
	"gorm.io/gorm"
)

// ErrVersionConflict signals that a compare-and-set update lost the race and
// the caller should re-read and retry.
var ErrVersionConflict = errors.New("registration version conflict")

// Repository handles the active and suspended registration stores.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindByBillingRequestID(ctx context.Context, billingRequestID string) (*models.Registration, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Registration, error)
	UpdateWithVersion(ctx context.Context, reg *models.Registration) error
	Delete(ctx context.Context, id uuid.UUID) error

	HasActiveSibling(ctx context.Context, guardianFullName, playerSurname, excludeBillingRequestID string) (bool, error)
	FindUnpaidCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Registration, error)

	FindSuspendedByBillingRequestID(ctx context.Context, billingRequestID string) (*models.SuspendedRegistration, error)
	CreateSuspended(ctx context.Context, reg *models.SuspendedRegistration) error
	DeleteSuspended(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a registration repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reg *models.Registration) error {
	return r.db.WithContext(ctx).Create(reg).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	var reg models.Registration
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *repository) FindByBillingRequestID(ctx context.Context, billingRequestID string) (*models.Registration, error) {
	if billingRequestID == "" {
		return nil, nil
	}
	var reg models.Registration
	if err := r.db.WithContext(ctx).
		Where("billing_request_id = ?", billingRequestID).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *repository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Registration, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	var reg models.Registration
	if err := r.db.WithContext(ctx).
		Where("ongoing_subscription_id = ? OR interim_subscription_id = ?", subscriptionID, subscriptionID).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

// UpdateWithVersion writes the record only when its version column still
// matches the version the caller read. On success the in-memory version is
// bumped; on a lost race ErrVersionConflict is returned and the record is
// left untouched.
func (r *repository) UpdateWithVersion(ctx context.Context, reg *models.Registration) error {
	current := reg.Version
	reg.Version = current + 1

	result := r.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND version = ?", reg.ID, current).
		Select("*").
		Omit("id", "created_at").
		Updates(reg)
	if result.Error != nil {
		reg.Version = current
		return result.Error
	}
	if result.RowsAffected == 0 {
		reg.Version = current
		return ErrVersionConflict
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Registration{}).Error
}

func (r *repository) HasActiveSibling(ctx context.Context, guardianFullName, playerSurname, excludeBillingRequestID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("guardian_full_name = ? AND player_surname = ?", guardianFullName, playerSurname).
		Where("billing_request_id <> ?", excludeBillingRequestID).
		Where("registration_status = ?", enums.RegistrationStatusActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) FindUnpaidCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Registration, error) {
	statuses := []enums.RegistrationStatus{
		enums.RegistrationStatusPendingPayment,
		enums.RegistrationStatusIncomplete,
	}
	var regs []models.Registration
	if err := r.db.WithContext(ctx).
		Where("registration_status IN (?)", statuses).
		Where("created_at <= ?", cutoff).
		Order("created_at ASC").
		Find(&regs).Error; err != nil {
		return nil, err
	}
	return regs, nil
}

func (r *repository) FindSuspendedByBillingRequestID(ctx context.Context, billingRequestID string) (*models.SuspendedRegistration, error) {
	if billingRequestID == "" {
		return nil, nil
	}
	var reg models.SuspendedRegistration
	if err := r.db.WithContext(ctx).
		Where("billing_request_id = ?", billingRequestID).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *repository) CreateSuspended(ctx context.Context, reg *models.SuspendedRegistration) error {
	return r.db.WithContext(ctx).Create(reg).Error
}

func (r *repository) DeleteSuspended(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.SuspendedRegistration{}).Error
}
