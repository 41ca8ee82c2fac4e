package registrations

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmwhitfield/clubpay-backend/internal/scheduling"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	"github.com/jmwhitfield/clubpay-backend/pkg/db"
	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	"github.com/jmwhitfield/clubpay-backend/pkg/enums"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
	"github.com/jmwhitfield/clubpay-backend/pkg/sms"
	"gorm.io/gorm"
)

// BillingRequestCreator is the slice of the processor client the intake flow
// needs.
type BillingRequestCreator interface {
	CreateBillingRequest(ctx context.Context, params gocardless.BillingRequestParams) (*gocardless.BillingRequest, error)
}

// SMSSender delivers the payment link to the guardian.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (*sms.Delivery, error)
}

// TxRunner executes a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the registration service dependencies.
type ServiceParams struct {
	Logger  *logger.Logger
	DB      TxRunner
	Repo    Repository
	Gateway BillingRequestCreator
	SMS     SMSSender
	Season  config.SeasonConfig
	Now     func() time.Time
}

// Service owns registration intake and the active/suspended store moves.
type Service struct {
	logger  *logger.Logger
	db      TxRunner
	repo    Repository
	gateway BillingRequestCreator
	sms     SMSSender
	season  config.SeasonConfig
	now     func() time.Time

	validate *validator.Validate
}

// NewService builds the registration service, rejecting missing dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db client is required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registration repository is required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway is required")
	}
	if params.SMS == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sms sender is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		logger:   params.Logger,
		db:       params.DB,
		repo:     params.Repo,
		gateway:  params.Gateway,
		sms:      params.SMS,
		season:   params.Season,
		now:      now,
		validate: validator.New(),
	}, nil
}

// RegisterParams is the intake payload for a new player registration.
type RegisterParams struct {
	GuardianFullName    string `validate:"required,min=2,max=120"`
	PlayerSurname       string `validate:"required,min=1,max=80"`
	GuardianPhone       string `validate:"required,e164"`
	GuardianEmail       string `validate:"omitempty,email"`
	PreferredPaymentDay int    `validate:"required"`
}

// Register opens a billing request for the signing-on fee plus mandate, stores
// the registration as pending payment, and texts the guardian the payment
// link. A failed text does not fail the registration; the link can be re-sent.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*models.Registration, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid registration payload").WithDetails(err.Error())
	}
	if err := scheduling.ValidatePreferredDay(params.PreferredPaymentDay); err != nil {
		return nil, err
	}

	fee, err := s.season.SigningFee()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load signing fee")
	}

	billingRequest, err := s.gateway.CreateBillingRequest(ctx, gocardless.BillingRequestParams{
		Amount:      fee,
		Description: fmt.Sprintf("Signing-on fee for %s", params.PlayerSurname),
		Metadata: map[string]string{
			"guardian_full_name": params.GuardianFullName,
			"player_surname":     params.PlayerSurname,
		},
	})
	if err != nil {
		return nil, err
	}

	reg := &models.Registration{
		BillingRequestID:    billingRequest.ID,
		GuardianFullName:    params.GuardianFullName,
		PlayerSurname:       params.PlayerSurname,
		GuardianPhone:       params.GuardianPhone,
		GuardianEmail:       params.GuardianEmail,
		RegistrationStatus:  enums.RegistrationStatusPendingPayment,
		SubscriptionStatus:  enums.SubscriptionStatusUnset,
		PreferredPaymentDay: params.PreferredPaymentDay,
	}
	if err := s.repo.Create(ctx, reg); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "registration already exists for billing request")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store registration")
	}

	ctx = s.logger.WithRegistrationID(ctx, reg.ID.String())
	ctx = s.logger.WithBillingRequestID(ctx, reg.BillingRequestID)

	body := fmt.Sprintf("Complete your club registration: pay the signing-on fee and set up your Direct Debit here: %s", billingRequest.AuthorisationURL)
	if _, err := s.sms.Send(ctx, reg.GuardianPhone, body); err != nil {
		s.logger.Error(ctx, "payment link sms failed", err)
		return reg, nil
	}

	sentAt := s.now().UTC()
	reg.PaymentLinkSentAt = &sentAt
	if err := s.repo.UpdateWithVersion(ctx, reg); err != nil {
		s.logger.Error(ctx, "stamp payment link sent", err)
	}

	s.logger.Info(ctx, "registration created and payment link sent")
	return reg, nil
}

// Suspend moves a registration into the suspended store. The move is
// transactional and idempotent: a registration already suspended is left
// alone.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		reg, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load registration")
		}
		if reg == nil {
			// Already moved by an earlier sweep.
			return nil
		}
		unpaid := reg.RegistrationStatus == enums.RegistrationStatusPendingPayment ||
			reg.RegistrationStatus == enums.RegistrationStatusIncomplete
		if !unpaid {
			// A payment landed between the sweep read and this transaction.
			return nil
		}

		reg.RegistrationStatus = enums.RegistrationStatusSuspended
		suspended := &models.SuspendedRegistration{Registration: *reg}
		if err := repo.CreateSuspended(ctx, suspended); err != nil {
			if db.IsUniqueViolation(err, "") {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "copy registration to suspended store")
		}
		if err := repo.Delete(ctx, reg.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove registration from active store")
		}
		return nil
	})
}

// Restore moves a suspended registration back into the active store with its
// payment history intact. The record comes back at the unpaid status its
// payment flags imply; whatever event triggered the restore drives any
// further progression. Restore returns nil when no suspended record exists
// for the billing request.
func (s *Service) Restore(ctx context.Context, billingRequestID string) (*models.Registration, error) {
	var restored *models.Registration
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		suspended, err := repo.FindSuspendedByBillingRequestID(ctx, billingRequestID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load suspended registration")
		}
		if suspended == nil {
			return nil
		}

		reg := suspended.Registration
		reg.RegistrationStatus = enums.RegistrationStatusPendingPayment
		if reg.SigningOnFeePaid || reg.MandateAuthorised {
			reg.RegistrationStatus = enums.RegistrationStatusIncomplete
		}
		if err := repo.Create(ctx, &reg); err != nil {
			if db.IsUniqueViolation(err, "") {
				// Another delivery already restored it.
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "copy registration to active store")
		}
		if err := repo.DeleteSuspended(ctx, suspended.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove registration from suspended store")
		}
		restored = &reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}
