package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmwhitfield/clubpay-backend/internal/registrations"
	"github.com/jmwhitfield/clubpay-backend/internal/scheduling"
	webhooks "github.com/jmwhitfield/clubpay-backend/internal/webhooks/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	"github.com/jmwhitfield/clubpay-backend/pkg/enums"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
	"github.com/jmwhitfield/clubpay-backend/pkg/metrics"
)

const casAttempts = 3

// activationClaimTTL bounds how long a pending activation claim is honoured.
// A claim older than this belongs to a worker that died between claiming and
// recording the outcome, and the next delivery takes it over.
const activationClaimTTL = 10 * time.Minute

// SubscriptionCreator is the slice of the processor client activation needs.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, params gocardless.SubscriptionParams) (*gocardless.Subscription, error)
}

// Restorer moves a suspended registration back into the active store.
type Restorer interface {
	Restore(ctx context.Context, billingRequestID string) (*models.Registration, error)
}

// Notifier sends the guardian-facing lifecycle messages.
type Notifier interface {
	SendConfirmation(ctx context.Context, reg *models.Registration) error
	SendReactivation(ctx context.Context, reg *models.Registration) error
}

// ServiceParams wires the lifecycle engine dependencies.
type ServiceParams struct {
	Logger   *logger.Logger
	Repo     registrations.Repository
	Store    Restorer
	Gateway  SubscriptionCreator
	Notifier Notifier
	Season   config.SeasonConfig
	Metrics  *metrics.WebhookMetrics
	Now      func() time.Time
}

// Service applies processor webhook events to registrations: fee payment,
// mandate authorization, activation of the subscription schedule, monthly
// charge outcomes, and restoration after a late payment.
type Service struct {
	logger   *logger.Logger
	repo     registrations.Repository
	store    Restorer
	gateway  SubscriptionCreator
	notifier Notifier
	season   config.SeasonConfig
	metrics  *metrics.WebhookMetrics
	now      func() time.Time
}

// NewService builds the lifecycle engine, rejecting missing dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registration repository is required")
	}
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registration store is required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway is required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		logger:   params.Logger,
		repo:     params.Repo,
		store:    params.Store,
		gateway:  params.Gateway,
		notifier: params.Notifier,
		season:   params.Season,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// HandleEvent applies a single verified webhook event. Events the engine does
// not care about are acknowledged and dropped; a returned error means the
// event should be redelivered.
func (s *Service) HandleEvent(ctx context.Context, event webhooks.Event) error {
	ctx = s.logger.WithEventID(ctx, event.ID)
	if id := event.BillingRequestID(); id != "" {
		ctx = s.logger.WithBillingRequestID(ctx, id)
	}

	switch event.ResourceType {
	case webhooks.ResourceTypePayments:
		if event.Links.Subscription != "" {
			return s.handleSubscriptionCharge(ctx, event)
		}
		return s.handleFeePayment(ctx, event)

	case webhooks.ResourceTypeMandates:
		if event.Action == webhooks.ActionActive {
			return s.handleMandateActive(ctx, event)
		}

	case webhooks.ResourceTypeBillingRequests:
		switch event.Action {
		case webhooks.ActionFulfilled:
			return s.handleBillingRequestFulfilled(ctx, event)
		case webhooks.ActionFailed, webhooks.ActionCancelled:
			return s.handleBillingRequestClosed(ctx, event)
		}
	}

	s.metrics.IncDropped("unhandled")
	s.logger.Info(ctx, fmt.Sprintf("ignoring %s.%s event", event.ResourceType, event.Action))
	return nil
}

// handleFeePayment processes signing-on fee outcomes. A confirmed fee on a
// suspended registration restores it first, then the normal progression
// applies.
func (s *Service) handleFeePayment(ctx context.Context, event webhooks.Event) error {
	switch event.Action {
	case webhooks.ActionConfirmed, webhooks.ActionPaidOut:
	case webhooks.ActionFailed, webhooks.ActionCancelled, webhooks.ActionChargedBack:
		// The fee never went through; the record stays where it is and the
		// chase sweep keeps the pressure on.
		s.metrics.IncProcessed(event.ResourceType, event.Action)
		s.logger.Warn(ctx, "signing-on fee payment did not complete")
		return nil
	default:
		s.metrics.IncDropped("unknown_action")
		return nil
	}

	reg, restored, err := s.loadOrRestore(ctx, event.BillingRequestID())
	if err != nil {
		return err
	}
	if reg == nil {
		s.metrics.IncDropped("unknown_registration")
		s.logger.Warn(ctx, "fee payment for unknown registration")
		return nil
	}

	updated, err := s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		changed := false
		if !r.SigningOnFeePaid {
			r.SigningOnFeePaid = true
			changed = true
		}
		moved, err := progress(r)
		if err != nil {
			return false, err
		}
		return changed || moved, nil
	})
	if err != nil {
		return err
	}

	if restored {
		if err := s.notifier.SendReactivation(ctx, updated); err != nil {
			s.logger.Error(ctx, "reactivation notice failed", err)
		}
	}

	s.metrics.IncProcessed(event.ResourceType, event.Action)
	return s.maybeActivate(ctx, updated)
}

func (s *Service) handleMandateActive(ctx context.Context, event webhooks.Event) error {
	reg, restored, err := s.loadOrRestore(ctx, event.BillingRequestID())
	if err != nil {
		return err
	}
	if reg == nil {
		s.metrics.IncDropped("unknown_registration")
		s.logger.Warn(ctx, "mandate event for unknown registration")
		return nil
	}

	mandateID := event.Links.Mandate
	updated, err := s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		changed := false
		if !r.MandateAuthorised {
			r.MandateAuthorised = true
			changed = true
		}
		if mandateID != "" && (r.MandateID == nil || *r.MandateID != mandateID) {
			r.MandateID = &mandateID
			changed = true
		}
		moved, err := progress(r)
		if err != nil {
			return false, err
		}
		return changed || moved, nil
	})
	if err != nil {
		return err
	}

	if restored {
		if err := s.notifier.SendReactivation(ctx, updated); err != nil {
			s.logger.Error(ctx, "reactivation notice failed", err)
		}
	}

	s.metrics.IncProcessed(event.ResourceType, event.Action)
	return s.maybeActivate(ctx, updated)
}

// handleBillingRequestFulfilled marks both payment legs complete in one
// step, which forces the registration active before the subscription
// schedule is attempted.
func (s *Service) handleBillingRequestFulfilled(ctx context.Context, event webhooks.Event) error {
	reg, restored, err := s.loadOrRestore(ctx, event.BillingRequestID())
	if err != nil {
		return err
	}
	if reg == nil {
		s.metrics.IncDropped("unknown_registration")
		s.logger.Warn(ctx, "billing request fulfilled for unknown registration")
		return nil
	}

	mandateID := event.Links.Mandate
	updated, err := s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		changed := false
		if !r.SigningOnFeePaid {
			r.SigningOnFeePaid = true
			changed = true
		}
		if !r.MandateAuthorised {
			r.MandateAuthorised = true
			changed = true
		}
		if mandateID != "" && r.MandateID == nil {
			r.MandateID = &mandateID
			changed = true
		}
		moved, err := progress(r)
		if err != nil {
			return false, err
		}
		return changed || moved, nil
	})
	if err != nil {
		return err
	}

	if restored {
		if err := s.notifier.SendReactivation(ctx, updated); err != nil {
			s.logger.Error(ctx, "reactivation notice failed", err)
		}
	}

	s.metrics.IncProcessed(event.ResourceType, event.Action)
	return s.maybeActivate(ctx, updated)
}

// handleBillingRequestClosed marks a registration failed when the payer
// abandons or the processor cancels the billing request.
func (s *Service) handleBillingRequestClosed(ctx context.Context, event webhooks.Event) error {
	reg, err := s.repo.FindByBillingRequestID(ctx, event.BillingRequestID())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load registration")
	}
	if reg == nil {
		s.metrics.IncDropped("unknown_registration")
		return nil
	}

	_, err = s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		if r.RegistrationStatus == enums.RegistrationStatusFailed {
			return false, nil
		}
		status, err := Transition(r.RegistrationStatus, enums.RegistrationStatusFailed)
		if err != nil {
			// Already progressed past the point where the closure matters.
			return false, nil
		}
		r.RegistrationStatus = status
		return true, nil
	})
	if err != nil {
		return err
	}

	s.metrics.IncProcessed(event.ResourceType, event.Action)
	return nil
}

// handleSubscriptionCharge records a monthly charge outcome in the matching
// month column. The outcome is applied whatever the registration status, so
// late or out-of-order deliveries still land.
func (s *Service) handleSubscriptionCharge(ctx context.Context, event webhooks.Event) error {
	status, ok := enums.MonthPaymentStatusForAction(event.Action)
	if !ok {
		s.metrics.IncDropped("unknown_action")
		return nil
	}

	month, ok := enums.SeasonMonthForDate(event.CreatedAt)
	if !ok {
		s.metrics.IncDropped("out_of_season")
		s.logger.Warn(ctx, "subscription charge outside the season months")
		return nil
	}

	reg, err := s.repo.FindByBillingRequestID(ctx, event.BillingRequestID())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load registration")
	}
	if reg == nil {
		reg, err = s.repo.FindBySubscriptionID(ctx, event.Links.Subscription)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load registration by subscription")
		}
	}
	if reg == nil {
		s.metrics.IncDropped("unknown_registration")
		s.logger.Warn(ctx, "subscription charge for unknown registration")
		return nil
	}

	_, err = s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		if r.MonthStatus(month) == status {
			return false, nil
		}
		r.SetMonthStatus(month, status)
		return true, nil
	})
	if err != nil {
		return err
	}

	s.metrics.IncProcessed(event.ResourceType, event.Action)
	return nil
}

// maybeActivate creates the subscription schedule once both payment legs are
// complete. The timestamped claim through subscription_status guarantees a
// single activation under concurrent deliveries while still letting a later
// delivery take over a claim whose holder never finished.
func (s *Service) maybeActivate(ctx context.Context, reg *models.Registration) error {
	if !reg.SigningOnFeePaid || !reg.MandateAuthorised {
		return nil
	}

	var won bool
	claimed, err := s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		won = false
		switch r.SubscriptionStatus {
		case enums.SubscriptionStatusUnset, enums.SubscriptionStatusFailed:
		case enums.SubscriptionStatusPending:
			if r.SubscriptionClaimedAt != nil && s.now().Sub(*r.SubscriptionClaimedAt) < activationClaimTTL {
				return false, nil
			}
		default:
			return false, nil
		}
		claimedAt := s.now().UTC()
		r.SubscriptionStatus = enums.SubscriptionStatusPending
		r.SubscriptionClaimedAt = &claimedAt
		won = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	return s.activate(ctx, claimed)
}

func (s *Service) activate(ctx context.Context, reg *models.Registration) error {
	ctx = s.logger.WithRegistrationID(ctx, reg.ID.String())

	plan, err := s.buildPlan(ctx, reg)
	if err != nil {
		return s.failActivation(ctx, reg, err)
	}

	if reg.MandateID == nil || *reg.MandateID == "" {
		return s.failActivation(ctx, reg, pkgerrors.New(pkgerrors.CodeStateConflict, "no mandate recorded for registration"))
	}
	mandateID := *reg.MandateID
	metadata := map[string]string{"billing_request_id": reg.BillingRequestID}

	var interimID *string
	if plan.Interim != nil {
		interim, err := s.gateway.CreateSubscription(ctx, gocardless.SubscriptionParams{
			Amount:    plan.Interim.Amount,
			Name:      "Monthly subscription (interim)",
			StartDate: plan.Interim.StartDate,
			Count:     1,
			MandateID: mandateID,
			Metadata:  metadata,
		})
		if err != nil {
			return s.failActivation(ctx, reg, err)
		}
		interimID = &interim.ID
	}

	ongoing, err := s.gateway.CreateSubscription(ctx, gocardless.SubscriptionParams{
		Amount:     plan.Ongoing.Amount,
		Name:       "Monthly subscription",
		StartDate:  plan.Ongoing.StartDate,
		DayOfMonth: reg.PreferredPaymentDay,
		Count:      monthsRemaining(plan.Ongoing.StartDate),
		MandateID:  mandateID,
		Metadata:   metadata,
	})
	if err != nil {
		return s.failActivation(ctx, reg, err)
	}

	startDate := plan.Ongoing.StartDate
	updated, err := s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		r.OngoingSubscriptionID = &ongoing.ID
		r.InterimSubscriptionID = interimID
		r.SubscriptionStartDate = &startDate
		r.SubscriptionStatus = enums.SubscriptionStatusActive
		r.SubscriptionError = nil
		r.SubscriptionClaimedAt = nil
		status, err := Transition(r.RegistrationStatus, enums.RegistrationStatusActive)
		if err != nil {
			return false, err
		}
		r.RegistrationStatus = status
		return true, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "registration activated")
	s.sendConfirmationOnce(ctx, updated)
	return nil
}

func (s *Service) buildPlan(ctx context.Context, reg *models.Registration) (*scheduling.Plan, error) {
	cutoff, err := s.season.CutoffDate()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "season cutoff")
	}
	monthly, err := s.season.MonthlyAmount()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "monthly amount")
	}
	fee, err := s.season.SigningFee()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "signing fee")
	}
	discount, err := s.season.SiblingDiscount()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sibling discount")
	}

	hasSibling, err := s.repo.HasActiveSibling(ctx, reg.GuardianFullName, reg.PlayerSurname, reg.BillingRequestID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sibling lookup")
	}

	return scheduling.Compute(s.now(), reg.PreferredPaymentDay, scheduling.Policy{
		BufferDays:            s.season.BufferDays,
		EarlyMonthCutoffDay:   s.season.EarlyMonthCutoffDay,
		SeasonPolicyCutoff:    cutoff,
		ForcedStartMonth:      time.Month(s.season.ForcedStartMonth),
		ForcedStartYear:       s.season.ForcedStartYear,
		BaseMonthlyAmount:     monthly,
		SigningFeeAmount:      fee,
		SiblingDiscountFactor: discount,
		HasSibling:            hasSibling,
	})
}

// failActivation records the failure and returns the cause so the delivery is
// retried. A failed claim is re-claimable on the next attempt.
func (s *Service) failActivation(ctx context.Context, reg *models.Registration, cause error) error {
	message := cause.Error()
	if _, err := s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		r.SubscriptionStatus = enums.SubscriptionStatusFailed
		r.SubscriptionError = &message
		r.SubscriptionClaimedAt = nil
		return true, nil
	}); err != nil {
		s.logger.Error(ctx, "record activation failure", err)
	}
	s.logger.Error(ctx, "subscription activation failed", cause)
	return cause
}

func (s *Service) sendConfirmationOnce(ctx context.Context, reg *models.Registration) {
	if reg.ConfirmationSentAt != nil {
		return
	}
	if err := s.notifier.SendConfirmation(ctx, reg); err != nil {
		s.logger.Error(ctx, "confirmation notice failed", err)
		return
	}
	sentAt := s.now().UTC()
	if _, err := s.updateWithRetry(ctx, reg.BillingRequestID, func(r *models.Registration) (bool, error) {
		if r.ConfirmationSentAt != nil {
			return false, nil
		}
		r.ConfirmationSentAt = &sentAt
		return true, nil
	}); err != nil {
		s.logger.Error(ctx, "stamp confirmation sent", err)
	}
}

// loadOrRestore finds the registration in the active store, falling back to
// the suspended store; a suspended record is moved back before processing
// continues.
func (s *Service) loadOrRestore(ctx context.Context, billingRequestID string) (*models.Registration, bool, error) {
	if billingRequestID == "" {
		return nil, false, nil
	}
	reg, err := s.repo.FindByBillingRequestID(ctx, billingRequestID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load registration")
	}
	if reg != nil {
		return reg, false, nil
	}

	restored, err := s.store.Restore(ctx, billingRequestID)
	if err != nil {
		return nil, false, err
	}
	if restored == nil {
		return nil, false, nil
	}
	s.logger.Info(ctx, "suspended registration restored")
	return restored, true, nil
}

// updateWithRetry runs a read-mutate-write cycle under the record's version
// column, re-reading on contention. mutate returning false skips the write.
func (s *Service) updateWithRetry(ctx context.Context, billingRequestID string, mutate func(r *models.Registration) (bool, error)) (*models.Registration, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		reg, err := s.repo.FindByBillingRequestID(ctx, billingRequestID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load registration")
		}
		if reg == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registration disappeared during update")
		}

		changed, err := mutate(reg)
		if err != nil {
			return nil, err
		}
		if !changed {
			return reg, nil
		}

		err = s.repo.UpdateWithVersion(ctx, reg)
		if errors.Is(err, registrations.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update registration")
		}
		return reg, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "registration update contention")
}

// monthsRemaining counts the billable months from the start date through the
// following May. Starts after May are capped at the next May so the schedule
// never charges past the season end.
func monthsRemaining(start time.Time) int {
	month := int(start.Month())
	if month <= int(time.May) {
		return 6 - month
	}
	return 18 - month
}
