package lifecycle

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmwhitfield/clubpay-backend/internal/registrations"
	webhooks "github.com/jmwhitfield/clubpay-backend/internal/webhooks/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	"github.com/jmwhitfield/clubpay-backend/pkg/enums"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRepo struct {
	active    map[uuid.UUID]*models.Registration
	suspended map[uuid.UUID]*models.SuspendedRegistration
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		active:    map[uuid.UUID]*models.Registration{},
		suspended: map[uuid.UUID]*models.SuspendedRegistration{},
	}
}

func (f *fakeRepo) WithTx(_ *gorm.DB) registrations.Repository { return f }

func (f *fakeRepo) Create(_ context.Context, reg *models.Registration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	copied := *reg
	f.active[reg.ID] = &copied
	return nil
}

func (f *fakeRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	if reg, ok := f.active[id]; ok {
		copied := *reg
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeRepo) FindByBillingRequestID(_ context.Context, billingRequestID string) (*models.Registration, error) {
	for _, reg := range f.active {
		if reg.BillingRequestID == billingRequestID {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindBySubscriptionID(_ context.Context, subscriptionID string) (*models.Registration, error) {
	for _, reg := range f.active {
		if reg.OngoingSubscriptionID != nil && *reg.OngoingSubscriptionID == subscriptionID {
			copied := *reg
			return &copied, nil
		}
		if reg.InterimSubscriptionID != nil && *reg.InterimSubscriptionID == subscriptionID {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) UpdateWithVersion(_ context.Context, reg *models.Registration) error {
	stored, ok := f.active[reg.ID]
	if !ok || stored.Version != reg.Version {
		return registrations.ErrVersionConflict
	}
	reg.Version++
	copied := *reg
	f.active[reg.ID] = &copied
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.active, id)
	return nil
}

func (f *fakeRepo) HasActiveSibling(_ context.Context, guardianFullName, playerSurname, excludeBillingRequestID string) (bool, error) {
	for _, reg := range f.active {
		if reg.GuardianFullName == guardianFullName &&
			reg.PlayerSurname == playerSurname &&
			reg.BillingRequestID != excludeBillingRequestID &&
			reg.RegistrationStatus == enums.RegistrationStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) FindUnpaidCreatedBefore(_ context.Context, cutoff time.Time) ([]models.Registration, error) {
	var out []models.Registration
	for _, reg := range f.active {
		unpaid := reg.RegistrationStatus == enums.RegistrationStatusPendingPayment ||
			reg.RegistrationStatus == enums.RegistrationStatusIncomplete
		if unpaid && !reg.CreatedAt.After(cutoff) {
			out = append(out, *reg)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindSuspendedByBillingRequestID(_ context.Context, billingRequestID string) (*models.SuspendedRegistration, error) {
	for _, reg := range f.suspended {
		if reg.BillingRequestID == billingRequestID {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateSuspended(_ context.Context, reg *models.SuspendedRegistration) error {
	copied := *reg
	f.suspended[reg.ID] = &copied
	return nil
}

func (f *fakeRepo) DeleteSuspended(_ context.Context, id uuid.UUID) error {
	delete(f.suspended, id)
	return nil
}

// fakeStore restores by moving between the fake repo's maps, mirroring the
// transactional move in the real store.
type fakeStore struct {
	repo     *fakeRepo
	restored []string
}

func (f *fakeStore) Restore(ctx context.Context, billingRequestID string) (*models.Registration, error) {
	suspended, err := f.repo.FindSuspendedByBillingRequestID(ctx, billingRequestID)
	if err != nil || suspended == nil {
		return nil, err
	}
	reg := suspended.Registration
	reg.RegistrationStatus = enums.RegistrationStatusPendingPayment
	if reg.SigningOnFeePaid || reg.MandateAuthorised {
		reg.RegistrationStatus = enums.RegistrationStatusIncomplete
	}
	if err := f.repo.Create(ctx, &reg); err != nil {
		return nil, err
	}
	if err := f.repo.DeleteSuspended(ctx, suspended.ID); err != nil {
		return nil, err
	}
	f.restored = append(f.restored, billingRequestID)
	return &reg, nil
}

type fakeGateway struct {
	err     error
	created []gocardless.SubscriptionParams
}

func (f *fakeGateway) CreateSubscription(_ context.Context, params gocardless.SubscriptionParams) (*gocardless.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, params)
	return &gocardless.Subscription{
		ID:        "SB" + params.StartDate.Format("20060102"),
		StartDate: params.StartDate.Format("2006-01-02"),
	}, nil
}

type fakeNotifier struct {
	confirmations int
	reactivations int
}

func (f *fakeNotifier) SendConfirmation(_ context.Context, _ *models.Registration) error {
	f.confirmations++
	return nil
}

func (f *fakeNotifier) SendReactivation(_ context.Context, _ *models.Registration) error {
	f.reactivations++
	return nil
}

func testSeason() config.SeasonConfig {
	return config.SeasonConfig{
		PolicyCutoffDate:      "2025-08-28",
		ForcedStartMonth:      9,
		ForcedStartYear:       2025,
		BaseMonthlyAmount:     "20.00",
		SigningFeeAmount:      "25.00",
		SiblingDiscountFactor: "0.9",
		BufferDays:            5,
		EarlyMonthCutoffDay:   10,
	}
}

type harness struct {
	svc      *Service
	repo     *fakeRepo
	store    *fakeStore
	gateway  *fakeGateway
	notifier *fakeNotifier
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	repo := newFakeRepo()
	store := &fakeStore{repo: repo}
	gateway := &fakeGateway{}
	notifier := &fakeNotifier{}

	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repo:     repo,
		Store:    store,
		Gateway:  gateway,
		Notifier: notifier,
		Season:   testSeason(),
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return &harness{svc: svc, repo: repo, store: store, gateway: gateway, notifier: notifier}
}

func seedRegistration(t *testing.T, repo *fakeRepo, billingRequestID string) *models.Registration {
	t.Helper()
	reg := &models.Registration{
		BillingRequestID:    billingRequestID,
		GuardianFullName:    "Pat Smith",
		PlayerSurname:       "Smith",
		GuardianPhone:       "+447700900123",
		RegistrationStatus:  enums.RegistrationStatusPendingPayment,
		SubscriptionStatus:  enums.SubscriptionStatusUnset,
		PreferredPaymentDay: 15,
	}
	require.NoError(t, repo.Create(context.Background(), reg))
	return reg
}

func feeConfirmedEvent(id, billingRequestID string) webhooks.Event {
	return webhooks.Event{
		ID:           id,
		ResourceType: webhooks.ResourceTypePayments,
		Action:       webhooks.ActionConfirmed,
		CreatedAt:    time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{Payment: "PM1", BillingRequest: billingRequestID},
	}
}

func mandateActiveEvent(id, billingRequestID string) webhooks.Event {
	return webhooks.Event{
		ID:           id,
		ResourceType: webhooks.ResourceTypeMandates,
		Action:       webhooks.ActionActive,
		CreatedAt:    time.Date(2025, time.September, 1, 10, 0, 1, 0, time.UTC),
		Links:        webhooks.EventLinks{Mandate: "MD1", BillingRequest: billingRequestID},
	}
}

func TestFeeConfirmedMovesToIncomplete(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))
	seedRegistration(t, h.repo, "BRQ1")

	require.NoError(t, h.svc.HandleEvent(context.Background(), feeConfirmedEvent("EV1", "BRQ1")))

	reg, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.True(t, reg.SigningOnFeePaid)
	assert.False(t, reg.MandateAuthorised)
	assert.Equal(t, enums.RegistrationStatusIncomplete, reg.RegistrationStatus)
	assert.Empty(t, h.gateway.created)
}

func TestMandateThenFeeActivatesOnce(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))
	seedRegistration(t, h.repo, "BRQ1")

	require.NoError(t, h.svc.HandleEvent(context.Background(), mandateActiveEvent("EV1", "BRQ1")))
	require.NoError(t, h.svc.HandleEvent(context.Background(), feeConfirmedEvent("EV2", "BRQ1")))

	reg, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.Equal(t, enums.RegistrationStatusActive, reg.RegistrationStatus)
	assert.Equal(t, enums.SubscriptionStatusActive, reg.SubscriptionStatus)
	require.NotNil(t, reg.OngoingSubscriptionID)
	require.NotNil(t, reg.MandateID)
	assert.Equal(t, "MD1", *reg.MandateID)
	require.NotNil(t, reg.SubscriptionStartDate)
	assert.Equal(t, time.Date(2025, time.September, 15, 0, 0, 0, 0, time.UTC), *reg.SubscriptionStartDate)

	require.Len(t, h.gateway.created, 1)
	assert.Equal(t, 15, h.gateway.created[0].DayOfMonth)
	assert.Equal(t, 9, h.gateway.created[0].Count)
	assert.Equal(t, "MD1", h.gateway.created[0].MandateID)
	assert.Equal(t, "BRQ1", h.gateway.created[0].Metadata["billing_request_id"])

	assert.Equal(t, 1, h.notifier.confirmations)
	require.NotNil(t, reg.ConfirmationSentAt)
}

func TestDuplicateFulfilledEventActivatesOnce(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))
	seedRegistration(t, h.repo, "BRQ1")

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypeBillingRequests,
		Action:       webhooks.ActionFulfilled,
		CreatedAt:    time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{BillingRequest: "BRQ1", Mandate: "MD1"},
	}

	require.NoError(t, h.svc.HandleEvent(context.Background(), event))
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	assert.Len(t, h.gateway.created, 1)
	assert.Equal(t, 1, h.notifier.confirmations)
}

func TestActivationCreatesInterimInsideBuffer(t *testing.T) {
	// Early in the month with the preferred day inside the buffer window the
	// payer gets an interim charge plus the ongoing subscription.
	h := newHarness(t, time.Date(2025, time.September, 8, 0, 0, 0, 0, time.UTC))
	reg := seedRegistration(t, h.repo, "BRQ1")
	reg.PreferredPaymentDay = 10
	require.NoError(t, h.repo.UpdateWithVersion(context.Background(), reg))

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypeBillingRequests,
		Action:       webhooks.ActionFulfilled,
		CreatedAt:    time.Date(2025, time.September, 8, 10, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{BillingRequest: "BRQ1", Mandate: "MD1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	require.Len(t, h.gateway.created, 2)
	assert.Equal(t, 1, h.gateway.created[0].Count)
	assert.Equal(t, time.Date(2025, time.September, 13, 0, 0, 0, 0, time.UTC), h.gateway.created[0].StartDate)
	assert.Equal(t, time.Date(2025, time.October, 10, 0, 0, 0, 0, time.UTC), h.gateway.created[1].StartDate)

	stored, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	require.NotNil(t, stored.InterimSubscriptionID)
}

func TestGatewayFailureRecordsErrorAndAllowsRetry(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))
	seedRegistration(t, h.repo, "BRQ1")
	h.gateway.err = pkgerrors.New(pkgerrors.CodeDependency, "processor unavailable")

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypeBillingRequests,
		Action:       webhooks.ActionFulfilled,
		CreatedAt:    time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{BillingRequest: "BRQ1", Mandate: "MD1"},
	}

	err := h.svc.HandleEvent(context.Background(), event)
	require.Error(t, err)

	// Both payment legs landed, so the registration itself is active even
	// though the schedule could not be created; the chase sweep must not
	// pick it up.
	reg, err2 := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err2)
	assert.Equal(t, enums.RegistrationStatusActive, reg.RegistrationStatus)
	assert.Equal(t, enums.SubscriptionStatusFailed, reg.SubscriptionStatus)
	require.NotNil(t, reg.SubscriptionError)
	assert.Nil(t, reg.SubscriptionClaimedAt)

	due, err2 := h.repo.FindUnpaidCreatedBefore(context.Background(), time.Date(2025, time.September, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err2)
	assert.Empty(t, due)

	// The processor redelivers; the failed claim is claimable again.
	h.gateway.err = nil
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	reg, err2 = h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err2)
	assert.Equal(t, enums.SubscriptionStatusActive, reg.SubscriptionStatus)
	assert.Nil(t, reg.SubscriptionError)
}

func TestSubscriptionChargeLandsInMonthColumn(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.November, 2, 0, 0, 0, 0, time.UTC))
	reg := seedRegistration(t, h.repo, "BRQ1")
	subID := "SB1"
	reg.OngoingSubscriptionID = &subID
	reg.RegistrationStatus = enums.RegistrationStatusActive
	require.NoError(t, h.repo.UpdateWithVersion(context.Background(), reg))

	event := webhooks.Event{
		ID:               "EV1",
		ResourceType:     webhooks.ResourceTypePayments,
		Action:           webhooks.ActionFailed,
		CreatedAt:        time.Date(2025, time.November, 1, 6, 0, 0, 0, time.UTC),
		Links:            webhooks.EventLinks{Payment: "PM2", Subscription: "SB1"},
		ResourceMetadata: map[string]string{"billing_request_id": "BRQ1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	stored, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.Equal(t, enums.MonthPaymentStatusFailed, stored.MonthStatus(enums.SeasonMonthNovember))
	assert.Equal(t, enums.MonthPaymentStatusUnset, stored.MonthStatus(enums.SeasonMonthOctober))
}

func TestSubscriptionChargeResolvesBySubscriptionLink(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.December, 2, 0, 0, 0, 0, time.UTC))
	reg := seedRegistration(t, h.repo, "BRQ1")
	subID := "SB1"
	reg.OngoingSubscriptionID = &subID
	require.NoError(t, h.repo.UpdateWithVersion(context.Background(), reg))

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypePayments,
		Action:       webhooks.ActionPaidOut,
		CreatedAt:    time.Date(2025, time.December, 1, 6, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{Payment: "PM3", Subscription: "SB1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	stored, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.Equal(t, enums.MonthPaymentStatusConfirmed, stored.MonthStatus(enums.SeasonMonthDecember))
}

func TestOutOfSeasonChargeIsDropped(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.June, 20, 0, 0, 0, 0, time.UTC))
	reg := seedRegistration(t, h.repo, "BRQ1")
	subID := "SB1"
	reg.OngoingSubscriptionID = &subID
	require.NoError(t, h.repo.UpdateWithVersion(context.Background(), reg))

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypePayments,
		Action:       webhooks.ActionConfirmed,
		CreatedAt:    time.Date(2025, time.June, 19, 6, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{Payment: "PM4", Subscription: "SB1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	stored, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	for _, month := range enums.SeasonMonths {
		assert.Equal(t, enums.MonthPaymentStatusUnset, stored.MonthStatus(month))
	}
}

func TestUnknownRegistrationIsAcknowledged(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, h.svc.HandleEvent(context.Background(), feeConfirmedEvent("EV1", "BRQ-missing")))
}

func TestLateFeePaymentRestoresSuspendedRegistration(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 10, 0, 0, 0, 0, time.UTC))

	suspended := &models.SuspendedRegistration{Registration: models.Registration{
		ID:                  uuid.New(),
		BillingRequestID:    "BRQ1",
		GuardianFullName:    "Pat Smith",
		PlayerSurname:       "Smith",
		GuardianPhone:       "+447700900123",
		RegistrationStatus:  enums.RegistrationStatusSuspended,
		SubscriptionStatus:  enums.SubscriptionStatusUnset,
		PreferredPaymentDay: 15,
	}}
	require.NoError(t, h.repo.CreateSuspended(context.Background(), suspended))

	require.NoError(t, h.svc.HandleEvent(context.Background(), feeConfirmedEvent("EV1", "BRQ1")))

	reg, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.True(t, reg.SigningOnFeePaid)
	assert.Equal(t, enums.RegistrationStatusIncomplete, reg.RegistrationStatus)
	assert.Equal(t, 1, h.notifier.reactivations)

	gone, err := h.repo.FindSuspendedByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestMandateOnSuspendedRegistrationRestoresAsIncomplete(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 10, 0, 0, 0, 0, time.UTC))

	suspended := &models.SuspendedRegistration{Registration: models.Registration{
		ID:                  uuid.New(),
		BillingRequestID:    "BRQ1",
		GuardianFullName:    "Pat Smith",
		PlayerSurname:       "Smith",
		GuardianPhone:       "+447700900123",
		RegistrationStatus:  enums.RegistrationStatusSuspended,
		SubscriptionStatus:  enums.SubscriptionStatusUnset,
		PreferredPaymentDay: 15,
	}}
	require.NoError(t, h.repo.CreateSuspended(context.Background(), suspended))

	require.NoError(t, h.svc.HandleEvent(context.Background(), mandateActiveEvent("EV1", "BRQ1")))

	// The mandate alone does not make the record active; the fee is still
	// owed and the chase sweep must keep seeing it.
	reg, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.False(t, reg.SigningOnFeePaid)
	assert.True(t, reg.MandateAuthorised)
	assert.Equal(t, enums.RegistrationStatusIncomplete, reg.RegistrationStatus)
	assert.Empty(t, h.gateway.created)

	due, err := h.repo.FindUnpaidCreatedBefore(context.Background(), time.Date(2025, time.September, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "BRQ1", due[0].BillingRequestID)
}

func TestStaleActivationClaimIsTakenOver(t *testing.T) {
	now := time.Date(2025, time.September, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	// A worker claimed the activation an hour ago and never finished.
	reg := seedRegistration(t, h.repo, "BRQ1")
	mandateID := "MD1"
	claimedAt := now.Add(-time.Hour)
	reg.SigningOnFeePaid = true
	reg.MandateAuthorised = true
	reg.MandateID = &mandateID
	reg.RegistrationStatus = enums.RegistrationStatusActive
	reg.SubscriptionStatus = enums.SubscriptionStatusPending
	reg.SubscriptionClaimedAt = &claimedAt
	require.NoError(t, h.repo.UpdateWithVersion(context.Background(), reg))

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypeBillingRequests,
		Action:       webhooks.ActionFulfilled,
		CreatedAt:    now,
		Links:        webhooks.EventLinks{BillingRequest: "BRQ1", Mandate: "MD1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	stored, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, stored.SubscriptionStatus)
	require.NotNil(t, stored.OngoingSubscriptionID)
	assert.Nil(t, stored.SubscriptionClaimedAt)
	require.Len(t, h.gateway.created, 1)
}

func TestFreshActivationClaimIsLeftAlone(t *testing.T) {
	now := time.Date(2025, time.September, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	reg := seedRegistration(t, h.repo, "BRQ1")
	mandateID := "MD1"
	claimedAt := now.Add(-time.Minute)
	reg.SigningOnFeePaid = true
	reg.MandateAuthorised = true
	reg.MandateID = &mandateID
	reg.RegistrationStatus = enums.RegistrationStatusActive
	reg.SubscriptionStatus = enums.SubscriptionStatusPending
	reg.SubscriptionClaimedAt = &claimedAt
	require.NoError(t, h.repo.UpdateWithVersion(context.Background(), reg))

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypeBillingRequests,
		Action:       webhooks.ActionFulfilled,
		CreatedAt:    now,
		Links:        webhooks.EventLinks{BillingRequest: "BRQ1", Mandate: "MD1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	stored, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusPending, stored.SubscriptionStatus)
	assert.Empty(t, h.gateway.created)
}

func TestBillingRequestCancelledMarksFailed(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))
	seedRegistration(t, h.repo, "BRQ1")

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypeBillingRequests,
		Action:       webhooks.ActionCancelled,
		CreatedAt:    time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{BillingRequest: "BRQ1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	reg, err := h.repo.FindByBillingRequestID(context.Background(), "BRQ1")
	require.NoError(t, err)
	assert.Equal(t, enums.RegistrationStatusFailed, reg.RegistrationStatus)
}

func TestSiblingDiscountAppliesOnActivation(t *testing.T) {
	h := newHarness(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC))

	sibling := seedRegistration(t, h.repo, "BRQ-sibling")
	sibling.RegistrationStatus = enums.RegistrationStatusActive
	require.NoError(t, h.repo.UpdateWithVersion(context.Background(), sibling))

	seedRegistration(t, h.repo, "BRQ1")

	event := webhooks.Event{
		ID:           "EV1",
		ResourceType: webhooks.ResourceTypeBillingRequests,
		Action:       webhooks.ActionFulfilled,
		CreatedAt:    time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC),
		Links:        webhooks.EventLinks{BillingRequest: "BRQ1", Mandate: "MD1"},
	}
	require.NoError(t, h.svc.HandleEvent(context.Background(), event))

	require.Len(t, h.gateway.created, 1)
	assert.Equal(t, "18", h.gateway.created[0].Amount.String())
}

func TestTransitionRules(t *testing.T) {
	cases := []struct {
		from, to enums.RegistrationStatus
		ok       bool
	}{
		{enums.RegistrationStatusPendingPayment, enums.RegistrationStatusIncomplete, true},
		{enums.RegistrationStatusPendingPayment, enums.RegistrationStatusActive, true},
		{enums.RegistrationStatusIncomplete, enums.RegistrationStatusActive, true},
		{enums.RegistrationStatusIncomplete, enums.RegistrationStatusSuspended, true},
		{enums.RegistrationStatusSuspended, enums.RegistrationStatusActive, true},
		{enums.RegistrationStatusSuspended, enums.RegistrationStatusIncomplete, true},
		{enums.RegistrationStatusSuspended, enums.RegistrationStatusPendingPayment, true},
		{enums.RegistrationStatusActive, enums.RegistrationStatusPendingPayment, false},
		{enums.RegistrationStatusFailed, enums.RegistrationStatusActive, false},
		{enums.RegistrationStatusActive, enums.RegistrationStatusActive, true},
	}

	for _, tc := range cases {
		got, err := Transition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
			assert.Equal(t, tc.to, got)
		} else {
			assert.Error(t, err, "%s -> %s", tc.from, tc.to)
			assert.Equal(t, tc.from, got)
		}
	}
}

func TestMonthsRemaining(t *testing.T) {
	assert.Equal(t, 9, monthsRemaining(time.Date(2025, time.September, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 5, monthsRemaining(time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, monthsRemaining(time.Date(2026, time.May, 15, 0, 0, 0, 0, time.UTC)))

	// Off-season starts still stop charging at the following May.
	assert.Equal(t, 12, monthsRemaining(time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 11, monthsRemaining(time.Date(2026, time.July, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 10, monthsRemaining(time.Date(2026, time.August, 15, 0, 0, 0, 0, time.UTC)))
}
