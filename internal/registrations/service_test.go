package registrations

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	"github.com/jmwhitfield/clubpay-backend/pkg/enums"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/gocardless"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
	"github.com/jmwhitfield/clubpay-backend/pkg/sms"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRepo struct {
	active    map[uuid.UUID]*models.Registration
	suspended map[uuid.UUID]*models.SuspendedRegistration

	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		active:    map[uuid.UUID]*models.Registration{},
		suspended: map[uuid.UUID]*models.SuspendedRegistration{},
	}
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) Create(_ context.Context, reg *models.Registration) error {
	if f.createErr != nil {
		return f.createErr
	}
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
		return ErrVersionConflict
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

type fakeGateway struct {
	billingRequest *gocardless.BillingRequest
	err            error
	lastParams     gocardless.BillingRequestParams
}

func (f *fakeGateway) CreateBillingRequest(_ context.Context, params gocardless.BillingRequestParams) (*gocardless.BillingRequest, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.billingRequest, nil
}

type fakeSMS struct {
	err   error
	sent  []string
	texts []string
}

func (f *fakeSMS) Send(_ context.Context, to, body string) (*sms.Delivery, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, body)
	return &sms.Delivery{SID: "SM1", Status: "queued"}, nil
}

type stubTx struct{}

func (stubTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
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

func newTestService(t *testing.T, repo Repository, gateway BillingRequestCreator, sender SMSSender) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:      stubTx{},
		Repo:    repo,
		Gateway: gateway,
		SMS:     sender,
		Season:  testSeason(),
		Now:     func() time.Time { return time.Date(2025, time.June, 8, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func decimalFromString(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(value)
	require.NoError(t, err)
	return parsed
}

func validParams() RegisterParams {
	return RegisterParams{
		GuardianFullName:    "Pat Smith",
		PlayerSurname:       "Smith",
		GuardianPhone:       "+447700900123",
		GuardianEmail:       "pat@example.com",
		PreferredPaymentDay: 15,
	}
}

func TestRegisterCreatesPendingRecordAndSendsLink(t *testing.T) {
	repo := newFakeRepo()
	gateway := &fakeGateway{billingRequest: &gocardless.BillingRequest{ID: "BRQ123", AuthorisationURL: "https://pay.example.com/BRQ123"}}
	sender := &fakeSMS{}
	svc := newTestService(t, repo, gateway, sender)

	reg, err := svc.Register(context.Background(), validParams())
	require.NoError(t, err)
	require.NotNil(t, reg)

	assert.Equal(t, "BRQ123", reg.BillingRequestID)
	assert.Equal(t, enums.RegistrationStatusPendingPayment, reg.RegistrationStatus)
	assert.Equal(t, enums.SubscriptionStatusUnset, reg.SubscriptionStatus)
	require.NotNil(t, reg.PaymentLinkSentAt)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "+447700900123", sender.sent[0])
	assert.Contains(t, sender.texts[0], "https://pay.example.com/BRQ123")

	assert.True(t, gateway.lastParams.Amount.Equal(decimalFromString(t, "25.00")))
}

func TestRegisterRejectsInvalidPayload(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeGateway{}, &fakeSMS{})

	params := validParams()
	params.GuardianPhone = "not-a-number"

	_, err := svc.Register(context.Background(), params)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestRegisterRejectsInvalidPreferredDay(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeGateway{}, &fakeSMS{})

	params := validParams()
	params.PreferredPaymentDay = 45

	_, err := svc.Register(context.Background(), params)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestRegisterSurvivesSMSFailure(t *testing.T) {
	repo := newFakeRepo()
	gateway := &fakeGateway{billingRequest: &gocardless.BillingRequest{ID: "BRQ200", AuthorisationURL: "https://pay.example.com/BRQ200"}}
	sender := &fakeSMS{err: errors.New("twilio down")}
	svc := newTestService(t, repo, gateway, sender)

	reg, err := svc.Register(context.Background(), validParams())
	require.NoError(t, err)
	require.NotNil(t, reg)

	assert.Nil(t, reg.PaymentLinkSentAt)
	stored, err := repo.FindByBillingRequestID(context.Background(), "BRQ200")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRegisterPropagatesGatewayFailure(t *testing.T) {
	gateway := &fakeGateway{err: pkgerrors.New(pkgerrors.CodeDependency, "processor unavailable")}
	svc := newTestService(t, newFakeRepo(), gateway, &fakeSMS{})

	_, err := svc.Register(context.Background(), validParams())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestSuspendMovesRecordBetweenStores(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeGateway{}, &fakeSMS{})

	reg := &models.Registration{
		BillingRequestID:    "BRQ300",
		GuardianFullName:    "Pat Smith",
		PlayerSurname:       "Smith",
		GuardianPhone:       "+447700900123",
		RegistrationStatus:  enums.RegistrationStatusIncomplete,
		PreferredPaymentDay: 15,
	}
	reg.SetMonthStatus(enums.SeasonMonthSeptember, enums.MonthPaymentStatusConfirmed)
	require.NoError(t, repo.Create(context.Background(), reg))

	require.NoError(t, svc.Suspend(context.Background(), reg.ID))

	gone, err := repo.FindByID(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	suspended, err := repo.FindSuspendedByBillingRequestID(context.Background(), "BRQ300")
	require.NoError(t, err)
	require.NotNil(t, suspended)
	assert.Equal(t, enums.RegistrationStatusSuspended, suspended.RegistrationStatus)
	assert.Equal(t, enums.MonthPaymentStatusConfirmed, suspended.MonthStatus(enums.SeasonMonthSeptember))
}

func TestSuspendIsIdempotentWhenRecordAlreadyMoved(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeGateway{}, &fakeSMS{})

	require.NoError(t, svc.Suspend(context.Background(), uuid.New()))
}

func TestRestoreRoundTripsAllFields(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeGateway{}, &fakeSMS{})

	subID := "SB123"
	original := &models.Registration{
		BillingRequestID:      "BRQ400",
		GuardianFullName:      "Pat Smith",
		PlayerSurname:         "Smith",
		GuardianPhone:         "+447700900123",
		SigningOnFeePaid:      true,
		MandateAuthorised:     true,
		RegistrationStatus:    enums.RegistrationStatusIncomplete,
		OngoingSubscriptionID: &subID,
		SubscriptionStatus:    enums.SubscriptionStatusFailed,
		PreferredPaymentDay:   15,
	}
	original.SetMonthStatus(enums.SeasonMonthSeptember, enums.MonthPaymentStatusConfirmed)
	original.SetMonthStatus(enums.SeasonMonthOctober, enums.MonthPaymentStatusFailed)
	require.NoError(t, repo.Create(context.Background(), original))

	require.NoError(t, svc.Suspend(context.Background(), original.ID))

	restored, err := svc.Restore(context.Background(), "BRQ400")
	require.NoError(t, err)
	require.NotNil(t, restored)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, enums.RegistrationStatusIncomplete, restored.RegistrationStatus)
	assert.True(t, restored.SigningOnFeePaid)
	assert.True(t, restored.MandateAuthorised)
	require.NotNil(t, restored.OngoingSubscriptionID)
	assert.Equal(t, subID, *restored.OngoingSubscriptionID)
	assert.Equal(t, enums.MonthPaymentStatusConfirmed, restored.MonthStatus(enums.SeasonMonthSeptember))
	assert.Equal(t, enums.MonthPaymentStatusFailed, restored.MonthStatus(enums.SeasonMonthOctober))

	leftover, err := repo.FindSuspendedByBillingRequestID(context.Background(), "BRQ400")
	require.NoError(t, err)
	assert.Nil(t, leftover)
}

func TestRestoreRecomputesUnpaidStatusFromFlags(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeGateway{}, &fakeSMS{})

	reg := &models.Registration{
		BillingRequestID:    "BRQ500",
		GuardianFullName:    "Pat Smith",
		PlayerSurname:       "Smith",
		GuardianPhone:       "+447700900123",
		RegistrationStatus:  enums.RegistrationStatusPendingPayment,
		PreferredPaymentDay: 15,
	}
	require.NoError(t, repo.Create(context.Background(), reg))
	require.NoError(t, svc.Suspend(context.Background(), reg.ID))

	// Nothing was paid before the suspension, so the record comes back
	// exactly as unpaid as it left.
	restored, err := svc.Restore(context.Background(), "BRQ500")
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, enums.RegistrationStatusPendingPayment, restored.RegistrationStatus)
	assert.False(t, restored.SigningOnFeePaid)
	assert.False(t, restored.MandateAuthorised)
}

func TestRestoreReturnsNilWhenNothingSuspended(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeGateway{}, &fakeSMS{})

	restored, err := svc.Restore(context.Background(), "BRQ999")
	require.NoError(t, err)
	assert.Nil(t, restored)
}
