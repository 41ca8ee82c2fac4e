package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmwhitfield/clubpay-backend/api/responses"
	"github.com/jmwhitfield/clubpay-backend/internal/registrations"
	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
)

// RegistrationService is the intake surface the controller needs.
type RegistrationService interface {
	Register(ctx context.Context, params registrations.RegisterParams) (*models.Registration, error)
}

type registrationRequest struct {
	GuardianFullName    string `json:"guardian_full_name"`
	PlayerSurname       string `json:"player_surname"`
	GuardianPhone       string `json:"guardian_phone"`
	GuardianEmail       string `json:"guardian_email"`
	PreferredPaymentDay int    `json:"preferred_payment_day"`
}

type registrationResponse struct {
	ID                  string     `json:"id"`
	BillingRequestID    string     `json:"billing_request_id"`
	RegistrationStatus  string     `json:"registration_status"`
	PreferredPaymentDay int        `json:"preferred_payment_day"`
	PaymentLinkSentAt   *time.Time `json:"payment_link_sent_at,omitempty"`
}

// RegistrationCreate handles new player registrations.
func RegistrationCreate(svc RegistrationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "registration service unavailable"))
			return
		}

		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed request body"))
			return
		}

		reg, err := svc.Register(ctx, registrations.RegisterParams{
			GuardianFullName:    req.GuardianFullName,
			PlayerSurname:       req.PlayerSurname,
			GuardianPhone:       req.GuardianPhone,
			GuardianEmail:       req.GuardianEmail,
			PreferredPaymentDay: req.PreferredPaymentDay,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, registrationResponse{
			ID:                  reg.ID.String(),
			BillingRequestID:    reg.BillingRequestID,
			RegistrationStatus:  reg.RegistrationStatus.String(),
			PreferredPaymentDay: reg.PreferredPaymentDay,
			PaymentLinkSentAt:   reg.PaymentLinkSentAt,
		})
	}
}
