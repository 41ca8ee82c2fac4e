package lifecycle

import (
	"fmt"

	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	"github.com/jmwhitfield/clubpay-backend/pkg/enums"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
)

var allowedTransitions = map[enums.RegistrationStatus][]enums.RegistrationStatus{
	enums.RegistrationStatusPendingPayment: {
		enums.RegistrationStatusIncomplete,
		enums.RegistrationStatusActive,
		enums.RegistrationStatusSuspended,
		enums.RegistrationStatusFailed,
	},
	enums.RegistrationStatusIncomplete: {
		enums.RegistrationStatusActive,
		enums.RegistrationStatusSuspended,
		enums.RegistrationStatusFailed,
	},
	enums.RegistrationStatusSuspended: {
		enums.RegistrationStatusPendingPayment,
		enums.RegistrationStatusIncomplete,
		enums.RegistrationStatusActive,
	},
	enums.RegistrationStatusActive: {},
	enums.RegistrationStatusFailed: {},
}

// Transition validates and applies a registration status change. Moving to
// the current status is a no-op so repeated webhook deliveries stay
// idempotent.
func Transition(from, to enums.RegistrationStatus) (enums.RegistrationStatus, error) {
	if from == to {
		return to, nil
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return to, nil
		}
	}
	return from, pkgerrors.New(
		pkgerrors.CodeStateConflict,
		fmt.Sprintf("registration cannot move from %s to %s", from, to),
	)
}

// progress advances an unpaid registration as its payment legs land: one leg
// moves pending_payment to incomplete, both legs force active. Activation of
// the subscription schedule happens separately, so a gateway outage never
// holds the registration itself back.
func progress(r *models.Registration) (bool, error) {
	switch r.RegistrationStatus {
	case enums.RegistrationStatusPendingPayment, enums.RegistrationStatusIncomplete:
	default:
		return false, nil
	}

	target := enums.RegistrationStatusIncomplete
	if r.SigningOnFeePaid && r.MandateAuthorised {
		target = enums.RegistrationStatusActive
	}
	if r.RegistrationStatus == target {
		return false, nil
	}

	status, err := Transition(r.RegistrationStatus, target)
	if err != nil {
		return false, err
	}
	r.RegistrationStatus = status
	return true, nil
}
