package notify

import (
	"context"
	"fmt"

	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
	"github.com/jmwhitfield/clubpay-backend/pkg/sms"
	"go.uber.org/multierr"
)

// SMSSender delivers text messages to guardians.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (*sms.Delivery, error)
}

// EmailSender delivers transactional email to guardians.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ServiceParams wires the notification service dependencies. Email is
// optional; guardians without an email address only receive texts.
type ServiceParams struct {
	Logger *logger.Logger
	SMS    SMSSender
	Email  EmailSender
}

// Service composes and sends guardian-facing messages. Delivery failures are
// reported to the caller but are never fatal to the lifecycle that triggered
// them.
type Service struct {
	logger *logger.Logger
	sms    SMSSender
	email  EmailSender
}

// NewService builds the notification service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.SMS == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sms sender is required")
	}
	return &Service{
		logger: params.Logger,
		sms:    params.SMS,
		email:  params.Email,
	}, nil
}

// SendConfirmation tells the guardian the registration is complete and the
// subscription schedule is in place.
func (s *Service) SendConfirmation(ctx context.Context, reg *models.Registration) error {
	body := fmt.Sprintf(
		"Thanks! %s's registration is complete. The signing-on fee is paid and the monthly subscription is set up.",
		reg.PlayerSurname,
	)
	return s.deliver(ctx, reg, "Registration confirmed", body)
}

// SendFirstChase nudges the guardian a few days after registration when the
// signing-on fee is still unpaid.
func (s *Service) SendFirstChase(ctx context.Context, reg *models.Registration) error {
	body := fmt.Sprintf(
		"Reminder: %s's registration is not complete yet. Please pay the signing-on fee and set up the Direct Debit using the link we sent you.",
		reg.PlayerSurname,
	)
	return s.deliver(ctx, reg, "Registration payment reminder", body)
}

// SendSecondChase is the firmer reminder before suspension. It goes out on
// both channels: the text as usual, plus email whenever an address is on
// file, with a warning logged when there is no email to fall back on.
func (s *Service) SendSecondChase(ctx context.Context, reg *models.Registration) error {
	body := fmt.Sprintf(
		"Final reminder: %s's registration will be suspended soon unless the signing-on fee is paid and the Direct Debit is set up.",
		reg.PlayerSurname,
	)
	return s.send(ctx, reg, "Final registration payment reminder", body, true)
}

// SendSuspension tells the guardian the registration has been suspended for
// non-payment.
func (s *Service) SendSuspension(ctx context.Context, reg *models.Registration) error {
	body := fmt.Sprintf(
		"%s's registration has been suspended because payment was not completed. Paying the signing-on fee will reactivate it.",
		reg.PlayerSurname,
	)
	return s.deliver(ctx, reg, "Registration suspended", body)
}

// SendReactivation tells the guardian the registration is back in good
// standing after a late payment.
func (s *Service) SendReactivation(ctx context.Context, reg *models.Registration) error {
	body := fmt.Sprintf(
		"Good news: payment received and %s's registration is active again.",
		reg.PlayerSurname,
	)
	return s.deliver(ctx, reg, "Registration reactivated", body)
}

func (s *Service) deliver(ctx context.Context, reg *models.Registration, subject, body string) error {
	return s.send(ctx, reg, subject, body, false)
}

func (s *Service) send(ctx context.Context, reg *models.Registration, subject, body string, emailExpected bool) error {
	ctx = s.logger.WithRegistrationID(ctx, reg.ID.String())

	var errs error
	if _, err := s.sms.Send(ctx, reg.GuardianPhone, body); err != nil {
		s.logger.Error(ctx, "notification sms failed", err)
		errs = multierr.Append(errs, err)
	}

	switch {
	case s.email != nil && reg.GuardianEmail != "":
		if err := s.email.Send(ctx, reg.GuardianEmail, subject, body); err != nil {
			s.logger.Error(ctx, "notification email failed", err)
			errs = multierr.Append(errs, err)
		}
	case emailExpected:
		s.logger.Warn(ctx, "no email channel for escalated notice")
	}
	return errs
}
