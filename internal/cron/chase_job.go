package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	"github.com/jmwhitfield/clubpay-backend/pkg/db/models"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
	"go.uber.org/multierr"
)

type unpaidReader interface {
	FindUnpaidCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.Registration, error)
	UpdateWithVersion(ctx context.Context, reg *models.Registration) error
}

type suspender interface {
	Suspend(ctx context.Context, id uuid.UUID) error
}

type chaseNotifier interface {
	SendFirstChase(ctx context.Context, reg *models.Registration) error
	SendSecondChase(ctx context.Context, reg *models.Registration) error
	SendSuspension(ctx context.Context, reg *models.Registration) error
}

// ChaseJobParams configure the non-payment chase sweep.
type ChaseJobParams struct {
	Logger   *logger.Logger
	Reader   unpaidReader
	Store    suspender
	Notifier chaseNotifier
	Chase    config.ChaseConfig
}

// NewChaseJob builds the daily job that reminds guardians about unpaid
// registrations and suspends the ones that never pay.
func NewChaseJob(params ChaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("registration reader required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("registration store required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &chaseJob{
		logg:     params.Logger,
		reader:   params.Reader,
		store:    params.Store,
		notifier: params.Notifier,
		chase:    params.Chase,
		now:      time.Now,
	}, nil
}

type chaseJob struct {
	logg     *logger.Logger
	reader   unpaidReader
	store    suspender
	notifier chaseNotifier
	chase    config.ChaseConfig
	now      func() time.Time
}

func (j *chaseJob) Name() string { return "payment-chase" }

// Run walks every unpaid registration old enough for the first reminder and
// escalates it by age: first chase, second chase, then suspension. Failures
// on one registration never stop the sweep.
func (j *chaseJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-time.Duration(j.chase.FirstChaseDays) * 24 * time.Hour)

	regs, err := j.reader.FindUnpaidCreatedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("query unpaid registrations: %w", err)
	}

	var errs error
	suspendedCount, chasedCount := 0, 0
	for i := range regs {
		reg := regs[i]
		regCtx := j.logg.WithRegistrationID(ctx, reg.ID.String())
		age := now.Sub(reg.CreatedAt)

		switch {
		case age >= time.Duration(j.chase.SuspendDays)*24*time.Hour:
			if err := j.suspend(regCtx, &reg); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			suspendedCount++

		case age >= time.Duration(j.chase.SecondChaseDays)*24*time.Hour:
			if reg.SecondChaseSentAt != nil {
				continue
			}
			if err := j.sendChase(regCtx, &reg, j.notifier.SendSecondChase, func(r *models.Registration, at time.Time) {
				r.SecondChaseSentAt = &at
			}); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			chasedCount++

		default:
			if reg.FirstChaseSentAt != nil {
				continue
			}
			if err := j.sendChase(regCtx, &reg, j.notifier.SendFirstChase, func(r *models.Registration, at time.Time) {
				r.FirstChaseSentAt = &at
			}); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			chasedCount++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"eligible":  len(regs),
		"chased":    chasedCount,
		"suspended": suspendedCount,
	})
	j.logg.Info(logCtx, "payment chase sweep complete")
	return errs
}

func (j *chaseJob) suspend(ctx context.Context, reg *models.Registration) error {
	if err := j.store.Suspend(ctx, reg.ID); err != nil {
		return fmt.Errorf("suspend registration %s: %w", reg.ID, err)
	}
	if err := j.notifier.SendSuspension(ctx, reg); err != nil {
		// The move already happened; the guardian just missed the heads-up.
		j.logg.Error(ctx, "suspension notice failed", err)
	}
	return nil
}

func (j *chaseJob) sendChase(ctx context.Context, reg *models.Registration, send func(context.Context, *models.Registration) error, stamp func(*models.Registration, time.Time)) error {
	if err := send(ctx, reg); err != nil {
		return fmt.Errorf("chase registration %s: %w", reg.ID, err)
	}
	stamp(reg, j.now().UTC())
	if err := j.reader.UpdateWithVersion(ctx, reg); err != nil {
		// A lost race means the record just changed; the next sweep
		// re-evaluates it.
		j.logg.Error(ctx, "stamp chase timestamp", err)
	}
	return nil
}
