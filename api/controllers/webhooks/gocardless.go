package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/jmwhitfield/clubpay-backend/api/responses"
	gcwebhook "github.com/jmwhitfield/clubpay-backend/internal/webhooks/gocardless"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/jmwhitfield/clubpay-backend/pkg/logger"
)

const signatureHeader = "Webhook-Signature"

type GoCardlessWebhookService interface {
	HandleEvent(ctx context.Context, event gcwebhook.Event) error
}

type gocardlessWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type gocardlessClient interface {
	SigningSecret() string
}

// GoCardlessWebhook ingests payment processor event batches. Each event is
// guarded individually, so a redelivered batch only re-runs the events that
// failed last time.
func GoCardlessWebhook(svc GoCardlessWebhookService, client gocardlessClient, guard gocardlessWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gocardless client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if secret := client.SigningSecret(); secret != "" {
			sigHeader := r.Header.Get(signatureHeader)
			if sigHeader == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
				return
			}
			if !validateSignature(payload, secret, sigHeader) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
				return
			}
		} else if logg != nil {
			logg.Warn(ctx, "webhook signature verification disabled")
		}

		events, err := gcwebhook.ParseBatch(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		for _, event := range events {
			if err := processEvent(ctx, svc, guard, logg, event); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("processed webhook batch of %d events", len(events)))
		}
		responses.WriteSuccess(w, nil)
	}
}

func processEvent(ctx context.Context, svc GoCardlessWebhookService, guard gocardlessWebhookGuard, logg *logger.Logger, event gcwebhook.Event) error {
	fresh, err := guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
			if logg != nil {
				logg.Error(ctx, "skipping webhook event without an id", err)
			}
			return nil
		}
		return err
	}
	if !fresh {
		return nil
	}
	if err := svc.HandleEvent(ctx, event); err != nil {
		// Bad events stay claimed and are skipped; redelivering them would
		// fail the same way. Anything else frees the claim so the processor's
		// next delivery attempt can retry it.
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
			if logg != nil {
				logg.Error(logg.WithEventID(ctx, event.ID), "skipping invalid webhook event", err)
			}
			return nil
		}
		_ = guard.Release(ctx, event.ID)
		return err
	}
	return nil
}

func validateSignature(payload []byte, secret, header string) bool {
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
