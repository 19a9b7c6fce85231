// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/domain/ports/repository"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/infra/metrics"
)

// Webhook outcomes, used as the metric label and returned to the edge.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookFailed    = "failed"
	WebhookRejected  = "rejected"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

type WebhookResult struct {
	EventID   string
	EventType string
	Outcome   string
}

// WebhookUseCase receives gateway notifications. Only a bad signature or an
// unreadable body is returned as an error; handler failures are stored on the
// event record and the delivery is still acknowledged.
type WebhookUseCase interface {
	Handle(ctx context.Context, body []byte, signature, eventID string) (*WebhookResult, error)
}

type webhookUC struct {
	verifier adapter.SignatureVerifier
	decoder  adapter.WebhookDecoder
	events   repository.WebhookEventRepository
	payments PaymentUseCase
	subs     SubscriptionUseCase
	provider string
	log      *zerolog.Logger
}

func NewWebhookUseCase(
	verifier adapter.SignatureVerifier,
	decoder adapter.WebhookDecoder,
	events repository.WebhookEventRepository,
	payments PaymentUseCase,
	subs SubscriptionUseCase,
	provider string,
	logger *zerolog.Logger,
) *webhookUC {
	l := logger.With().Str("component", "webhooks").Logger()
	return &webhookUC{
		verifier: verifier,
		decoder:  decoder,
		events:   events,
		payments: payments,
		subs:     subs,
		provider: provider,
		log:      &l,
	}
}

// EventIDFor falls back to a body digest when the gateway sends no event id.
func EventIDFor(headerID string, body []byte) string {
	if headerID != "" {
		return headerID
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func (u *webhookUC) Handle(ctx context.Context, body []byte, signature, eventID string) (*WebhookResult, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.Handle")()

	eventID = EventIDFor(eventID, body)
	log := logging.With(ctx, u.log).With().Str("event_id", eventID).Logger()

	if !u.verifier.VerifyWebhookSignature(body, signature) {
		metrics.IncWebhookEvent("unknown", WebhookRejected)
		log.Warn().Int("bytes", len(body)).Msg("webhook signature rejected")
		return &WebhookResult{EventID: eventID, Outcome: WebhookRejected}, domain.ErrInvalidSignature
	}

	ev, err := u.decoder.Decode(body)
	if err != nil {
		metrics.IncWebhookEvent("unknown", WebhookRejected)
		log.Warn().Err(err).Msg("webhook body could not be decoded")
		return &WebhookResult{EventID: eventID, Outcome: WebhookRejected}, err
	}

	rec, err := u.events.Record(ctx, repository.NoTX, &model.WebhookEvent{
		Provider:       u.provider,
		EventID:        eventID,
		EventType:      ev.Type,
		Payload:        body,
		SignatureValid: true,
		ReceivedAt:     time.Now().UTC(),
	})
	if err != nil {
		// not acked; the gateway will redeliver
		log.Error().Err(err).Str("event", ev.Type).Msg("could not record webhook")
		return nil, domain.Transient("record webhook", err)
	}
	res := &WebhookResult{EventID: eventID, EventType: ev.Type}
	if rec.Processed() {
		res.Outcome = WebhookDuplicate
		metrics.IncWebhookEvent(ev.Type, res.Outcome)
		log.Info().Str("event", ev.Type).Int("deliveries", rec.DeliveryCount).Msg("duplicate webhook acknowledged")
		return res, nil
	}

	herr := u.dispatch(ctx, ev)
	processingErr := ""
	switch {
	case herr == nil:
		res.Outcome = WebhookProcessed
	case errors.Is(herr, domain.ErrEventIgnored):
		res.Outcome = WebhookIgnored
		processingErr = herr.Error()
		log.Info().Str("event", ev.Type).Msg("webhook event ignored")
	default:
		res.Outcome = WebhookFailed
		processingErr = herr.Error()
		log.Error().Err(herr).
			Str("event", ev.Type).
			Str("order_id", ev.OrderID).
			Str("payment_id", ev.PaymentID).
			Msg("webhook handler failed")
	}
	metrics.IncWebhookEvent(ev.Type, res.Outcome)

	if res.Outcome == WebhookFailed {
		// still acked; a redelivery of this event id runs the handler again
		if err := u.events.MarkFailed(ctx, repository.NoTX, rec.ID, processingErr); err != nil {
			log.Warn().Err(err).Msg("could not record webhook failure")
		}
		return res, nil
	}
	if err := u.events.MarkProcessed(ctx, repository.NoTX, rec.ID, processingErr, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("could not mark webhook processed")
	}
	return res, nil
}

func (u *webhookUC) dispatch(ctx context.Context, ev *adapter.GatewayEvent) error {
	switch ev.Type {
	case adapter.EventPaymentCaptured, adapter.EventOrderPaid:
		_, err := u.payments.ConfirmCapture(ctx, ev)
		return err

	case adapter.EventPaymentFailed:
		var errs []error
		if ev.OrderID != "" {
			if _, err := u.payments.FailPayment(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		if ev.SubscriptionID != "" {
			if _, _, err := u.subs.HandleFailedPayment(ctx, u.subscriptionRef(ev), ev.FailureReason); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)

	case adapter.EventSubscriptionCharged:
		if ev.SubscriptionID == "" {
			return fmt.Errorf("%w: charge without subscription id", domain.ErrValidation)
		}
		_, _, err := u.subs.RenewSubscription(ctx, u.subscriptionRef(ev), ev.PaymentID, ev.Amount)
		return err

	case adapter.EventSubscriptionCancelled:
		if ev.SubscriptionID == "" {
			return fmt.Errorf("%w: cancellation without subscription id", domain.ErrValidation)
		}
		_, _, err := u.subs.CancelSubscription(ctx, u.subscriptionRef(ev), "cancelled at gateway", "", false)
		return err

	case adapter.EventRefundCreated:
		_, err := u.payments.ApplyGatewayRefund(ctx, ev)
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrEventIgnored, ev.Type)
}

func (u *webhookUC) subscriptionRef(ev *adapter.GatewayEvent) EnrollmentRef {
	return EnrollmentRef{
		GatewaySubscriptionID: ev.SubscriptionID,
		UserID:                ev.Notes[noteUserID],
		CourseID:              ev.Notes[noteCourseID],
	}
}
