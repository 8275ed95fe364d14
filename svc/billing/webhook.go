package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Outcome describes what processing a webhook event did.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeNotified   Outcome = "notified"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeFailed     Outcome = "failed"
)

// WebhookResult is returned for every verified webhook that the provider
// should not retry.
type WebhookResult struct {
	EventID string            `json:"event_id"`
	Type    gateway.EventType `json:"type"`
	Outcome Outcome           `json:"outcome"`
	Reason  string            `json:"reason,omitempty"`
}

// HandleWebhook verifies a provider webhook and applies it. Verification
// errors, an unknown gateway and storage failures are returned as errors;
// everything else, including events that cannot be correlated with local
// state, yields a result so the provider stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) (*WebhookResult, error) {
	g, err := s.gateways.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	name := g.Name()

	ev, err := g.ParseWebhook(ctx, payload, signature)
	if err != nil {
		s.metrics.webhook(name, "invalid", OutcomeFailed)
		s.log.WarnContext(ctx, "webhook rejected", logger.Gateway(name), logger.Error(err))
		return nil, err
	}
	log := s.log.With(logger.Gateway(name), logger.EventID(ev.ID), logger.EventType(string(ev.Type)))

	key := name + ":" + ev.ID
	first, err := s.dedupe.Claim(ctx, key)
	if err != nil {
		log.WarnContext(ctx, "webhook dedupe unavailable", logger.Error(err))
		first = true
	}
	if !first {
		s.metrics.webhook(name, string(ev.Type), OutcomeDuplicate)
		log.InfoContext(ctx, "duplicate webhook event", logger.Outcome(string(OutcomeDuplicate)))
		return &WebhookResult{EventID: ev.ID, Type: ev.Type, Outcome: OutcomeDuplicate}, nil
	}

	res, err := s.dispatch(ctx, name, ev)
	if err != nil {
		if rerr := s.dedupe.Release(ctx, key); rerr != nil {
			log.WarnContext(ctx, "failed to release webhook dedupe key", logger.Error(rerr))
		}
		s.metrics.webhook(name, string(ev.Type), OutcomeFailed)
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		return nil, errors.Join(ErrWebhookProcessing, err)
	}

	s.metrics.webhook(name, string(ev.Type), res.Outcome)
	switch res.Outcome {
	case OutcomeUnresolved:
		log.WarnContext(ctx, "webhook event could not be correlated",
			logger.Outcome(string(res.Outcome)), slog.String("reason", res.Reason))
		if err := s.notifier.WebhookUnresolved(ctx, UnresolvedSignal{
			Gateway:   name,
			EventID:   ev.ID,
			EventType: ev.ProviderType,
			Reason:    res.Reason,
		}); err != nil {
			log.ErrorContext(ctx, "failed to signal unresolved webhook", logger.Error(err))
		}
	default:
		log.InfoContext(ctx, "webhook event processed",
			logger.Outcome(string(res.Outcome)), slog.String("reason", res.Reason))
	}
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, gatewayName string, ev *gateway.Event) (*WebhookResult, error) {
	res := &WebhookResult{EventID: ev.ID, Type: ev.Type}
	unresolved := func(reason string) (*WebhookResult, error) {
		res.Outcome = OutcomeUnresolved
		res.Reason = reason
		return res, nil
	}

	switch ev.Type {
	case gateway.EventCheckoutCompleted:
		if ev.UserID == "" || ev.PlanID == "" {
			return unresolved("missing user or plan")
		}
		if ev.TransactionID == "" {
			return unresolved("missing transaction id")
		}
		act, err := s.ledger.Activate(ctx, subscription.Activation{
			UserID:                 ev.UserID,
			PlanID:                 ev.PlanID,
			Gateway:                gatewayName,
			TransactionID:          ev.TransactionID,
			Amount:                 ev.Amount,
			TrialDays:              ev.TrialDays,
			ExternalSubscriptionID: ev.ExternalSubscriptionID,
			ExternalCustomerID:     ev.ExternalCustomerID,
			Metadata:               ev.Metadata,
		})
		switch {
		case errors.Is(err, subscription.ErrPlanNotFound):
			return unresolved(fmt.Sprintf("unknown plan %q", ev.PlanID))
		case err != nil:
			return nil, err
		case act.Replayed:
			res.Outcome = OutcomeDuplicate
			res.Reason = "transaction already recorded"
		default:
			res.Outcome = OutcomeApplied
		}
		return res, nil

	case gateway.EventSubscriptionUpdated, gateway.EventSubscriptionDeleted:
		var (
			upd *subscription.UpdateResult
			err error
		)
		if ev.Type == gateway.EventSubscriptionDeleted {
			upd, err = s.ledger.ApplyProviderDeletion(ctx, gatewayName, ev.ExternalSubscriptionID, ev.OccurredAt)
		} else {
			upd, err = s.ledger.ApplyProviderUpdate(ctx, subscription.ProviderUpdate{
				Gateway:                gatewayName,
				ExternalSubscriptionID: ev.ExternalSubscriptionID,
				Status:                 ev.ProviderStatus,
				PeriodEnd:              ev.PeriodEnd,
				CanceledAt:             ev.CanceledAt,
				OccurredAt:             ev.OccurredAt,
			})
		}
		switch {
		case errors.Is(err, subscription.ErrSubscriptionNotMatched):
			return unresolved("no local subscription for " + ev.ExternalSubscriptionID)
		case errors.Is(err, subscription.ErrInvalidTransition):
			res.Outcome = OutcomeSkipped
			res.Reason = "invalid_transition"
			return res, nil
		case err != nil:
			return nil, err
		case upd.Applied:
			res.Outcome = OutcomeApplied
		default:
			res.Outcome = OutcomeSkipped
			res.Reason = upd.Reason
		}
		return res, nil

	case gateway.EventInvoicePaymentFailed:
		sig := PaymentFailedSignal{
			Gateway:                gatewayName,
			EventID:                ev.ID,
			ExternalSubscriptionID: ev.ExternalSubscriptionID,
			TransactionID:          ev.TransactionID,
			OccurredAt:             ev.OccurredAt,
		}
		if ev.Amount != nil {
			sig.Amount, sig.Currency = ev.Amount.Amount, ev.Amount.Currency
		}
		if ev.ExternalSubscriptionID != "" {
			sub, err := s.ledger.SubscriptionByExternalID(ctx, gatewayName, ev.ExternalSubscriptionID)
			switch {
			case err == nil:
				sig.UserID, sig.SubscriptionID = sub.UserID, sub.ID
			case !errors.Is(err, subscription.ErrSubscriptionNotFound):
				return nil, err
			}
		}
		if err := s.notifier.PaymentFailed(ctx, sig); err != nil {
			return nil, err
		}
		res.Outcome = OutcomeNotified
		return res, nil

	case gateway.EventChargeRefunded:
		if ev.TransactionID == "" {
			return unresolved("missing transaction id")
		}
		var amount int64
		if ev.Amount != nil {
			amount = ev.Amount.Amount
		}
		_, err := s.ledger.MarkRefundedByProvider(ctx, gatewayName, ev.TransactionID, ev.RefundID, amount)
		switch {
		case errors.Is(err, subscription.ErrPaymentNotFound):
			return unresolved("no local payment for " + ev.TransactionID)
		case errors.Is(err, subscription.ErrPaymentNotRefundable):
			res.Outcome = OutcomeSkipped
			res.Reason = "payment_not_refundable"
			return res, nil
		case err != nil:
			return nil, err
		}
		res.Outcome = OutcomeApplied
		return res, nil
	}

	res.Outcome = OutcomeIgnored
	res.Reason = ev.ProviderType
	return res, nil
}
