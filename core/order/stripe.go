package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const stripeMaxBody = 65536

// HandleStripeWebhook verifies the payment of an order when Stripe reports a
// paid checkout whose metadata names it and whose total matches the order.
// Stripe retries deliveries, so already verified orders are acknowledged.
func HandleStripeWebhook(svc *Service, secret string, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := io.ReadAll(io.LimitReader(r.Body, stripeMaxBody))
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			return weberr.BadRequest(errors.New("received stripe event is not signed"))
		}

		event, err := webhook.ConstructEvent(b, sig, secret)
		if err != nil {
			return weberr.BadRequest(fmt.Errorf("cannot construct stripe event: %w", err))
		}

		if event.Type != "checkout.session.completed" {
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		var session stripe.CheckoutSession
		if err = json.Unmarshal(event.Data.Raw, &session); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode stripe event: %w", err))
		}

		id := session.Metadata["order_id"]
		if id == "" {
			log.WithField("session_id", session.ID).Warn("stripe checkout without order id")
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			log.WithFields(logrus.Fields{
				"order_id":       id,
				"session_id":     session.ID,
				"payment_status": session.PaymentStatus,
			}).Info("stripe checkout completed without payment")
			return web.Respond(ctx, w, nil, http.StatusNoContent)
		}

		_, err = svc.VerifyPaid(ctx, id, session.AmountTotal)
		switch {
		case errors.Is(err, ErrAlreadyVerified):
			log.WithField("order_id", id).Info("stripe retried an already verified payment")
		case errors.Is(err, ErrAmountMismatch):
			log.WithError(err).WithField("session_id", session.ID).Warn("stripe checkout amount differs from the order")
		case err != nil:
			return webErr(fmt.Errorf("verifying payment of order[%s] from stripe session[%s]: %w", id, session.ID, err))
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
