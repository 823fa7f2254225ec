package order

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const whSecret = "whsec_test"

func stripeEvent(t *testing.T, typ, orderID string) []byte {
	return checkoutEvent(t, typ, orderID, stripe.CheckoutSessionPaymentStatusPaid, 200)
}

func checkoutEvent(t *testing.T, typ, orderID string, status stripe.CheckoutSessionPaymentStatus, total int64) []byte {
	t.Helper()

	raw := map[string]any{
		"id":             "cs_test_1",
		"object":         "checkout.session",
		"payment_status": status,
		"amount_total":   total,
	}
	if orderID != "" {
		raw["metadata"] = map[string]string{"order_id": orderID}
	}
	obj, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}

	evt := map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        typ,
		"data":        map[string]json.RawMessage{"object": obj},
	}
	b, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func serveStripe(t *testing.T, svc *Service, payload []byte, sign bool) int {
	t.Helper()

	r := httptest.NewRequest(http.MethodPost, "/orders/stripe/webhook", bytes.NewReader(payload))
	if sign {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    whSecret,
			Timestamp: time.Now(),
		})
		r.Header.Set("Stripe-Signature", signed.Header)
	}
	w := httptest.NewRecorder()

	log := logrus.New()
	log.SetOutput(io.Discard)

	if err := HandleStripeWebhook(svc, whSecret, log)(context.Background(), w, r); err != nil {
		return weberr.Status(err)
	}
	return w.Code
}

func TestStripeWebhook(t *testing.T) {
	t.Run("completed checkout verifies the order", func(t *testing.T) {
		svc, mock, rec := newService(t)
		o := Order{ID: orderID1, RequestID: "req-1", StudentID: studentID, Amount: 200, PaymentStatus: PaymentPending, Status: PendingVerification}

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(orderID1).WillReturnRows(orderRows(o))
		mock.ExpectExec(`UPDATE orders SET`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		if got := serveStripe(t, svc, stripeEvent(t, "checkout.session.completed", orderID1), true); got != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", got)
		}
		if len(rec.Events()) != 2 {
			t.Fatalf("expected order and transaction events, got %v", rec.Names())
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("retried delivery is acknowledged", func(t *testing.T) {
		svc, mock, rec := newService(t)
		o := Order{ID: orderID1, StudentID: studentID, Amount: 200, PaymentStatus: PaymentVerified, Status: PaidConfirmed}

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(orderID1).WillReturnRows(orderRows(o))
		mock.ExpectRollback()

		if got := serveStripe(t, svc, stripeEvent(t, "checkout.session.completed", orderID1), true); got != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", got)
		}
		if len(rec.Events()) != 0 {
			t.Fatalf("expected no events, got %v", rec.Names())
		}
	})

	t.Run("unpaid checkout is not verified", func(t *testing.T) {
		svc, mock, rec := newService(t)
		payload := checkoutEvent(t, "checkout.session.completed", orderID1, stripe.CheckoutSessionPaymentStatusUnpaid, 200)
		if got := serveStripe(t, svc, payload, true); got != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", got)
		}
		if len(rec.Events()) != 0 {
			t.Fatalf("expected no events, got %v", rec.Names())
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("amount mismatch is not verified", func(t *testing.T) {
		svc, mock, rec := newService(t)
		o := Order{ID: orderID1, StudentID: studentID, Amount: 200, PaymentStatus: PaymentPending, Status: PendingVerification}

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WithArgs(orderID1).WillReturnRows(orderRows(o))
		mock.ExpectRollback()

		payload := checkoutEvent(t, "checkout.session.completed", orderID1, stripe.CheckoutSessionPaymentStatusPaid, 1)
		if got := serveStripe(t, svc, payload, true); got != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", got)
		}
		if len(rec.Events()) != 0 {
			t.Fatalf("expected no events, got %v", rec.Names())
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unsigned", func(t *testing.T) {
		svc, _, _ := newService(t)
		if got := serveStripe(t, svc, stripeEvent(t, "checkout.session.completed", orderID1), false); got != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", got)
		}
	})

	t.Run("other events are ignored", func(t *testing.T) {
		svc, mock, _ := newService(t)
		if got := serveStripe(t, svc, stripeEvent(t, "payment_intent.created", orderID1), true); got != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("checkout without order", func(t *testing.T) {
		svc, _, _ := newService(t)
		if got := serveStripe(t, svc, stripeEvent(t, "checkout.session.completed", ""), true); got != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", got)
		}
	})
}
