package ledger

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/user"
	"github.com/penguhub/marketplace/database"
	"github.com/penguhub/marketplace/realtime"
	"github.com/penguhub/marketplace/validate"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Outcomes of a CPX postback. All of them are answered with 200 so the
// provider stops retrying.
const (
	CPXCredited        = "credited"
	CPXReversed        = "reversed"
	CPXDuplicate       = "duplicate"
	CPXAlreadyReversed = "already reversed"
	CPXUnknownTrans    = "unknown transaction"
	CPXUnknownUser     = "unknown user"
	CPXInvalidHash     = "invalid hash"
	CPXIgnored         = "ignored"
)

const (
	cpxCompleted = "1"
	cpxReversed  = "2"
)

// Postback is the query of a CPX Research callback.
type Postback struct {
	Status      string
	TransID     string
	UserID      string
	AmountLocal string
	SecureHash  string
}

func parsePostback(r *http.Request) Postback {
	q := r.URL.Query()
	return Postback{
		Status:      q.Get("status"),
		TransID:     q.Get("trans_id"),
		UserID:      q.Get("user_id"),
		AmountLocal: q.Get("amount_local"),
		SecureHash:  q.Get("secure_hash"),
	}
}

// SecureHash is the signature CPX attaches to a postback.
func SecureHash(transID, secret string) string {
	sum := md5.Sum([]byte(transID + "-" + secret))
	return hex.EncodeToString(sum[:])
}

func (p Postback) Verify(secret string) bool {
	want := SecureHash(p.TransID, secret)
	got := strings.ToLower(p.SecureHash)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Credits converts the local amount into whole credits.
func (p Postback) Credits() int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(p.AmountLocal))
	if err != nil {
		return 0
	}
	return d.Round(0).IntPart()
}

// ApplyPostback records a verified postback. It returns the outcome and, when
// the ledger changed, the affected transaction.
func ApplyPostback(ctx context.Context, db *sqlx.DB, p Postback, now time.Time) (string, *Transaction, error) {
	switch p.Status {
	case cpxCompleted:
		return credit(ctx, db, p, now)
	case cpxReversed:
		return reverse(ctx, db, p, now)
	}
	return CPXIgnored, nil, nil
}

var (
	errDuplicate = errors.New("duplicate postback")
	errSkip      = errors.New("nothing to do")
)

func credit(ctx context.Context, db *sqlx.DB, p Postback, now time.Time) (string, *Transaction, error) {
	credits := p.Credits()
	if credits <= 0 || validate.CheckID(p.UserID) != nil {
		return CPXIgnored, nil, nil
	}

	t := Transaction{
		ID:          validate.GenerateID(),
		StudentID:   Ref(p.UserID),
		Type:        Reward,
		Amount:      credits,
		Description: fmt.Sprintf("CPX survey reward %s", p.TransID),
		Status:      Completed,
		ExternalID:  Ref(p.TransID),
		CreatedAt:   now,
	}

	outcome := CPXCredited
	err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		if _, err := FetchByExternalIDForUpdate(ctx, tx, p.TransID); err == nil {
			return errDuplicate
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if _, err := user.FetchForUpdate(ctx, tx, p.UserID); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				outcome = CPXUnknownUser
				return errSkip
			}
			return err
		}

		if err := Create(ctx, tx, t); err != nil {
			if database.IsUniqueViolation(err) {
				return errDuplicate
			}
			return err
		}
		_, err := user.AddCredits(ctx, tx, p.UserID, credits, now)
		return err
	})

	switch {
	case errors.Is(err, errDuplicate):
		return CPXDuplicate, nil, nil
	case errors.Is(err, errSkip):
		return outcome, nil, nil
	case err != nil:
		return "", nil, fmt.Errorf("crediting cpx reward[%s]: %w", p.TransID, err)
	}
	return outcome, &t, nil
}

func reverse(ctx context.Context, db *sqlx.DB, p Postback, now time.Time) (string, *Transaction, error) {
	outcome := CPXReversed
	var t Transaction

	err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		var err error
		t, err = FetchByExternalIDForUpdate(ctx, tx, p.TransID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				outcome = CPXUnknownTrans
				return errSkip
			}
			return err
		}
		if t.Status == Chargeback {
			outcome = CPXAlreadyReversed
			return errSkip
		}

		if err := MarkChargeback(ctx, tx, t.ID); err != nil {
			return err
		}
		if t.StudentID != nil {
			if _, err := user.AddCredits(ctx, tx, *t.StudentID, -t.Amount, now); err != nil && !errors.Is(err, user.ErrNotFound) {
				return err
			}
		}
		return nil
	})

	switch {
	case errors.Is(err, errSkip):
		return outcome, nil, nil
	case err != nil:
		return "", nil, fmt.Errorf("reversing cpx reward[%s]: %w", p.TransID, err)
	}

	t.Status = Chargeback
	t.Description = chargebackPrefix + t.Description
	return outcome, &t, nil
}

type cpxResponse struct {
	Status string `json:"status"`
}

// HandleCPX answers CPX Research postbacks. Only a failure to write the
// ledger is reported as an error; every other outcome is a 200.
func HandleCPX(db *sqlx.DB, secret string, ev realtime.Emitter, log logrus.FieldLogger) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		p := parsePostback(r)
		entry := log.WithFields(logrus.Fields{
			"trans_id": p.TransID,
			"user_id":  p.UserID,
			"status":   p.Status,
		})

		if p.TransID == "" || !p.Verify(secret) {
			entry.Warn("cpx postback with invalid hash")
			return web.Respond(ctx, w, cpxResponse{CPXInvalidHash}, http.StatusOK)
		}

		outcome, t, err := ApplyPostback(ctx, db, p, time.Now().UTC())
		if err != nil {
			return weberr.InternalError(err)
		}

		entry.WithField("outcome", outcome).Info("cpx postback")
		if t != nil {
			ev.Emit(ctx, realtime.Event{Name: realtime.EventTransactionCreated, Rooms: t.Rooms(), Data: t})
		}
		return web.Respond(ctx, w, cpxResponse{outcome}, http.StatusOK)
	}
}
