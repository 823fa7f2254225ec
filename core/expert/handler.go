package expert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/random"
	"github.com/penguhub/marketplace/validate"
)

func HandleShowCurrent(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}
		return show(ctx, w, db, clm.UserID)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(err)
		}
		if !claims.IsAdmin(ctx) && !claims.IsUser(ctx, id) {
			return weberr.Forbidden(fmt.Errorf("expert[%s] is not visible to the caller", id))
		}
		return show(ctx, w, db, id)
	}
}

func show(ctx context.Context, w http.ResponseWriter, db *sqlx.DB, id string) error {
	e, err := Fetch(ctx, db, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return weberr.NotFound(err)
		}
		return err
	}
	return web.Respond(ctx, w, e, http.StatusOK)
}

func HandleCreateMethod(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var mn PayoutMethodNew
		if err := web.Decode(w, r, &mn); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(mn); err != nil {
			return weberr.Invalid(err)
		}

		short, err := random.ShortID(8)
		if err != nil {
			return fmt.Errorf("generating short id: %w", err)
		}

		m := PayoutMethod{
			ID:        validate.GenerateID(),
			ShortID:   short,
			Type:      mn.Type,
			Details:   mn.Details,
			IsDefault: mn.IsDefault,
		}

		e, err := AddPayoutMethod(ctx, db, clm.UserID, m, time.Now().UTC())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}
		return web.Respond(ctx, w, e, http.StatusCreated)
	}
}

func HandleDeleteMethod(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		e, err := RemovePayoutMethod(ctx, db, clm.UserID, web.Param(r, "id"), time.Now().UTC())
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMethodNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}
		return web.Respond(ctx, w, e, http.StatusOK)
	}
}
