package settings

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/validate"
)

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		s, err := Fetch(ctx, db)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}
		return web.Respond(ctx, w, s, http.StatusOK)
	}
}

func HandleUpdate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var su SettingsUp
		if err := web.Decode(w, r, &su); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(su); err != nil {
			return weberr.Invalid(err)
		}

		s, err := Update(ctx, db, *su.CommissionRate, time.Now().UTC())
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, s, http.StatusOK)
	}
}
