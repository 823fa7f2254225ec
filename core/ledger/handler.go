package ledger

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/validate"
)

// HandleList lists every transaction for admins, who may filter by party or
// order. Other callers only see transactions they are a party of.
func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		q := r.URL.Query()
		f := Filter{
			Limit:  web.QueryInt(r, "limit", 50),
			Offset: web.QueryInt(r, "offset", 0),
		}
		if clm.IsAdmin() {
			f.OrderID = q.Get("orderId")
			f.ExpertID = q.Get("expertId")
			f.StudentID = q.Get("studentId")
		} else {
			f.Party = clm.UserID
		}

		txs, err := List(ctx, db, f)
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, txs, http.StatusOK)
	}
}

func HandleListByOrder(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(err)
		}

		txs, err := List(ctx, db, Filter{OrderID: id, Limit: 200})
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, txs, http.StatusOK)
	}
}
