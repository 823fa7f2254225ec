package order

import (
	"context"
	"errors"
	"net/http"

	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/validate"
)

// webErr maps domain failures to responses. Anything unknown stays a 500.
func webErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return weberr.NotFound(err)
	case errors.Is(err, ErrForbidden):
		return weberr.Forbidden(err)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyVerified):
		return weberr.Conflict(err)
	case errors.Is(err, ErrExpertNotFound), errors.Is(err, ErrNoExpert), errors.Is(err, ErrNotAnExpert), errors.Is(err, ErrStudentRequired),
		errors.Is(err, ErrAmountMismatch):
		return weberr.Invalid(err)
	}
	return err
}

func caller(ctx context.Context) (claims.Claims, error) {
	clm, err := claims.Get(ctx)
	if err != nil {
		return claims.Claims{}, weberr.NotAuthorized(errors.New("user not authenticated"))
	}
	return clm, nil
}

func orderID(r *http.Request) (string, error) {
	id := web.Param(r, "id")
	if err := validate.CheckID(id); err != nil {
		return "", weberr.NotFound(err)
	}
	return id, nil
}

func HandleCreate(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}

		var on OrderNew
		if err := web.Decode(w, r, &on); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(on); err != nil {
			return weberr.Invalid(err)
		}

		o, err := svc.Create(ctx, clm, on)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, o, http.StatusCreated)
	}
}

func HandleList(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}

		q := r.URL.Query()
		f := Filter{
			StudentID: q.Get("studentId"),
			ExpertID:  q.Get("expertId"),
			Status:    Status(q.Get("status")),
			Limit:     web.QueryInt(r, "limit", 20),
			Offset:    web.QueryInt(r, "offset", 0),
		}

		ords, err := svc.List(ctx, clm, f)
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, ords, http.StatusOK)
	}
}

func HandleShow(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}
		id, err := orderID(r)
		if err != nil {
			return err
		}

		o, err := svc.Fetch(ctx, clm, id)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, o, http.StatusOK)
	}
}

func HandleUpdate(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}
		id, err := orderID(r)
		if err != nil {
			return err
		}

		var up OrderUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(up); err != nil {
			return weberr.Invalid(err)
		}

		o, err := svc.Update(ctx, clm, id, up)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, o, http.StatusOK)
	}
}

func HandleVerifyPayment(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id, err := orderID(r)
		if err != nil {
			return err
		}

		o, err := svc.VerifyPayment(ctx, id)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, o, http.StatusOK)
	}
}

func HandleRejectPayment(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id, err := orderID(r)
		if err != nil {
			return err
		}

		o, err := svc.RejectPayment(ctx, id)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, o, http.StatusOK)
	}
}

func HandleDeliver(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}
		id, err := orderID(r)
		if err != nil {
			return err
		}

		var d Delivery
		if r.ContentLength != 0 {
			if err := web.Decode(w, r, &d); err != nil {
				return weberr.BadRequest(err)
			}
			if err := validate.Check(d); err != nil {
				return weberr.Invalid(err)
			}
		}

		o, err := svc.Deliver(ctx, clm, id, d)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, o, http.StatusOK)
	}
}
