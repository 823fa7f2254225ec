package withdrawal

import (
	"context"
	"errors"
	"net/http"

	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/core/expert"
	"github.com/penguhub/marketplace/core/user"
	"github.com/penguhub/marketplace/validate"
)

// webErr maps business rule violations to 400 and missing rows to 404.
func webErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, expert.ErrNotFound), errors.Is(err, user.ErrNotFound):
		return weberr.NotFound(err)
	case errors.Is(err, ErrInvalidTransition):
		return weberr.Conflict(err)
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrBelowMinimum),
		errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrMonthlyCap),
		errors.Is(err, ErrAlreadyRejected),
		errors.Is(err, ErrNotPending):
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

func filter(r *http.Request) Filter {
	return Filter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  web.QueryInt(r, "limit", 20),
		Offset: web.QueryInt(r, "offset", 0),
	}
}

func HandleRequest(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}

		var wn WithdrawalNew
		if err := web.Decode(w, r, &wn); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(wn); err != nil {
			return weberr.Invalid(err)
		}

		wd, err := svc.RequestExpert(ctx, clm.UserID, wn.Amount, wn.MethodID)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, wd, http.StatusCreated)
	}
}

func HandleList(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}

		f := filter(r)
		f.ExpertID = r.URL.Query().Get("expertId")

		ws, err := svc.ListExpert(ctx, clm, f)
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, ws, http.StatusOK)
	}
}

func HandleUpdate(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.NotFound(err)
		}

		var wu WithdrawalUp
		if err := web.Decode(w, r, &wu); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(wu); err != nil {
			return weberr.Invalid(err)
		}

		wd, err := svc.UpdateExpertStatus(ctx, id, wu.Status, wu.Note)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, wd, http.StatusOK)
	}
}

func HandleStudentRequest(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}

		var sn StudentWithdrawalNew
		if err := web.Decode(w, r, &sn); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(sn); err != nil {
			return weberr.Invalid(err)
		}

		wd, err := svc.RequestStudent(ctx, clm.UserID, sn.AmountCredits, sn.Method, sn.Phone)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, wd, http.StatusCreated)
	}
}

func HandleStudentList(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := caller(ctx)
		if err != nil {
			return err
		}

		f := filter(r)
		f.StudentID = r.URL.Query().Get("studentId")

		ws, err := svc.ListStudent(ctx, clm, f)
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, ws, http.StatusOK)
	}
}

func HandleApprove(svc *Service) web.Handler {
	return decide(svc.ApproveStudent)
}

func HandleReject(svc *Service) web.Handler {
	return decide(svc.RejectStudent)
}

func decide(fn func(context.Context, string) (StudentWithdrawal, error)) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var d Decision
		if err := web.Decode(w, r, &d); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(d); err != nil {
			return weberr.Invalid(err)
		}

		wd, err := fn(ctx, d.WithdrawalID)
		if err != nil {
			return webErr(err)
		}
		return web.Respond(ctx, w, wd, http.StatusOK)
	}
}
