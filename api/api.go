package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api/background"
	"github.com/penguhub/marketplace/api/middleware"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/auth"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/core/expert"
	"github.com/penguhub/marketplace/core/ledger"
	"github.com/penguhub/marketplace/core/notification"
	"github.com/penguhub/marketplace/core/order"
	"github.com/penguhub/marketplace/core/settings"
	"github.com/penguhub/marketplace/core/withdrawal"
	"github.com/penguhub/marketplace/database"
	"github.com/penguhub/marketplace/rate"
	"github.com/penguhub/marketplace/realtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin          string
	Log                 logrus.FieldLogger
	DB                  *sqlx.DB
	Verifier            *auth.Verifier
	Background          *background.Background
	Realtime            *realtime.Service
	CPXSecret           string
	StripeWebhookSecret string
	WithdrawalLimiter   *rate.Limiter
	TimeZone            *time.Location
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())
	a.mw = append(a.mw, middleware.Metrics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	notifier := notification.NewNotifier(cfg.DB, cfg.Realtime, cfg.Background, cfg.Log)
	orders := order.NewService(cfg.DB, cfg.Realtime, cfg.Log)
	withdrawals := withdrawal.NewService(cfg.DB, cfg.Realtime, notifier, cfg.TimeZone, cfg.Log)

	authen := auth.Authenticate(cfg.Verifier)
	admin := auth.Admin()
	expertOnly := auth.Role(claims.RoleExpert)
	studentOnly := auth.Role(claims.RoleStudent)
	throttle := middleware.RateLimit(cfg.WithdrawalLimiter)

	health := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		if err := database.StatusCheck(ctx, cfg.DB); err != nil {
			return weberr.NewError(err, "database not ready", http.StatusServiceUnavailable)
		}
		return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
	}

	a.Handle(http.MethodGet, "/health", health)
	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	a.Handle(http.MethodGet, "/ws", realtime.HandleSocket(cfg.Realtime, orders, cfg.CorsOrigin, cfg.Log), authen)

	a.Handle(http.MethodGet, "/settings", settings.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodPut, "/settings", settings.HandleUpdate(cfg.DB), authen, admin)

	a.Handle(http.MethodGet, "/experts/me", expert.HandleShowCurrent(cfg.DB), authen, expertOnly)
	a.Handle(http.MethodPost, "/experts/me/payout-methods", expert.HandleCreateMethod(cfg.DB), authen, expertOnly)
	a.Handle(http.MethodDelete, "/experts/me/payout-methods/{id}", expert.HandleDeleteMethod(cfg.DB), authen, expertOnly)
	a.Handle(http.MethodGet, "/experts/{id}", expert.HandleShow(cfg.DB), authen)

	a.Handle(http.MethodPost, "/orders/stripe/webhook", order.HandleStripeWebhook(orders, cfg.StripeWebhookSecret, cfg.Log))
	a.Handle(http.MethodPost, "/orders", order.HandleCreate(orders), authen, auth.Role(claims.RoleStudent, claims.RoleAdmin))
	a.Handle(http.MethodGet, "/orders", order.HandleList(orders), authen)
	a.Handle(http.MethodGet, "/orders/{id}", order.HandleShow(orders), authen)
	a.Handle(http.MethodPut, "/orders/{id}", order.HandleUpdate(orders), authen)
	a.Handle(http.MethodPut, "/orders/{id}/payment/verify", order.HandleVerifyPayment(orders), authen, admin)
	a.Handle(http.MethodPut, "/orders/{id}/payment/reject", order.HandleRejectPayment(orders), authen, admin)
	a.Handle(http.MethodPut, "/orders/{id}/deliver", order.HandleDeliver(orders), authen, expertOnly)
	a.Handle(http.MethodGet, "/orders/{id}/transactions", ledger.HandleListByOrder(cfg.DB), authen, admin)

	a.Handle(http.MethodGet, "/transactions/cpx", ledger.HandleCPX(cfg.DB, cfg.CPXSecret, cfg.Realtime, cfg.Log))
	a.Handle(http.MethodGet, "/transactions", ledger.HandleList(cfg.DB), authen)

	a.Handle(http.MethodGet, "/notifications", notification.HandleList(cfg.DB), authen)
	a.Handle(http.MethodPut, "/notifications/{id}/read", notification.HandleMarkRead(cfg.DB), authen)

	a.Handle(http.MethodPost, "/withdrawals/student/request", withdrawal.HandleStudentRequest(withdrawals), authen, studentOnly, throttle)
	a.Handle(http.MethodGet, "/withdrawals/student", withdrawal.HandleStudentList(withdrawals), authen, auth.Role(claims.RoleStudent, claims.RoleAdmin))
	a.Handle(http.MethodPost, "/withdrawals/admin/approve", withdrawal.HandleApprove(withdrawals), authen, admin)
	a.Handle(http.MethodPost, "/withdrawals/admin/reject", withdrawal.HandleReject(withdrawals), authen, admin)
	a.Handle(http.MethodPost, "/withdrawals", withdrawal.HandleRequest(withdrawals), authen, expertOnly, throttle)
	a.Handle(http.MethodGet, "/withdrawals", withdrawal.HandleList(withdrawals), authen, auth.Role(claims.RoleExpert, claims.RoleAdmin))
	a.Handle(http.MethodPut, "/withdrawals/{id}", withdrawal.HandleUpdate(withdrawals), authen, admin)

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
