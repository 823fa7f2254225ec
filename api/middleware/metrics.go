package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/metrics"
	"github.com/zenazn/goji/web/mutil"
)

// Metrics records request latency labelled by the route template, so ids in
// paths do not explode the label set.
func Metrics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			route := "unmatched"
			if cr := mux.CurrentRoute(r); cr != nil {
				if tpl, err := cr.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			lw := mutil.WrapWriter(w)
			start := time.Now()
			err := handler(ctx, lw, r)

			status := lw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RequestDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
		return h
	}
	return m
}
