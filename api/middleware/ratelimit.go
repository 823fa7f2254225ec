package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/rate"
)

// RateLimit throttles a route per authenticated user, or per remote address
// for anonymous callers.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			key := clientKey(ctx, r)
			if !lim.Check(key) {
				return weberr.TooManyRequests(errors.New("rate limit exceeded"),
					weberr.WithFields(map[string]any{"client": key}))
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func clientKey(ctx context.Context, r *http.Request) string {
	if clm, err := claims.Get(ctx); err == nil {
		return "user:" + clm.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
