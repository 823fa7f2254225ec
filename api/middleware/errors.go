package middleware

import (
	"context"
	"net/http"

	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/sirupsen/logrus"
)

// Errors renders errors returned by handlers. Errors carrying a weberr
// response are sent as-is and logged at warn level; anything else becomes a
// generic 500.
func Errors(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			fields := logrus.Fields{
				"req_id":  ContextRequestID(ctx),
				"message": err.Error(),
			}
			if f, ok := weberr.Fields(err); ok {
				for k, v := range f {
					fields[k] = v
				}
			}

			if body, code, ok := weberr.Response(err); ok {
				entry := log.WithFields(fields).WithField("statuscode", code)
				if code >= http.StatusInternalServerError {
					entry.Error("ERROR")
				} else {
					entry.Warn("request failed")
				}
				return web.Respond(ctx, w, body, code)
			}

			log.WithFields(fields).Error("ERROR")

			er := weberr.ErrorResponse{Error: http.StatusText(http.StatusInternalServerError)}
			return web.Respond(ctx, w, er, http.StatusInternalServerError)
		}
		return h
	}
	return m
}
