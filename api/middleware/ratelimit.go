package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ramadhanis/academy/api/web"
	"github.com/ramadhanis/academy/api/weberr"
	"github.com/ramadhanis/academy/core/claims"
	"github.com/ramadhanis/academy/rate"
)

// RateLimit throttles per client. Authenticated requests are keyed by
// user id, anonymous ones by remote host, so one chatty player cannot
// starve the rest of the endpoint.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			key := ""
			if clm, err := claims.Get(ctx); err == nil {
				key = clm.UserID
			} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				key = host
			} else {
				key = r.RemoteAddr
			}

			if !lim.Check(key) {
				err := errors.New("rate limit exceeded")
				return weberr.NewError(err, err.Error(), http.StatusTooManyRequests)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
